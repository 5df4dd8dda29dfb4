// Command useradd provisions user records in the configured chat store and
// prints a bearer token for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"pdfchat/internal/auth"
	"pdfchat/internal/config"
	"pdfchat/internal/storage"
)

func main() {
	var (
		configPath string
		userID     string
		printToken bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("PDFCHAT_CONFIG"), "path to config.json")
	flag.StringVar(&userID, "id", "", "user id to create (a new ObjectID hex when empty)")
	flag.BoolVar(&printToken, "token", true, "print a signed bearer token for the user")
	flag.Parse()

	config.LoadEnvFile()
	if err := run(configPath, userID, printToken); err != nil {
		log.Fatalf("useradd: %v", err)
	}
}

func run(configPath, userID string, printToken bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if userID == "" {
		userID = primitive.NewObjectID().Hex()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := storage.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close(context.Background())

	if err := backend.CreateUser(ctx, userID); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Printf("user: %s\n", userID)

	if printToken {
		ttl := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
		token, err := auth.NewService(cfg.Auth.JWTSecret, ttl).IssueToken(userID)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Printf("token: %s\n", token)
	}
	return nil
}

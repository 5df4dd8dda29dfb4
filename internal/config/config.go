package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreSQLite = "sqlite3"
	StoreMySQL  = "mysql"
	StoreMongo  = "mongo"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Mongo       MongoConfig               `json:"mongo"`
	Redis       RedisConfig               `json:"redis"`
	Auth        AuthConfig                `json:"auth"`
	CORS        CORSConfig                `json:"cors"`
	QA          QAConfig                  `json:"qa"`
	Events      EventsConfig              `json:"events"`
	Log         LogConfig                 `json:"log"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" env:"PDFCHAT_SERVER_ADDRESS"`
	// Store selects the chat backend: sqlite3, mysql or mongo.
	Store string `json:"store" env:"PDFCHAT_STORE"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type MongoConfig struct {
	URI        string `json:"uri" env:"PDFCHAT_MONGO_URI"`
	Database   string `json:"database" env:"PDFCHAT_MONGO_DATABASE"`
	Collection string `json:"collection" env:"PDFCHAT_MONGO_COLLECTION"`
}

type RedisConfig struct {
	Enabled         bool   `json:"enabled" env:"PDFCHAT_REDIS_ENABLED"`
	Host            string `json:"host" env:"PDFCHAT_REDIS_HOST"`
	Port            int    `json:"port" env:"PDFCHAT_REDIS_PORT"`
	Username        string `json:"username" env:"PDFCHAT_REDIS_USERNAME"`
	Password        string `json:"password" env:"PDFCHAT_REDIS_PASSWORD"`
	DB              int    `json:"db" env:"PDFCHAT_REDIS_DB"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds" env:"PDFCHAT_REDIS_CACHE_TTL"`
}

type AuthConfig struct {
	// JWTSecret is shared with the upstream service that issues user tokens.
	JWTSecret       string `json:"jwt_secret" env:"PDFCHAT_JWT_SECRET"`
	TokenTTLMinutes int    `json:"token_ttl_minutes" env:"PDFCHAT_TOKEN_TTL_MINUTES"`
}

type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" env:"PDFCHAT_CORS_ORIGINS" envSeparator:","`
}

type QAConfig struct {
	BaseURL        string `json:"base_url" env:"PDFCHAT_QA_URL"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"PDFCHAT_QA_TIMEOUT"`
}

type EventsConfig struct {
	RabbitMQURL string `json:"rabbitmq_url" env:"PDFCHAT_RABBITMQ_URL"`
	Queue       string `json:"queue" env:"PDFCHAT_EVENTS_QUEUE"`
}

type LogConfig struct {
	Level       string `json:"level" env:"PDFCHAT_LOG_LEVEL"`
	Development bool   `json:"development" env:"PDFCHAT_LOG_DEVELOPMENT"`
}

// LoadEnvFile loads a .env file from the working directory when one exists.
func LoadEnvFile() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
}

// Load reads configuration from the provided path (defaults to config.json) and
// applies PDFCHAT_* environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{}
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if sqliteCfg, ok := cfg.Databases[StoreSQLite]; ok && IsSQLiteFilePath(sqliteCfg.DSN) && !filepath.IsAbs(sqliteCfg.DSN) {
		sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), sqliteCfg.DSN)
		cfg.Databases[StoreSQLite] = sqliteCfg
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":3000"
	}
	c.BasicConfig.Store = strings.ToLower(strings.TrimSpace(c.BasicConfig.Store))
	if c.BasicConfig.Store == "" || c.BasicConfig.Store == "sqlite" {
		c.BasicConfig.Store = StoreSQLite
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases[StoreSQLite]; !ok && c.BasicConfig.Store == StoreSQLite {
		c.Databases[StoreSQLite] = DatabaseConfig{DSN: "data/pdfchat.db"}
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://127.0.0.1:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "pdfchat"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "users"
	}
	if c.Redis.CacheTTLSeconds <= 0 {
		c.Redis.CacheTTLSeconds = 300
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		c.Auth.TokenTTLMinutes = 60
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if c.QA.TimeoutSeconds <= 0 {
		c.QA.TimeoutSeconds = 5
	}
	if c.Events.Queue == "" {
		c.Events.Queue = "chat_events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.BasicConfig.Store {
	case StoreSQLite, StoreMySQL, StoreMongo:
	default:
		return fmt.Errorf("unsupported store: %s", c.BasicConfig.Store)
	}
	if c.BasicConfig.Store != StoreMongo {
		if _, ok := c.Databases[c.BasicConfig.Store]; !ok {
			return fmt.Errorf("database config for %s not found", c.BasicConfig.Store)
		}
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret must be configured")
	}
	return nil
}

// IsSQLiteFilePath reports whether a sqlite DSN names a file on disk.
func IsSQLiteFilePath(dsn string) bool {
	return dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:")
}

package storage

import (
	"context"
	"fmt"

	"pdfchat/internal/config"
	"pdfchat/internal/models"
)

// Backend is a chat store that can also provision users and be closed.
type Backend interface {
	CreateUser(ctx context.Context, userID string) error
	CheckUser(ctx context.Context, userID string) error
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
	GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
	SaveChat(ctx context.Context, userID string, chat *models.Chat) (bool, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var (
	_ Backend = (*SQLStore)(nil)
	_ Backend = (*MongoStore)(nil)
)

// Connect opens the backend selected by basic_config.store. Relational stores are
// migrated before they are returned.
func Connect(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.BasicConfig.Store {
	case config.StoreMongo:
		store, err := OpenMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreSQLite, config.StoreMySQL:
		db, err := Open(cfg.BasicConfig.Store, cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, cfg.BasicConfig.Store); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.BasicConfig.Store)
	}
}

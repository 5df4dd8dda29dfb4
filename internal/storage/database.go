package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pdfchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the relational database configured for dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		if config.IsSQLiteFilePath(dbCfg.DSN) {
			path, _, _ := strings.Cut(dbCfg.DSN, "?")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite allows a single writer; ":memory:" databases are also per connection.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chats (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				chat_id TEXT NOT NULL,
				chat_name TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE(user_id, chat_id),
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_row_id INTEGER NOT NULL,
				position INTEGER NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				FOREIGN KEY(chat_row_id) REFERENCES chats(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages(chat_row_id, position)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(64) NOT NULL,
				created_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chats (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				user_id VARCHAR(64) NOT NULL,
				chat_id VARCHAR(128) NOT NULL,
				chat_name TEXT NOT NULL,
				created_at DATETIME(3) NOT NULL,
				updated_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_user_chat (user_id, chat_id),
				CONSTRAINT fk_chats_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				chat_row_id BIGINT UNSIGNED NOT NULL,
				position INT NOT NULL,
				role VARCHAR(16) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				timestamp DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_chat_messages_chat (chat_row_id, position),
				CONSTRAINT fk_chat_messages_chat FOREIGN KEY (chat_row_id) REFERENCES chats(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/config"
	"pdfchat/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			config.StoreSQLite: {DSN: ":memory:"},
		},
	}
	db, err := Open(config.StoreSQLite, cfg)
	require.NoError(t, err, "open db")
	require.NoError(t, Migrate(db, config.StoreSQLite), "migrate db")
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T, users ...string) *SQLStore {
	t.Helper()
	store := NewSQLStore(openTestDB(t))
	for _, u := range users {
		require.NoError(t, store.CreateUser(context.Background(), u))
	}
	return store
}

func testChat(id, name string, ts time.Time, contents ...string) *models.Chat {
	chat := &models.Chat{ChatID: id, ChatName: name, CreatedAt: ts, History: []*models.Message{}}
	for i, c := range contents {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleBot
		}
		chat.History = append(chat.History, &models.Message{Role: role, Content: c, Timestamp: ts})
	}
	return chat
}

func TestSQLStoreCreateUserIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, "u1"))
	require.NoError(t, store.CreateUser(ctx, "u1"))
	assert.Error(t, store.CreateUser(ctx, " "))

	chats, err := store.ListChats(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, chats)
	assert.Empty(t, chats)
}

func TestSQLStoreSaveCreatesThenReplaces(t *testing.T) {
	store := newTestStore(t, "u1")
	ctx := context.Background()
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	created, err := store.SaveChat(ctx, "u1", testChat("c1", "Hello", first, "hi", "hello there"))
	require.NoError(t, err)
	assert.True(t, created)

	later := first.Add(time.Hour)
	created, err = store.SaveChat(ctx, "u1", testChat("c1", "Renamed", later, "only one"))
	require.NoError(t, err)
	assert.False(t, created)

	chat, err := store.GetChat(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", chat.ChatName)
	assert.True(t, chat.CreatedAt.Equal(first), "createdAt must survive a replace, got %v", chat.CreatedAt)
	require.Len(t, chat.History, 1)
	assert.Equal(t, "only one", chat.History[0].Content)
	assert.Equal(t, models.RoleUser, chat.History[0].Role)

	chats, err := store.ListChats(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestSQLStoreHistoryOrderPreserved(t *testing.T) {
	store := newTestStore(t, "u1")
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	_, err := store.SaveChat(ctx, "u1", testChat("c1", "Order", ts, "a", "b", "c", "d"))
	require.NoError(t, err)

	chat, err := store.GetChat(ctx, "u1", "c1")
	require.NoError(t, err)
	got := make([]string, 0, len(chat.History))
	for _, m := range chat.History {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	assert.Equal(t, models.RoleBot, chat.History[1].Role)
}

func TestSQLStoreListKeepsInsertionOrder(t *testing.T) {
	store := newTestStore(t, "u1", "u2")
	ctx := context.Background()
	ts := time.Now().UTC()

	for _, id := range []string{"c3", "c1", "c2"} {
		_, err := store.SaveChat(ctx, "u1", testChat(id, "chat "+id, ts))
		require.NoError(t, err)
	}
	_, err := store.SaveChat(ctx, "u2", testChat("other", "not mine", ts))
	require.NoError(t, err)

	chats, err := store.ListChats(ctx, "u1")
	require.NoError(t, err)
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ChatID)
	}
	assert.Equal(t, []string{"c3", "c1", "c2"}, ids)
}

func TestSQLStoreSameChatIDAcrossUsers(t *testing.T) {
	store := newTestStore(t, "u1", "u2")
	ctx := context.Background()
	ts := time.Now().UTC()

	_, err := store.SaveChat(ctx, "u1", testChat("shared", "mine", ts, "x"))
	require.NoError(t, err)
	created, err := store.SaveChat(ctx, "u2", testChat("shared", "theirs", ts, "y"))
	require.NoError(t, err)
	assert.True(t, created)

	chat, err := store.GetChat(ctx, "u1", "shared")
	require.NoError(t, err)
	assert.Equal(t, "mine", chat.ChatName)
}

func TestSQLStoreNotFound(t *testing.T) {
	store := newTestStore(t, "u1")
	ctx := context.Background()

	_, err := store.ListChats(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetChat(ctx, "ghost", "c1")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = store.GetChat(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.False(t, errors.Is(err, ErrUserNotFound))

	_, err = store.SaveChat(ctx, "ghost", testChat("c1", "x", time.Now(), "hi"))
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, store.DeleteChat(ctx, "ghost", "c1"), ErrUserNotFound)
	assert.ErrorIs(t, store.DeleteChat(ctx, "u1", "missing"), ErrChatNotFound)
}

func TestSQLStoreDeleteChat(t *testing.T) {
	store := newTestStore(t, "u1")
	ctx := context.Background()
	ts := time.Now().UTC()

	_, err := store.SaveChat(ctx, "u1", testChat("c1", "one", ts, "a", "b"))
	require.NoError(t, err)
	_, err = store.SaveChat(ctx, "u1", testChat("c2", "two", ts))
	require.NoError(t, err)

	require.NoError(t, store.DeleteChat(ctx, "u1", "c1"))

	_, err = store.GetChat(ctx, "u1", "c1")
	assert.ErrorIs(t, err, ErrChatNotFound)
	chats, err := store.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c2", chats[0].ChatID)

	var orphans int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM chat_messages`).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestSQLStoreEmptyHistory(t *testing.T) {
	store := newTestStore(t, "u1")
	ctx := context.Background()

	_, err := store.SaveChat(ctx, "u1", testChat("c1", "empty", time.Now().UTC()))
	require.NoError(t, err)
	chat, err := store.GetChat(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.NotNil(t, chat.History)
	assert.Empty(t, chat.History)
}

func TestSQLStoreLongChatNameAndID(t *testing.T) {
	store := newTestStore(t, "u1")
	ctx := context.Background()
	name := strings.Repeat("n", 300)
	id := strings.Repeat("i", 128)

	_, err := store.SaveChat(ctx, "u1", testChat(id, name, time.Now().UTC(), "hi"))
	require.NoError(t, err)
	chat, err := store.GetChat(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, name, chat.ChatName)
}

func TestSQLStoreCheckUser(t *testing.T) {
	store := newTestStore(t, "u1")
	ctx := context.Background()

	assert.NoError(t, store.CheckUser(ctx, "u1"))
	assert.ErrorIs(t, store.CheckUser(ctx, "ghost"), ErrUserNotFound)
	assert.ErrorIs(t, store.CheckUser(ctx, ""), ErrUserNotFound)
}

func TestOpenSQLiteCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "chats.db")
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			config.StoreSQLite: {DSN: path},
		},
	}
	db, err := Open(config.StoreSQLite, cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db, config.StoreSQLite))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSQLStorePing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestConnectSQLiteMigrates(t *testing.T) {
	cfg := &config.Config{
		BasicConfig: config.BasicConfig{Store: config.StoreSQLite},
		Databases: map[string]config.DatabaseConfig{
			config.StoreSQLite: {DSN: ":memory:"},
		},
	}
	ctx := context.Background()
	backend, err := Connect(ctx, cfg)
	require.NoError(t, err)
	defer backend.Close(ctx)

	require.NoError(t, backend.CreateUser(ctx, "u1"))
	created, err := backend.SaveChat(ctx, "u1", testChat("c1", "x", time.Now().UTC(), "hi"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestConnectUnknownStore(t *testing.T) {
	_, err := Connect(context.Background(), &config.Config{BasicConfig: config.BasicConfig{Store: "postgres"}})
	assert.Error(t, err)
}

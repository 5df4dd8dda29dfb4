package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"pdfchat/internal/models"
	"pdfchat/internal/redis"
)

// CachedStore puts a redis read-through cache in front of a Store. Cached entries
// are keyed by a per-user generation that every write increments, so a fill that
// raced with a write lands under a generation nobody reads anymore. Cache
// failures are logged and fall through to the store.
type CachedStore struct {
	store  Store
	client *redis.Client
	log    *zap.Logger
}

func NewCachedStore(store Store, client *redis.Client, log *zap.Logger) *CachedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{store: store, client: client, log: log.Named("chat_cache")}
}

// Ids are length-prefixed so that no two (user, chat) pairs share a key.
func genKey(userID string) string {
	return fmt.Sprintf("chats:gen:%d:%s", len(userID), userID)
}

func listKey(gen int64, userID string) string {
	return fmt.Sprintf("chats:list:%d:%d:%s", gen, len(userID), userID)
}

func chatKey(gen int64, userID, chatID string) string {
	return fmt.Sprintf("chats:chat:%d:%d:%s:%s", gen, len(userID), userID, chatID)
}

func (c *CachedStore) CheckUser(ctx context.Context, userID string) error {
	return c.store.CheckUser(ctx, userID)
}

func (c *CachedStore) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	gen, ok := c.generation(ctx, userID)
	if !ok {
		return c.store.ListChats(ctx, userID)
	}
	key := listKey(gen, userID)

	var cached []models.ChatSummary
	if c.load(ctx, key, &cached) {
		return cached, nil
	}
	chats, err := c.store.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, chats)
	return chats, nil
}

func (c *CachedStore) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	gen, ok := c.generation(ctx, userID)
	if !ok {
		return c.store.GetChat(ctx, userID, chatID)
	}
	key := chatKey(gen, userID, chatID)

	var cached models.Chat
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}
	chat, err := c.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, chat)
	return chat, nil
}

func (c *CachedStore) SaveChat(ctx context.Context, userID string, chat *models.Chat) (bool, error) {
	created, err := c.store.SaveChat(ctx, userID, chat)
	if err != nil {
		return false, err
	}
	c.bump(ctx, userID)
	return created, nil
}

func (c *CachedStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	if err := c.store.DeleteChat(ctx, userID, chatID); err != nil {
		return err
	}
	c.bump(ctx, userID)
	return nil
}

func (c *CachedStore) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// PingCache reports whether redis is reachable.
func (c *CachedStore) PingCache(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// generation returns the user's current cache generation. ok is false when it
// cannot be read, in which case the caller must bypass the cache.
func (c *CachedStore) generation(ctx context.Context, userID string) (int64, bool) {
	raw, err := c.client.Get(ctx, genKey(userID))
	if errors.Is(err, redis.ErrCacheMiss) {
		return 0, true
	}
	if err != nil {
		c.log.Warn("cache generation read failed", zap.String("user_id", userID), zap.Error(err))
		return 0, false
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.log.Warn("cache generation malformed", zap.String("user_id", userID), zap.String("value", raw))
		return 0, false
	}
	return gen, true
}

func (c *CachedStore) load(ctx context.Context, key string, dest any) bool {
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.log.Warn("cache decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *CachedStore) put(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.client.TTL()); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// bump moves the user to a new generation. Entries of older generations expire
// on their TTL.
func (c *CachedStore) bump(ctx context.Context, userID string) {
	if _, err := c.client.Incr(ctx, genKey(userID)); err != nil {
		c.log.Warn("cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pdfchat/internal/config"
	"pdfchat/internal/models"
)

// maxSaveAttempts bounds the set/push retry loop when a concurrent save
// creates the same chat between the two updates.
const maxSaveAttempts = 3

type userDocument struct {
	ID        interface{}    `bson:"_id"`
	Chats     []chatDocument `bson:"chats"`
	CreatedAt time.Time      `bson:"createdAt,omitempty"`
}

type chatDocument struct {
	ChatID    string            `bson:"chatId"`
	ChatName  string            `bson:"chatName"`
	History   []messageDocument `bson:"history"`
	CreatedAt time.Time         `bson:"createdAt"`
}

type messageDocument struct {
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

// MongoStore keeps each user as one document with an embedded chats array.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

// OpenMongo connects to MongoDB and returns a store bound to the configured collection.
func OpenMongo(ctx context.Context, cfg *config.Config) (*MongoStore, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(client, cfg.Mongo.Database, cfg.Mongo.Collection), nil
}

// NewMongoStore wraps an existing client.
func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client: client,
		users:  client.Database(database).Collection(collection),
	}
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateUser inserts an empty user document if none exists.
func (s *MongoStore) CreateUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	_, err := s.users.InsertOne(ctx, userDocument{
		ID:        userKey(userID),
		Chats:     []chatDocument{},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CheckUser returns ErrUserNotFound when there is no document for the user.
func (s *MongoStore) CheckUser(ctx context.Context, userID string) error {
	count, err := s.users.CountDocuments(ctx, bson.M{"_id": userKey(userID)}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListChats returns the chat summaries of a user in array order.
func (s *MongoStore) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	var doc userDocument
	err := s.users.FindOne(ctx,
		bson.M{"_id": userKey(userID)},
		options.FindOne().SetProjection(bson.M{"chats.history": 0}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("list chats: %w", err)
	}

	chats := make([]models.ChatSummary, 0, len(doc.Chats))
	for _, c := range doc.Chats {
		chats = append(chats, models.ChatSummary{
			ChatID:    c.ChatID,
			ChatName:  c.ChatName,
			CreatedAt: c.CreatedAt,
		})
	}
	return chats, nil
}

// GetChat returns one chat with its history.
func (s *MongoStore) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	var doc userDocument
	err := s.users.FindOne(ctx,
		bson.M{"_id": userKey(userID)},
		options.FindOne().SetProjection(bson.M{"chats": bson.M{"$elemMatch": bson.M{"chatId": chatID}}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if len(doc.Chats) == 0 {
		return nil, ErrChatNotFound
	}
	return doc.Chats[0].toModel(), nil
}

// SaveChat sets name and history on the matching array element, or pushes a new
// element when the user has no chat with that id. Both paths are single-document
// atomic updates.
func (s *MongoStore) SaveChat(ctx context.Context, userID string, chat *models.Chat) (bool, error) {
	if chat == nil || chat.ChatID == "" {
		return false, errors.New("chat id is required")
	}
	key := userKey(userID)
	doc := newChatDocument(chat)

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		res, err := s.users.UpdateOne(ctx,
			bson.M{"_id": key, "chats.chatId": chat.ChatID},
			bson.M{"$set": bson.M{
				"chats.$.chatName": doc.ChatName,
				"chats.$.history":  doc.History,
			}},
		)
		if err != nil {
			return false, fmt.Errorf("update chat: %w", err)
		}
		if res.MatchedCount > 0 {
			return false, nil
		}

		res, err = s.users.UpdateOne(ctx,
			bson.M{"_id": key, "chats.chatId": bson.M{"$ne": chat.ChatID}},
			bson.M{"$push": bson.M{"chats": doc}},
		)
		if err != nil {
			return false, fmt.Errorf("create chat: %w", err)
		}
		if res.MatchedCount > 0 {
			return true, nil
		}

		count, err := s.users.CountDocuments(ctx, bson.M{"_id": key})
		if err != nil {
			return false, fmt.Errorf("verify user: %w", err)
		}
		if count == 0 {
			return false, ErrUserNotFound
		}
	}
	return false, fmt.Errorf("save chat %s: concurrent modification", chat.ChatID)
}

// DeleteChat pulls the chat out of the user's array.
func (s *MongoStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userKey(userID)},
		bson.M{"$pull": bson.M{"chats": bson.M{"chatId": chatID}}},
	)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	if res.ModifiedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// userKey maps a user id to its _id value. Ids issued by the auth service are
// ObjectID hex strings; anything else is stored as a plain string.
func userKey(userID string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(userID); err == nil {
		return oid
	}
	return userID
}

func newChatDocument(chat *models.Chat) chatDocument {
	history := make([]messageDocument, 0, len(chat.History))
	for _, m := range chat.History {
		history = append(history, messageDocument{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC(),
		})
	}
	return chatDocument{
		ChatID:    chat.ChatID,
		ChatName:  chat.ChatName,
		History:   history,
		CreatedAt: chat.CreatedAt.UTC(),
	}
}

func (d chatDocument) toModel() *models.Chat {
	history := make([]*models.Message, 0, len(d.History))
	for _, m := range d.History {
		history = append(history, &models.Message{
			Role:      models.Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return &models.Chat{
		ChatID:    d.ChatID,
		ChatName:  d.ChatName,
		History:   history,
		CreatedAt: d.CreatedAt,
	}
}

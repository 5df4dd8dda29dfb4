package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdfchat/internal/events"
	"pdfchat/internal/models"
)

// maxDerivedNameUnits is counted in UTF-16 code units, the way browsers measure
// string length.
const maxDerivedNameUnits = 50

// ErrInvalidInput marks a save request whose history is missing or malformed.
var ErrInvalidInput = errors.New("invalid history format")

// Store is the persistence contract shared by the relational and document backends.
type Store interface {
	CheckUser(ctx context.Context, userID string) error
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
	GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
	SaveChat(ctx context.Context, userID string, chat *models.Chat) (bool, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
	Ping(ctx context.Context) error
}

// SaveRequest is the body of a save call. A nil History means the field was
// absent or null; an empty slice is a valid, empty transcript.
type SaveRequest struct {
	ChatID   string         `json:"chatId" validate:"omitempty,max=128"`
	ChatName string         `json:"chatName"`
	History  []MessageInput `json:"history" validate:"required,dive"`
}

type MessageInput struct {
	Role    string `json:"role" validate:"required,oneof=user bot"`
	Content string `json:"content" validate:"required"`
}

// Service implements list/get/save/delete of a user's chats.
type Service struct {
	store     Store
	validate  *validator.Validate
	publisher events.Publisher
	log       *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewService(store Store, publisher events.Publisher, log *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     store,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		publisher: publisher,
		log:       log.Named("chat"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// List returns the chat summaries of a user in creation order.
func (s *Service) List(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	return chats, nil
}

// Get returns one chat with its full history.
func (s *Service) Get(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	return s.store.GetChat(ctx, userID, chatID)
}

// Save checks the user, validates the request, resolves id and name, and upserts
// the chat. It returns the resolved chat id.
func (s *Service) Save(ctx context.Context, userID string, req SaveRequest) (string, error) {
	if err := s.store.CheckUser(ctx, userID); err != nil {
		return "", err
	}
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	now := s.now().UTC()
	chatID := req.ChatID
	if chatID == "" {
		chatID = s.newID()
	}
	chatName := req.ChatName
	if chatName == "" {
		chatName = deriveName(req.History, now)
	}

	history := make([]*models.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, &models.Message{
			Role:      models.Role(m.Role),
			Content:   m.Content,
			Timestamp: now,
		})
	}

	chat := &models.Chat{
		ChatID:    chatID,
		ChatName:  chatName,
		History:   history,
		CreatedAt: now,
	}
	created, err := s.store.SaveChat(ctx, userID, chat)
	if err != nil {
		return "", err
	}

	if err := s.publisher.PublishChatSaved(ctx, events.ChatEvent{
		UserID:       userID,
		ChatID:       chatID,
		ChatName:     chatName,
		Created:      created,
		MessageCount: len(history),
		OccurredAt:   now,
	}); err != nil {
		s.log.Warn("publish chat saved failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	return chatID, nil
}

// Delete removes one chat of the user.
func (s *Service) Delete(ctx context.Context, userID, chatID string) error {
	if err := s.store.DeleteChat(ctx, userID, chatID); err != nil {
		return err
	}
	if err := s.publisher.PublishChatDeleted(ctx, events.ChatEvent{
		UserID:     userID,
		ChatID:     chatID,
		OccurredAt: s.now().UTC(),
	}); err != nil {
		s.log.Warn("publish chat deleted failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	return nil
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// deriveName uses the first user message, cut to 50 UTF-16 code units, and falls
// back to a timestamped name when the history has no user message.
func deriveName(history []MessageInput, now time.Time) string {
	for _, m := range history {
		if m.Role != string(models.RoleUser) {
			continue
		}
		return truncateUTF16(m.Content, maxDerivedNameUnits)
	}
	return "Chat " + now.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// truncateUTF16 keeps the first n UTF-16 code units of s. A surrogate pair cut in
// half is dropped rather than left as an unpaired surrogate.
func truncateUTF16(s string, n int) string {
	units := utf16.Encode([]rune(s))
	if len(units) <= n {
		return s
	}
	units = units[:n]
	if last := units[n-1]; last >= 0xd800 && last < 0xdc00 {
		units = units[:n-1]
	}
	return string(utf16.Decode(units))
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "SaveRequest.")
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	TypeChatSaved   = "chat.saved"
	TypeChatDeleted = "chat.deleted"
)

var (
	errPublisherClosed = errors.New("event publisher is closed")
	errQueueFull       = errors.New("event queue is full")
)

// ChatEvent is the payload published after a chat is written or removed.
type ChatEvent struct {
	Type         string    `json:"type"`
	UserID       string    `json:"userId"`
	ChatID       string    `json:"chatId"`
	ChatName     string    `json:"chatName,omitempty"`
	Created      bool      `json:"created,omitempty"`
	MessageCount int       `json:"messageCount"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Publisher delivers chat events to downstream consumers.
type Publisher interface {
	PublishChatSaved(ctx context.Context, event ChatEvent) error

	PublishChatDeleted(ctx context.Context, event ChatEvent) error

	Close()
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishChatSaved(context.Context, ChatEvent) error   { return nil }
func (NopPublisher) PublishChatDeleted(context.Context, ChatEvent) error { return nil }
func (NopPublisher) Close()                                              {}

// InMemoryPublisher buffers encoded events in a channel.
type InMemoryPublisher struct {
	mu     sync.Mutex
	events chan []byte
}

func NewInMemoryPublisher(size int) *InMemoryPublisher {
	if size <= 0 {
		size = 100
	}
	return &InMemoryPublisher{events: make(chan []byte, size)}
}

func (p *InMemoryPublisher) publish(eventType string, event ChatEvent) error {
	event.Type = eventType
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		return errPublisherClosed
	}
	select {
	case p.events <- data:
		return nil
	default:
		return errQueueFull
	}
}

func (p *InMemoryPublisher) PublishChatSaved(_ context.Context, event ChatEvent) error {
	return p.publish(TypeChatSaved, event)
}

func (p *InMemoryPublisher) PublishChatDeleted(_ context.Context, event ChatEvent) error {
	return p.publish(TypeChatDeleted, event)
}

// Events exposes the buffered, JSON-encoded events.
func (p *InMemoryPublisher) Events() <-chan []byte {
	return p.events
}

func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events != nil {
		close(p.events)
		p.events = nil
	}
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RetryDelay      = 2 * time.Second
	MaxConnectRetry = 5
)

var errChannelUnavailable = errors.New("rabbitmq channel is not available")

// openFunc dials the broker and returns a channel with the queue declared.
type openFunc func() (*amqp.Connection, *amqp.Channel, error)

// RabbitMQPublisher publishes chat events as persistent JSON messages on a durable queue.
// Reconnects happen in the background; publishes made while the channel is down fail
// immediately instead of waiting for the broker.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	url   string
	queue string
	log   *zap.Logger
	open  openFunc

	closed     atomic.Bool
	done       chan struct{}
	destructor sync.Once
}

func NewRabbitMQPublisher(url, queue string, log *zap.Logger) (*RabbitMQPublisher, error) {
	p := newRabbitMQPublisher(url, queue, log, nil)
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func newRabbitMQPublisher(url, queue string, log *zap.Logger, open openFunc) *RabbitMQPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &RabbitMQPublisher{
		url:   url,
		queue: queue,
		log:   log.Named("events"),
		done:  make(chan struct{}),
	}
	p.open = open
	if p.open == nil {
		p.open = p.dialChannel
	}
	return p
}

func (p *RabbitMQPublisher) dialChannel() (*amqp.Connection, *amqp.Channel, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(p.url)
		if err == nil {
			break
		}
		p.log.Warn("failed to connect to rabbitmq",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", MaxConnectRetry),
			zap.Error(err),
		)
		select {
		case <-p.done:
			return nil, nil, errPublisherClosed
		case <-time.After(RetryDelay):
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare rabbitmq queue %s: %w", p.queue, err)
	}
	return conn, channel, nil
}

// connect dials without holding the lock and only takes it to install the result.
func (p *RabbitMQPublisher) connect() error {
	conn, channel, err := p.open()
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		conn.Close()
		return errPublisherClosed
	}
	p.conn = conn
	p.channel = channel
	p.mu.Unlock()

	p.log.Info("rabbitmq channel opened", zap.String("queue", p.queue))
	go p.watch(channel)
	return nil
}

func (p *RabbitMQPublisher) watch(channel *amqp.Channel) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))
	err, ok := <-notifyClose
	if !ok || p.closed.Load() {
		return
	}
	p.log.Warn("rabbitmq channel closed, reconnecting", zap.Error(err))
	p.reconnect()
}

func (p *RabbitMQPublisher) reconnect() {
	p.mu.Lock()
	p.channel = nil
	p.conn = nil
	p.mu.Unlock()

	for !p.closed.Load() {
		err := p.connect()
		if err == nil {
			p.log.Info("reconnected to rabbitmq")
			return
		}
		if errors.Is(err, errPublisherClosed) {
			return
		}
		p.log.Warn("rabbitmq reconnect failed", zap.Error(err))
		select {
		case <-p.done:
			return
		case <-time.After(RetryDelay * 5):
		}
	}
}

func (p *RabbitMQPublisher) currentChannel() (*amqp.Channel, error) {
	if p.closed.Load() {
		return nil, errPublisherClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil || p.channel.IsClosed() {
		return nil, errChannelUnavailable
	}
	return p.channel, nil
}

func (p *RabbitMQPublisher) publish(ctx context.Context, eventType string, event ChatEvent) error {
	channel, err := p.currentChannel()
	if err != nil {
		return err
	}

	event.Type = eventType
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	err = channel.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         eventType,
			Timestamp:    event.OccurredAt,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

func (p *RabbitMQPublisher) PublishChatSaved(ctx context.Context, event ChatEvent) error {
	return p.publish(ctx, TypeChatSaved, event)
}

func (p *RabbitMQPublisher) PublishChatDeleted(ctx context.Context, event ChatEvent) error {
	return p.publish(ctx, TypeChatDeleted, event)
}

// Close stops any reconnect in progress and closes the connection. It never waits
// on the broker.
func (p *RabbitMQPublisher) Close() {
	p.destructor.Do(func() {
		p.closed.Store(true)
		close(p.done)

		p.mu.Lock()
		channel, conn := p.channel, p.conn
		p.channel, p.conn = nil, nil
		p.mu.Unlock()

		if channel != nil {
			channel.Close()
		}
		if conn != nil {
			conn.Close()
		}
		p.log.Info("rabbitmq publisher closed")
	})
}

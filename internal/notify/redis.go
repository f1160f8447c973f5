package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devrev/recordstore/internal/listener"
	"github.com/devrev/recordstore/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel change events are published on
const DefaultChannel = "recordstore:events"

// Publisher publishes a payload on a channel
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Message is the JSON form of a change event
type Message struct {
	Type      listener.EventType `json:"type"`
	Database  string             `json:"database"`
	Table     string             `json:"table"`
	Criteria  string             `json:"criteria,omitempty"`
	Records   []model.Record     `json:"records,omitempty"`
	Values    model.Record       `json:"values,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// RedisPublisher publishes on Redis pub/sub
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(host string, port int, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPublisher{client: client}, nil
}

// Publish sends payload to channel
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Ping checks the Redis connection
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Notifier forwards the change events of a database to a Publisher. It
// implements listener.Listener; publishing failures are logged and do not
// fail the write that caused the event.
type Notifier struct {
	publisher Publisher
	channel   string
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

var _ listener.Listener = (*Notifier)(nil)

// NewNotifier creates a notifier publishing on channel, or on
// DefaultChannel if channel is empty.
func NewNotifier(publisher Publisher, channel string, logger *zap.Logger) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{
		publisher: publisher,
		channel:   channel,
		timeout:   2 * time.Second,
		now:       time.Now,
		logger:    logger,
	}
}

// OnDatabaseEvent publishes event as a Message
func (n *Notifier) OnDatabaseEvent(event listener.Event) {
	msg := Message{
		Type:      event.Type,
		Database:  event.Database,
		Table:     event.Table,
		Records:   event.Records,
		Values:    event.Values,
		Timestamp: n.now().UnixMilli(),
	}
	if event.Criteria != nil {
		msg.Criteria = event.Criteria.String()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("Failed to encode change event",
			zap.String("table", event.Table), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, n.channel, payload); err != nil {
		n.logger.Warn("Failed to publish change event",
			zap.String("channel", n.channel),
			zap.String("database", event.Database),
			zap.String("table", event.Table),
			zap.Error(err))
		return
	}
	n.logger.Debug("Published change event",
		zap.String("type", string(event.Type)),
		zap.String("table", event.Table))
}

// Ping checks the publisher connection
func (n *Notifier) Ping(ctx context.Context) error {
	return n.publisher.Ping(ctx)
}

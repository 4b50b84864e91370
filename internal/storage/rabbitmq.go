package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"resume-intake/internal/config"
	"resume-intake/internal/logger"
)

// Publisher sends messages to the broker.
type Publisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, body []byte, persistent bool) error
}

var _ Publisher = (*RabbitMQ)(nil)

// RabbitMQ publishes candidate events. Channels are pooled; publishing is
// serialized.
type RabbitMQ struct {
	conn        *amqp.Connection
	channelPool sync.Pool
	exchanges   map[string]bool
	mu          sync.Mutex
	publishMu   sync.Mutex
	cfg         *config.RabbitMQConfig
	log         zerolog.Logger
}

// NewRabbitMQ dials the broker and declares the configured exchange.
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, errors.New("rabbitmq config is nil")
	}
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	mq := &RabbitMQ{
		conn:      conn,
		exchanges: make(map[string]bool),
		cfg:       cfg,
		log:       logger.Component("rabbitmq"),
	}
	mq.channelPool = sync.Pool{
		New: func() any {
			ch, err := conn.Channel()
			if err != nil {
				mq.log.Error().Err(err).Msg("open channel")
				return nil
			}
			return ch
		},
	}

	if err := mq.EnsureExchange(cfg.Exchange, amqp.ExchangeTopic, true); err != nil {
		conn.Close()
		return nil, err
	}
	mq.log.Info().Str("exchange", cfg.Exchange).Msg("rabbitmq publisher ready")
	return mq, nil
}

func (r *RabbitMQ) getChannel() (*amqp.Channel, error) {
	if ch, ok := r.channelPool.Get().(*amqp.Channel); ok && ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channelPool.Put(ch)
	}
}

// EnsureExchange declares name once per process.
func (r *RabbitMQ) EnsureExchange(name, kind string, durable bool) error {
	if name == "" {
		return errors.New("exchange name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchanges[name] {
		return nil
	}

	ch, err := r.getChannel()
	if err != nil {
		return err
	}
	defer r.putChannel(ch)

	if err := ch.ExchangeDeclare(name, kind, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	r.exchanges[name] = true
	return nil
}

// PublishMessage publishes a JSON body.
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchange, routingKey string, body []byte, persistent bool) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	ch, err := r.getChannel()
	if err != nil {
		return err
	}
	defer r.putChannel(ch)

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		MessageId:    uuid.NewString(),
		DeliveryMode: mode,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// PublishJSON marshals data and publishes it.
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchange, routingKey string, data any, persistent bool) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return r.PublishMessage(ctx, exchange, routingKey, body, persistent)
}

// Close closes the connection.
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

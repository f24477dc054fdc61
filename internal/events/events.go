// Package events publishes wallet domain events to RabbitMQ after the
// database work that produced them has committed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DepositSucceeded  = "deposit.succeeded"
	DepositFailed     = "deposit.failed"
	TransferCompleted = "transfer.completed"
	APIKeyCreated     = "apikey.created"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// Envelope wraps every payload so consumers can route on Type without
// inspecting the body.
type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type DepositEvent struct {
	Reference    string `json:"reference"`
	UserID       string `json:"user_id"`
	WalletNumber string `json:"wallet_number,omitempty"`
	Amount       int64  `json:"amount"`
	Status       string `json:"status"`
}

type TransferEvent struct {
	Reference             string `json:"reference"`
	SenderUserID          string `json:"sender_user_id"`
	SenderWalletNumber    string `json:"sender_wallet_number"`
	RecipientUserID       string `json:"recipient_user_id"`
	RecipientWalletNumber string `json:"recipient_wallet_number"`
	Amount                int64  `json:"amount"`
}

type APIKeyEvent struct {
	KeyID       string    `json:"key_id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	Rollover    bool      `json:"rollover"`
}

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPPublisher dials amqpURL and declares a durable topic exchange.
func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(Envelope{Type: routingKey, OccurredAt: time.Now().UTC(), Data: body})
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Noop discards events. It is used when RABBITMQ_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

// PublishBestEffort publishes with a short deadline and logs failures. The
// ledger is already committed, so a lost event must not fail the request.
func PublishBestEffort(ctx context.Context, publisher Publisher, routingKey string, body any) {
	if publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := publisher.Publish(ctx, routingKey, body); err != nil {
		log.Printf("events: publish %s failed: %v", routingKey, err)
	}
}

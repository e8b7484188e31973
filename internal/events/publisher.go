// Package events publishes lending-ledger domain events to an AMQP broker.
// Publishing is best-effort: downstream consumers (notifications, analytics)
// must never fail a lending request.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for ledger events.
const (
	KeyBookIssued   = "book.issued"
	KeyBookReturned = "book.returned"
	KeyFineSettled  = "fine.settled"
)

// BookIssued is emitted after a copy is handed out.
type BookIssued struct {
	IssueID string    `json:"issueId"`
	BookID  string    `json:"bookId"`
	UserID  string    `json:"userId"`
	DueDate time.Time `json:"dueDate"`
}

// BookReturned is emitted after a copy comes back, with the frozen fine.
type BookReturned struct {
	IssueID    string    `json:"issueId"`
	BookID     string    `json:"bookId"`
	UserID     string    `json:"userId"`
	ReturnDate time.Time `json:"returnDate"`
	Fine       int64     `json:"fine"`
}

// FineSettled is emitted after a settlement confirmation marks fines paid.
type FineSettled struct {
	OrderID     string   `json:"orderId"`
	PaymentID   string   `json:"paymentId"`
	UserID      string   `json:"userId"`
	IssueIDs    []string `json:"issueIds"`
	AmountMinor int64    `json:"amount"`
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}

// AMQPPublisher publishes JSON events to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish sends one event.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NoopPublisher discards events. Used when no broker is configured and in
// tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                               { return nil }

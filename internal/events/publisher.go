package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// ExchangeName - topic-обменник доменных событий.
const ExchangeName = "gig_escrow.events"

var ErrNotConnected = errors.New("events: соединение с RabbitMQ закрыто")

// Envelope - сообщение, публикуемое во внешнюю шину.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	Event      string    `json:"event"`
	UserID     uuid.UUID `json:"user_id"`
	Data       any       `json:"data"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher публикует события в RabbitMQ. Канал amqp091 не потокобезопасен,
// поэтому публикация сериализуется мьютексом.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: не удалось подключиться к RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: не удалось открыть канал: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: не удалось объявить обменник: %w", err)
	}

	return &Publisher{conn: conn, channel: ch}, nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected проверяет, живо ли соединение.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.channel != nil && !p.conn.IsClosed()
}

// Notify публикует событие с ключом маршрутизации, равным имени события.
func (p *Publisher) Notify(ctx context.Context, userID uuid.UUID, event string, data any) error {
	body, err := json.Marshal(Envelope{
		ID:         uuid.New(),
		Event:      event,
		UserID:     userID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.IsConnected() {
		return ErrNotConnected
	}
	return p.channel.PublishWithContext(ctx,
		ExchangeName,
		event,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

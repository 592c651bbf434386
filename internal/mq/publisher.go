package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeParentSubmitted   MessageType = "parent.submitted"
	MessageTypePhaseCancel       MessageType = "phase.cancel"
	MessageTypeExecutionFinished MessageType = "execution.finished"
	MessageTypePhaseEvent        MessageType = "phase.event"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ParentSubmittedPayload — принят новый родительский запрос.
type ParentSubmittedPayload struct {
	ParentID uuid.UUID `json:"parent_id"`
}

// PhaseCancelPayload — оператор запросил отмену фазы.
type PhaseCancelPayload struct {
	ParentID uuid.UUID `json:"parent_id"`
	Phase    int       `json:"phase"`
	Reason   string    `json:"reason,omitempty"`
}

// ExecutionFinishedPayload — движок сообщил о завершении выполнения.
// Ускоряет опрос, но не заменяет его.
type ExecutionFinishedPayload struct {
	ExecutionID string    `json:"execution_id"`
	ParentID    uuid.UUID `json:"parent_id"`
	Phase       int       `json:"phase"`
}

// PhaseEventPayload — изменение состояния фазы для внешних подписчиков.
type PhaseEventPayload struct {
	ParentID    uuid.UUID `json:"parent_id"`
	Phase       int       `json:"phase"`
	TicketID    string    `json:"ticket_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Event       string    `json:"event"`
	Detail      string    `json:"detail,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				AppId:        "phasegate",
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishParentSubmitted сообщает оркестратору о новом запросе.
func (p *Publisher) PublishParentSubmitted(ctx context.Context, parentID uuid.UUID) error {
	msg := NewMessage(MessageTypeParentSubmitted, ParentSubmittedPayload{ParentID: parentID})
	return p.Publish(ctx, ExchangeParents, RoutingKeySubmitted, msg)
}

// PublishPhaseCancel сообщает оркестратору о запросе отмены.
func (p *Publisher) PublishPhaseCancel(ctx context.Context, payload PhaseCancelPayload) error {
	return p.Publish(ctx, ExchangePhases, RoutingKeyCancel, NewMessage(MessageTypePhaseCancel, payload))
}

// PublishExecutionFinished сообщает о завершении выполнения в движке.
func (p *Publisher) PublishExecutionFinished(ctx context.Context, payload ExecutionFinishedPayload) error {
	return p.Publish(ctx, ExchangePhases, RoutingKeyFinished, NewMessage(MessageTypeExecutionFinished, payload))
}

// PublishPhaseEvent публикует событие жизненного цикла фазы.
func (p *Publisher) PublishPhaseEvent(ctx context.Context, payload PhaseEventPayload) error {
	return p.Publish(ctx, ExchangePhases, RoutingKeyEvent, NewMessage(MessageTypePhaseEvent, payload))
}

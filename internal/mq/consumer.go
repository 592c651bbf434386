package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно сообщение.
//
// nil — ack. Ошибка, обёрнутая в Permanent, сразу уходит в DLQ.
// Любая другая ошибка даёт одну повторную доставку, затем DLQ.
type Handler func(ctx context.Context, msg Message) error

// permanentError — ошибка, повтор которой не поможет.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку обработки как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// settlement — что сделать с доставкой после обработчика.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// settle выбирает исход доставки по ошибке обработчика.
func settle(err error, redelivered bool) settlement {
	switch {
	case err == nil:
		return settleAck
	case IsPermanent(err), redelivered:
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

// Consumer читает одну очередь и передаёт сообщения обработчику.
// После разрыва соединения подписка восстанавливается автоматически.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue    string
	Handler  Handler
	Prefetch int // default: 1
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start блокируется до отмены ctx или вызова Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for ctx.Err() == nil {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer subscribed")
			c.drain(ctx, deliveries)
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("delivery channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
		case <-c.conn.ReconnectNotify():
		}
	}
	return ctx.Err()
}

// Stop прекращает чтение очереди.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// ack вручную, тег генерирует брокер
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает доставки, пока канал открыт.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	var msg Message
	err := json.Unmarshal(d.Body, &msg)
	if err != nil {
		err = Permanent(fmt.Errorf("decode message: %w", err))
	} else {
		err = c.handler(ctx, msg)
	}

	outcome := settle(err, d.Redelivered)
	log := c.logger.With("message_id", msg.ID, "type", msg.Type, "settle", outcome.String())

	var ackErr error
	switch outcome {
	case settleAck:
		log.Debug("message handled")
		ackErr = d.Ack(false)
	case settleRequeue:
		log.Warn("message handling failed", "error", err)
		ackErr = d.Nack(false, true)
	case settleDeadLetter:
		log.Error("message dead-lettered", "redelivered", d.Redelivered, "error", err)
		ackErr = d.Nack(false, false)
	}
	if ackErr != nil {
		log.Error("failed to settle delivery", "error", ackErr)
	}
}

// ParsePayload приводит Payload к типу T.
// После json.Unmarshal в Message payload приходит как map[string]any.
func ParsePayload[T any](msg Message) (T, error) {
	var out T
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, Permanent(fmt.Errorf("%s payload: %w", msg.Type, err))
	}
	return out, nil
}

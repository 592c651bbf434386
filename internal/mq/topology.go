package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeParents Exchange = "phasegate.parents"
	ExchangePhases  Exchange = "phasegate.phases"
	ExchangeDLQ     Exchange = "phasegate.dlq"
)

// Queues — имена очередей.
const (
	QueueParentsSubmitted   Queue = "parents.submitted"
	QueuePhasesCancel       Queue = "phases.cancel"
	QueueExecutionsFinished Queue = "executions.finished"
	QueuePhasesEvents       Queue = "phases.events"
	QueueDLQ                Queue = "dlq.phasegate"
)

// Routing keys.
const (
	RoutingKeySubmitted RoutingKey = "submitted"
	RoutingKeyCancel    RoutingKey = "cancel"
	RoutingKeyFinished  RoutingKey = "finished"
	RoutingKeyEvent     RoutingKey = "event"
	RoutingKeyDLQ       RoutingKey = "dead"
)

type queueDef struct {
	name       Queue
	exchange   Exchange
	routingKey RoutingKey
	dlq        bool
}

// topology — все очереди и их привязки.
var topology = []queueDef{
	{QueueParentsSubmitted, ExchangeParents, RoutingKeySubmitted, true},
	{QueuePhasesCancel, ExchangePhases, RoutingKeyCancel, true},
	{QueueExecutionsFinished, ExchangePhases, RoutingKeyFinished, true},
	{QueuePhasesEvents, ExchangePhases, RoutingKeyEvent, false},
	{QueueDLQ, ExchangeDLQ, RoutingKeyDLQ, false},
}

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		return declareQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, ex := range []Exchange{ExchangeParents, ExchangePhases, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(ex), // name
			"direct",   // type
			true,       // durable
			false,      // auto-deleted
			false,      // internal
			false,      // no-wait
			nil,        // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди и привязывает их к обменникам.
func declareQueues(ch *amqp.Channel) error {
	for _, q := range topology {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args(),       // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}

		if err := ch.QueueBind(string(q.name), string(q.routingKey), string(q.exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
		}
	}
	return nil
}

func (q queueDef) args() amqp.Table {
	if !q.dlq {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Phasegate RabbitMQ Topology:

    phasegate.parents (direct)
    └── parents.submitted [routing: submitted]    Consumer: Orchestrator, DLQ

    phasegate.phases (direct)
    ├── phases.cancel [routing: cancel]            Consumer: Orchestrator, DLQ
    ├── executions.finished [routing: finished]    Consumer: Orchestrator, DLQ
    └── phases.events [routing: event]             Consumer: external subscribers

    phasegate.dlq (direct)
    └── dlq.phasegate [routing: dead]              Manual processing
`
}

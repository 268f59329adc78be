package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/config"
	"clientportal.io/portal/internal/pkg/logger"
)

// DefaultAMQPExchange is the topic exchange realtime envelopes go to.
const DefaultAMQPExchange = "portal.realtime"

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a topic exchange with the topic as
// routing key.
type AMQPPublisher struct {
	exchange    string
	openChannel func() (amqpChannel, error)
}

// NewAMQPPublisher declares the exchange and returns a publisher.
func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	if conn == nil {
		return nil, errors.New("amqp connection is required")
	}
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}
	if err := declareExchange(conn, exchange); err != nil {
		return nil, err
	}
	return &AMQPPublisher{
		exchange: exchange,
		openChannel: func() (amqpChannel, error) {
			ch, err := conn.Channel()
			if err != nil {
				return nil, err
			}
			return ch, nil
		},
	}, nil
}

func declareExchange(conn *amqp.Connection, exchange string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Name implements Publisher.
func (*AMQPPublisher) Name() string { return config.RealtimeProviderAMQP }

// Publish implements Publisher. The AMQP client has no context support, so
// ctx is only checked before publishing.
func (p *AMQPPublisher) Publish(ctx context.Context, topic, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEnvelope(topic, event, payload)
	if err != nil {
		return err
	}

	ch, err := p.openChannel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.Publish(
		p.exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         event,
			DeliveryMode: amqp.Transient,
			Body:         data,
		})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", topic, err)
	}
	return nil
}

// AMQPRelay consumes the exchange through an exclusive queue and forwards
// envelopes into a local Hub.
type AMQPRelay struct {
	conn     *amqp.Connection
	exchange string
	hub      *Hub
}

// NewAMQPRelay creates a relay.
func NewAMQPRelay(conn *amqp.Connection, exchange string, hub *Hub) *AMQPRelay {
	if exchange == "" {
		exchange = DefaultAMQPExchange
	}
	return &AMQPRelay{conn: conn, exchange: exchange, hub: hub}
}

// Run relays until ctx ends or the broker closes the channel.
func (r *AMQPRelay) Run(ctx context.Context) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare relay queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind relay queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume relay queue: %w", err)
	}
	logger.Info("Realtime amqp relay consuming",
		zap.String("exchange", r.exchange),
		zap.String("queue", q.Name),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp relay channel closed by broker")
			}
			if _, err := DecodeEnvelope(d.Body); err != nil {
				logger.Warn("Discarding malformed realtime message",
					zap.String("routing_key", d.RoutingKey),
					zap.Error(err),
				)
				continue
			}
			r.hub.Broadcast(d.RoutingKey, d.Body)
		}
	}
}

var _ Publisher = (*AMQPPublisher)(nil)

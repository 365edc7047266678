package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// RabbitMQPublisher publishes events to a durable topic exchange using
// publisher confirms. The event topic is used as routing key.
type RabbitMQPublisher struct {
	mu            sync.Mutex
	exchange      string
	connection    *amqp.Connection
	channel       *amqp.Channel
	notifyConfirm chan amqp.Confirmation
	// nextTag is the delivery tag the broker assigns to the next publish.
	nextTag uint64
	timeout time.Duration
}

func NewRabbitMQPublisher(url string, exchange string) (*RabbitMQPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel could not be put into confirm mode: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := &RabbitMQPublisher{
		exchange:      exchange,
		connection:    conn,
		channel:       ch,
		notifyConfirm: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		nextTag:       1,
		timeout:       defaultPublishWindow,
	}
	log.Info().Str("component", "eventbus").Str("exchange", exchange).Msg("rabbitmq publisher ready")
	return p, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Confirms arrive in publish order on a single channel, so publishing
	// and waiting for the ack happen under one lock.
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(
		p.exchange,  // exchange
		event.Topic, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Topic, err)
	}

	tag := p.nextTag
	p.nextTag++

	confirm, err := awaitConfirm(ctx, p.notifyConfirm, tag, p.timeout)
	if err != nil {
		return err
	}
	if !confirm.Ack {
		return fmt.Errorf("event %s nacked by broker", event.ID)
	}
	log.Debug().Str("component", "eventbus").Str("topic", event.Topic).Uint64("tag", confirm.DeliveryTag).Msg("event confirmed")
	return nil
}

// awaitConfirm waits for the confirmation of tag. Confirms for earlier tags
// belong to publishes that already gave up waiting and are dropped.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, tag uint64, timeout time.Duration) (amqp.Confirmation, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case confirm, ok := <-confirms:
			if !ok {
				return amqp.Confirmation{}, errors.New("publisher channel closed")
			}
			if confirm.DeliveryTag < tag {
				log.Debug().Str("component", "eventbus").Uint64("tag", confirm.DeliveryTag).Uint64("want", tag).Msg("late confirmation dropped")
				continue
			}
			if confirm.DeliveryTag > tag {
				return amqp.Confirmation{}, fmt.Errorf("confirmation %d arrived while waiting for %d", confirm.DeliveryTag, tag)
			}
			return confirm, nil
		case <-timer.C:
			return amqp.Confirmation{}, errors.New("publish confirmation timeout")
		case <-ctx.Done():
			return amqp.Confirmation{}, ctx.Err()
		}
	}
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Error().Err(err).Str("component", "eventbus").Msg("closing channel")
		}
	}
	if p.connection != nil && !p.connection.IsClosed() {
		return p.connection.Close()
	}
	return nil
}

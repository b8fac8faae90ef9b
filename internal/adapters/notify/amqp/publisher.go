// Package amqp publishes task events to a RabbitMQ topic exchange, routed by
// status as task.<status>.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/drawq/internal/adapters/notify"
	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "drawq.tasks"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

var _ ports.Notifier = (*Publisher)(nil)

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open amqp channel: %w", err), conn.Close())
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Join(fmt.Errorf("declare exchange %s: %w", exchange, err), ch.Close(), conn.Close())
	}

	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func RoutingKey(status domain.TaskStatus) string {
	return "task." + strings.ToLower(string(status))
}

func (p *Publisher) Notify(ctx context.Context, task domain.Task) error {
	body, err := json.Marshal(notify.NewEvent(task))
	if err != nil {
		return fmt.Errorf("encode event for task %s: %w", task.ID, err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(task.Status), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(task.ID),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event for task %s: %w", task.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

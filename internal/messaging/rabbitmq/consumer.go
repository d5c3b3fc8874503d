package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var ErrInvalidMessage = errors.New("invalid alert message")

// AlertDispatcher delivers one alert by id.
type AlertDispatcher interface {
	DispatchOne(ctx context.Context, id int64) (bool, error)
}

// AlertConsumer feeds alerts from the queue to the dispatcher. Failed
// deliveries are acked anyway; the alert stays pending for the scheduled pass.
type AlertConsumer struct {
	dispatcher AlertDispatcher
	logger     logrus.FieldLogger
}

func NewAlertConsumer(dispatcher AlertDispatcher, logger logrus.FieldLogger) *AlertConsumer {
	return &AlertConsumer{dispatcher: dispatcher, logger: logger}
}

// Consume starts consuming queue on a fresh channel and blocks until ctx is
// done or the channel closes.
func (c *AlertConsumer) Consume(ctx context.Context, conn *amqp.Connection, exchange, queue string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := Declare(ch, exchange, queue); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.WithField("queue", queue).Info("Consuming fence alerts")
	return c.Handle(ctx, deliveries)
}

func (c *AlertConsumer) Handle(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *AlertConsumer) handle(ctx context.Context, d amqp.Delivery) {
	id, err := parseAlertID(d.Body)
	if err != nil {
		c.logger.WithField("message_id", d.MessageId).WithError(err).Warn("Dropping alert message")
		_ = d.Reject(false)
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"alert_id":   id,
		"message_id": d.MessageId,
	})
	delivered, err := c.dispatcher.DispatchOne(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to dispatch alert")
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	if !delivered {
		log.Debug("Alert not delivered, left for the dispatch pass")
	}
	_ = d.Ack(false)
}

func parseAlertID(body []byte) (int64, error) {
	var msg alertMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.AlertID <= 0 {
		return 0, fmt.Errorf("%w: missing alert_id", ErrInvalidMessage)
	}
	return msg.AlertID, nil
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/core/service"
)

var _ service.AlertNotifier = (*AlertPublisher)(nil)

const (
	DefaultExchange = "gps.events"
	DefaultQueue    = "fence_alerts"
)

// alertMessage is the hand-off body. Consumers only rely on alert_id.
type alertMessage struct {
	AlertID      int64  `json:"alert_id"`
	GeofenceID   int64  `json:"geofence_id"`
	FenceStateID int64  `json:"fence_state_id"`
	WebhookURL   string `json:"webhook_url"`
}

type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Declare sets up the fanout exchange and the alert queue bound to it.
func Declare(ch *amqp.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// AlertPublisher announces new fence alerts on the events exchange.
type AlertPublisher struct {
	ch       channelPublisher
	exchange string
}

func NewAlertPublisher(conn *amqp.Connection, exchange, queue string) (*AlertPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := Declare(ch, exchange, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &AlertPublisher{ch: ch, exchange: exchange}, nil
}

func (p *AlertPublisher) Notify(ctx context.Context, alert model.FenceAlert) error {
	body, err := json.Marshal(alertMessage{
		AlertID:      alert.ID,
		GeofenceID:   alert.GeofenceID,
		FenceStateID: alert.FenceStateID,
		WebhookURL:   alert.WebhookURL,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         "fence_alert",
		Body:         body,
	})
}

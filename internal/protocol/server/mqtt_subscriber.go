package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/protocol"
)

const rawSuffix = "/raw"

// MQTTSubscriber ingests raw payloads forwarded by gateways on
// <prefix>/<protocol>/raw.
type MQTTSubscriber struct {
	client   mqtt.Client
	prefix   string
	qos      byte
	receiver Receiver
	logger   logrus.FieldLogger
}

func NewMQTTSubscriber(client mqtt.Client, prefix string, qos byte, receiver Receiver, logger logrus.FieldLogger) *MQTTSubscriber {
	return &MQTTSubscriber{
		client:   client,
		prefix:   strings.TrimSuffix(prefix, "/"),
		qos:      qos,
		receiver: receiver,
		logger:   logger,
	}
}

func (s *MQTTSubscriber) Topic() string {
	return s.prefix + "/+" + rawSuffix
}

func (s *MQTTSubscriber) Start() error {
	token := s.client.Subscribe(s.Topic(), s.qos, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	s.logger.WithField("topic", s.Topic()).Info("MQTT subscriber started")
	return nil
}

func (s *MQTTSubscriber) Stop() {
	token := s.client.Unsubscribe(s.Topic())
	token.Wait()
}

func (s *MQTTSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	log := s.logger.WithField("topic", msg.Topic())

	p, err := s.protocolFromTopic(msg.Topic())
	if err != nil {
		log.WithError(err).Warn("Ignoring MQTT message")
		return
	}

	rec, err := s.receiver.Receive(context.Background(), p, msg.Payload())
	switch {
	case errors.Is(err, protocol.ErrHeartbeat):
	case err != nil:
		log.WithError(err).Warn("Error receiving transmission")
	default:
		log.WithField("raw_id", rec.ID).Debug("Transmission received")
	}
}

func (s *MQTTSubscriber) protocolFromTopic(topic string) (protocol.Protocol, error) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/")
	if !ok {
		return "", fmt.Errorf("topic %q outside prefix %q", topic, s.prefix)
	}
	name, ok := strings.CutSuffix(rest, rawSuffix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("unexpected topic %q", topic)
	}
	return protocol.Parse(name)
}

package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
)

// Rememberer is told about every message whose delivery state changed.
type Rememberer interface {
	Remember(msg model.CanonicalMessage)
}

// CanonicalSender copies canonical messages into the location and info tables.
type CanonicalSender struct {
	messages  repository.CanonicalMessageRepository
	locations repository.LocationRepository
	cache     Rememberer
	logger    logrus.FieldLogger
}

func NewCanonicalSender(messages repository.CanonicalMessageRepository, locations repository.LocationRepository, cache Rememberer, logger logrus.FieldLogger) *CanonicalSender {
	return &CanonicalSender{
		messages:  messages,
		locations: locations,
		cache:     cache,
		logger:    logger,
	}
}

// Send delivers msg once. It reports false when delivery failed and the message
// stays unsent for a later attempt. Already sent messages report true untouched.
func (s *CanonicalSender) Send(ctx context.Context, msg *model.CanonicalMessage) bool {
	if msg.IsSent {
		return true
	}

	msg.NumTries++
	err := s.deliver(ctx, msg)
	if err != nil {
		msg.Info = fmt.Sprintf("persist error: %v", err)
		s.logger.WithFields(logrus.Fields{
			"dedup_key": msg.DedupKey,
			"esn":       msg.ESN,
			"source":    msg.Source,
			"num_tries": msg.NumTries,
		}).WithError(err).Error("Failed to send canonical message")
	} else {
		msg.IsSent = true
		msg.Info = ""
	}

	if uerr := s.messages.UpdateDelivery(ctx, msg); uerr != nil {
		s.logger.WithField("dedup_key", msg.DedupKey).WithError(uerr).Error("Failed to record delivery state")
		return false
	}
	if s.cache != nil {
		s.cache.Remember(*msg)
	}
	return err == nil
}

func (s *CanonicalSender) deliver(ctx context.Context, msg *model.CanonicalMessage) error {
	if msg.IsLocation() {
		pos, err := msg.Coordinates()
		if err != nil {
			return err
		}
		fix := &model.LocationFix{
			ESN:        msg.ESN,
			OccurredAt: msg.OccurredAt,
			Latitude:   pos.Latitude(),
			Longitude:  pos.Longitude(),
			Meta:       msg.Meta,
			DedupKey:   msg.DedupKey,
		}
		if err := s.locations.CreateFix(ctx, fix); err != nil {
			return fmt.Errorf("%w: %v", repository.ErrPersistence, err)
		}
		return nil
	}

	rec := &model.InfoRecord{
		ESN:        msg.ESN,
		OccurredAt: msg.OccurredAt,
		Source:     msg.Source,
		Value:      msg.Value,
		Meta:       msg.Meta,
		DedupKey:   msg.DedupKey,
	}
	if err := s.locations.CreateInfo(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrPersistence, err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/core/message"
	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
	"github.com/SnakeO/gps-catcher/internal/protocol"
)

const (
	extraSuccess       = "success"
	extraSendFailed    = "1 or more parsed messages failed"
	extraArchived      = "archived"
	extraQueueFull     = "queued for sweep"
	extraShutdown      = "released on shutdown"
	extraErrorHandling = "ERROR handling: "
)

type IngestConfig struct {
	// MaxAttempts caps how often the sweep retries one transmission.
	MaxAttempts int
	// Workers and QueueSize size the background pool. Zero workers processes inline.
	Workers   int
	QueueSize int
	// ClaimLease is how long a claimed transmission may go untouched before
	// the sweep takes it over.
	ClaimLease time.Duration
}

const releaseTimeout = 5 * time.Second

// IngestService stores raw transmissions and turns them into sent canonical messages.
type IngestService struct {
	raw      repository.RawMessageRepository
	messages repository.CanonicalMessageRepository
	router   *protocol.Router
	dedup    *message.Deduplicator
	sender   *CanonicalSender
	logger   logrus.FieldLogger
	cfg      IngestConfig
	queue    chan *model.RawMessage
	now      func() time.Time
}

// NewIngestService wires the pipeline. lookup answers dedup queries and may be a
// cache in front of messages.
func NewIngestService(raw repository.RawMessageRepository, messages repository.CanonicalMessageRepository, lookup message.Lookup, sender *CanonicalSender, logger logrus.FieldLogger, cfg IngestConfig) *IngestService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}
	s := &IngestService{
		raw:      raw,
		messages: messages,
		router:   protocol.NewRouter(),
		dedup:    message.NewDeduplicator(lookup),
		sender:   sender,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	if cfg.Workers > 0 {
		size := cfg.QueueSize
		if size <= 0 {
			size = 100
		}
		s.queue = make(chan *model.RawMessage, size)
	}
	return s
}

// Receive archives a transmission and schedules it for decoding. Heartbeats
// return protocol.ErrHeartbeat and are not stored. Documents that are not well formed
// are stored as malformed and returned together with a *protocol.DecodingError.
func (s *IngestService) Receive(ctx context.Context, p protocol.Protocol, raw []byte) (*model.RawMessage, error) {
	if protocol.IsHeartbeat(p, raw) {
		return nil, protocol.ErrHeartbeat
	}

	rec := model.NewRawMessage(string(p), string(raw))
	var formErr error
	switch {
	case p.ArchiveOnly():
		rec.ProcessedStage = model.StageDone
		rec.Extra = extraArchived
	case p.IsDocument():
		if err := protocol.CheckWellFormed(p, raw); err != nil {
			formErr = err
			rec.Status = model.RawStatusMalformed
			rec.ProcessedStage = model.StageSkipped
			rec.Extra = err.Error()
		}
	}

	if err := s.raw.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store raw message: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"raw_id":   rec.ID,
		"protocol": rec.Protocol,
	})
	if formErr != nil {
		log.WithError(formErr).Warn("Malformed transmission archived")
		return rec, formErr
	}
	if rec.ProcessedStage != model.StageClaimed {
		return rec, nil
	}

	if s.queue == nil {
		if err := s.Process(ctx, rec); err != nil {
			log.WithError(err).Warn("Transmission left for retry")
		}
		return rec, nil
	}

	select {
	case s.queue <- rec:
	default:
		rec.ProcessedStage = model.StagePending
		rec.Extra = extraQueueFull
		if err := s.raw.Update(ctx, rec); err != nil {
			log.WithError(err).Error("Failed to release transmission to the sweep")
		}
	}
	return rec, nil
}

// Run drains the background queue until ctx is done. Transmissions still
// queued at that point are handed back to the sweep.
func (s *IngestService) Run(ctx context.Context) {
	if s.queue == nil {
		return
	}
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case rec := <-s.queue:
					if ctx.Err() != nil {
						s.release(ctx, rec)
						return
					}
					if err := s.Process(ctx, rec); err != nil {
						s.logger.WithField("raw_id", rec.ID).WithError(err).Warn("Transmission left for retry")
					}
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case rec := <-s.queue:
			s.release(ctx, rec)
		default:
			return
		}
	}
}

// release puts a claimed transmission back to pending. ctx may already be done.
func (s *IngestService) release(ctx context.Context, rec *model.RawMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	rec.ProcessedStage = model.StagePending
	rec.Extra = extraShutdown
	if err := s.raw.Update(ctx, rec); err != nil {
		s.logger.WithField("raw_id", rec.ID).WithError(err).Error("Failed to release transmission to the sweep")
	}
}

// Process decodes a stored transmission, saves its canonical messages and
// sends them. The raw record ends at StageDone on success and StagePending
// when anything failed.
func (s *IngestService) Process(ctx context.Context, rec *model.RawMessage) error {
	rec.Attempts++

	err := s.process(ctx, rec)
	switch {
	case err == nil:
		rec.ProcessedStage = model.StageDone
		rec.Extra = extraSuccess
	case errors.Is(err, errSendFailed):
		rec.ProcessedStage = model.StagePending
		rec.Extra = extraSendFailed
	default:
		rec.ProcessedStage = model.StagePending
		rec.Extra = extraErrorHandling + err.Error()
	}

	if uerr := s.raw.Update(ctx, rec); uerr != nil {
		return fmt.Errorf("update raw message %s: %w", rec.ID, uerr)
	}
	return err
}

var errSendFailed = errors.New(extraSendFailed)

func (s *IngestService) process(ctx context.Context, rec *model.RawMessage) error {
	p, err := protocol.Parse(rec.Protocol)
	if err != nil {
		return err
	}

	resolved, err := s.DecodeOnly(ctx, p, []byte(rec.Raw), protocol.TransportContext{ReceivedAt: rec.CreatedAt})
	if err != nil {
		return err
	}

	failed := 0
	for _, msg := range resolved {
		if !msg.Persisted {
			msg.OriginType = rec.Protocol
			msg.OriginID = rec.ID
			if err := s.messages.Save(ctx, msg); err != nil {
				s.logger.WithField("dedup_key", msg.DedupKey).WithError(err).Error("Failed to save canonical message")
				failed++
				continue
			}
		}
		if !s.sender.Send(ctx, msg) {
			failed++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"raw_id":   rec.ID,
		"protocol": rec.Protocol,
		"messages": len(resolved),
		"failed":   failed,
	}).Info("Transmission processed")

	if failed > 0 {
		return errSendFailed
	}
	return nil
}

// DecodeOnly decodes raw and resolves each message against the store without
// writing anything.
func (s *IngestService) DecodeOnly(ctx context.Context, p protocol.Protocol, raw []byte, tc protocol.TransportContext) ([]*model.CanonicalMessage, error) {
	msgs, err := s.router.Decode(p, raw, tc)
	if err != nil {
		return nil, err
	}
	return s.dedup.ResolveAll(ctx, msgs)
}

// Retryable lists the transmissions the next sweep would pick up: pending ones
// and claims older than the lease.
func (s *IngestService) Retryable(ctx context.Context, limit int) ([]*model.RawMessage, error) {
	return s.raw.FindRetryable(ctx, s.cfg.MaxAttempts, s.now().Add(-s.cfg.ClaimLease), limit)
}

// Sweep re-processes pending transmissions and stale claims. It returns how
// many were retried.
func (s *IngestService) Sweep(ctx context.Context, limit int) (int, error) {
	records, err := s.Retryable(ctx, limit)
	if err != nil {
		return 0, err
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		rec.ProcessedStage = model.StageClaimed
		if err := s.raw.Update(ctx, rec); err != nil {
			return i, fmt.Errorf("claim raw message %s: %w", rec.ID, err)
		}
		if err := s.Process(ctx, rec); err != nil {
			s.logger.WithFields(logrus.Fields{
				"raw_id":   rec.ID,
				"attempts": rec.Attempts,
			}).WithError(err).Warn("Retry failed")
		}
	}
	return len(records), nil
}

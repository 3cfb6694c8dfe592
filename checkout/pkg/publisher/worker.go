package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Alturino/storefront/checkout/pkg/session"
	"github.com/Alturino/storefront/internal/common/constants"
	"github.com/Alturino/storefront/internal/log"
)

const DefaultFlushInterval = 300 * time.Millisecond

type BatchPublisher interface {
	PublishBatch(c context.Context, settlements []session.Settlement) error
}

// Worker takes settlements off the payment path and hands them to the
// target in batches. A failed batch is kept and retried on the next tick.
type Worker struct {
	target   BatchPublisher
	queue    chan session.Settlement
	interval time.Duration
	maxBatch int
}

func NewWorker(target BatchPublisher, size int, interval time.Duration) *Worker {
	size = max(size, 1)
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Worker{
		target:   target,
		queue:    make(chan session.Settlement, size),
		interval: interval,
		maxBatch: size,
	}
}

// Publish enqueues the settlement. It blocks only while the queue is full,
// which happens when the target keeps failing.
func (wrk *Worker) Publish(c context.Context, settlement session.Settlement) error {
	select {
	case wrk.queue <- settlement:
		return nil
	case <-c.Done():
		return c.Err()
	}
}

// StartWorker drains the queue until c is cancelled, then makes one last
// attempt at whatever is buffered.
func (wrk *Worker) StartWorker(c context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Worker StartWorker").
		Str(log.KeyAppName, constants.AppSettlementPublisher).
		Logger()

	ticker := time.NewTicker(wrk.interval)
	defer ticker.Stop()
	batch := make([]session.Settlement, 0, wrk.maxBatch)

	// retrying is set while a failed batch waits for the next tick. The
	// batch never grows past maxBatch; new settlements stay in the queue.
	retrying := false
	flush := func(c context.Context) bool {
		if len(batch) == 0 {
			return true
		}
		requestID := uuid.NewString()
		logger := logger.With().Str(log.KeyRequestID, requestID).Int("count", len(batch)).Logger()
		logger.Info().Msg("start publishing settlement batch")
		c = log.AttachRequestIDToContext(logger.WithContext(c), requestID)
		if err := wrk.target.PublishBatch(c, batch); err != nil {
			err = fmt.Errorf("failed publishing settlement batch with error=%w", err)
			logger.Error().Err(err).Msg(err.Error())
			retrying = true
			return false
		}
		logger.Info().Msg("published settlement batch")
		batch = batch[:0]
		retrying = false
		return true
	}

	for {
		queue := wrk.queue
		if len(batch) >= wrk.maxBatch {
			queue = nil
		}

		select {
		case <-c.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(c), 5*time.Second)
			wrk.drain(shutdownCtx, &batch, flush)
			cancel()
			return
		case <-ticker.C:
			flush(c)
		case settlement := <-queue:
			logger.Info().Str(log.KeyReferenceCode, settlement.ReferenceCode).Msg("received settlement")
			batch = append(batch, settlement)
			if len(batch) >= wrk.maxBatch && !retrying {
				flush(c)
			}
		}
	}
}

// drain publishes whatever is buffered in batches of at most maxBatch and
// stops at the first failure.
func (wrk *Worker) drain(c context.Context, batch *[]session.Settlement, flush func(context.Context) bool) {
	for {
	fill:
		for len(*batch) < wrk.maxBatch {
			select {
			case settlement := <-wrk.queue:
				*batch = append(*batch, settlement)
			default:
				break fill
			}
		}
		if len(*batch) == 0 {
			return
		}
		if !flush(c) {
			zerolog.Ctx(c).Error().
				Str(log.KeyTag, "Worker drain").
				Int(log.KeyPendingCount, len(*batch)+len(wrk.queue)).
				Msg("dropping unpublished settlements on shutdown")
			return
		}
	}
}

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw hazard events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Runner drives the dispatcher from the hazard source topic.
type Runner struct {
	extractor  BatchExtractor
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	batchSize  int
}

// NewRunner creates a Runner over the given extractor and dispatcher.
func NewRunner(e BatchExtractor, d *Dispatcher, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Runner {
	return &Runner{
		extractor:  e,
		dispatcher: d,
		logger:     logger,
		metrics:    metrics,
		batchSize:  batchSize,
	}
}

// CheckReadiness returns nil once the runner has processed at least one
// hazard batch, or an error describing why the service is not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("dispatcher has not processed any hazard events yet")
	}
	return nil
}

// Run executes the consume-dispatch loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("dispatch runner started", "batch_size", r.batchSize)
	r.metrics.DispatcherActive.Set(1)
	defer r.metrics.DispatcherActive.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during Kafka outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("dispatch runner stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !r.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one consume-dispatch cycle. Returns false if the runner
// should stop.
func (r *Runner) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := r.extractor.ExtractBatch(ctx, r.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("extract batch failed", "error", err)
		return r.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	r.metrics.HazardsConsumed.Add(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	dispatched := 0
	for _, raw := range rawBatch {
		hazard, err := domain.ParseRawEvent(raw)
		if err == nil {
			err = r.dispatcher.Dispatch(ctx, hazard)
		}
		if err != nil {
			// A malformed or invalid hazard rejects that dispatch cycle
			// only; the offset is still committed so the poison pill is
			// not re-read forever.
			r.metrics.HazardsRejected.Inc()
			r.logger.Warn("hazard dispatch rejected",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			r.commitOffset(ctx, raw)
			continue
		}
		dispatched++
		r.commitOffset(ctx, raw)
	}

	if dispatched > 0 {
		// Hint already-connected clients to re-pull the hazard list once
		// per batch; per-client alerts went out during Dispatch.
		r.dispatcher.BroadcastRefresh()
		r.ready.Store(true)
	}
	return true
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the runner should stop.
func (r *Runner) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (r *Runner) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		r.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Package queue drains pending conversation records through the analysis
// provider in bounded concurrent groups, applying backpressure from the
// rate limit controller and a bounded per-record retry policy.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olegiv/chatlog-ai-go/internal/ai"
	"github.com/olegiv/chatlog-ai-go/internal/logging"
	"github.com/olegiv/chatlog-ai-go/internal/storage"
)

// Store is the record store surface the scheduler consumes.
type Store interface {
	GetAllByStatus(status storage.Status) ([]*storage.Conversation, error)
	Update(conv *storage.Conversation) error
	CountsByStatus() (map[storage.Status]int, error)
}

// Compile-time interface check
var _ Store = (*storage.Storage)(nil)

// Config holds the scheduler's tuning knobs. The zero value is unusable;
// use DefaultConfig or EconomicalConfig as a starting point.
type Config struct {
	// BatchSize is the ceiling on concurrently in-flight analysis attempts.
	BatchSize int

	// MaxRetries bounds retries per record for transient failures; the
	// initial attempt is not counted.
	MaxRetries int

	// RetryDelay is the fixed wait between transient-failure attempts.
	RetryDelay time.Duration

	// BatchDelay is the pause between dispatched groups when more pending
	// records remain. This is the primary throughput governor absent
	// explicit throttling signals.
	BatchDelay time.Duration

	// PollInterval is how often a throttled scheduler re-checks the
	// controller without consuming records.
	PollInterval time.Duration

	// CleanBatchThreshold is how many consecutive clean batches must elapse
	// before the controller's backoff relaxes to the floor.
	CleanBatchThreshold int
}

// DefaultConfig returns the standard (aggressive) tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:           10,
		MaxRetries:          3,
		RetryDelay:          2 * time.Second,
		BatchDelay:          5 * time.Second,
		PollInterval:        1 * time.Second,
		CleanBatchThreshold: 5,
	}
}

// EconomicalConfig returns the conservative tuning: smaller groups and a
// longer inter-batch delay.
func EconomicalConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.BatchDelay = 15 * time.Second
	return cfg
}

// Scheduler pulls pending conversation records and dispatches them in
// bounded concurrent groups to the analysis provider. At most one scheduler
// loop runs per process at a time.
type Scheduler struct {
	store    Store
	provider ai.Provider
	limiter  *RateLimitController
	reporter *ProgressReporter
	log      *logging.SecureLogger
	cfg      Config

	running      atomic.Bool
	cleanBatches int
	onComplete   func(QueueStats)
}

// NewScheduler creates a scheduler over the given collaborators.
func NewScheduler(store Store, provider ai.Provider, limiter *RateLimitController, log *logging.SecureLogger, cfg Config) *Scheduler {
	return &Scheduler{
		store:    store,
		provider: provider,
		limiter:  limiter,
		reporter: NewProgressReporter(),
		log:      log,
		cfg:      cfg,
	}
}

// Subscribe registers a progress observer, invoked after every record-level
// state change. Returns the unsubscribe function.
func (s *Scheduler) Subscribe(fn func(QueueStats)) (unsubscribe func()) {
	return s.reporter.Subscribe(fn)
}

// SetOnComplete registers a callback delivered once per Run with the final
// stats after the pending set is exhausted.
func (s *Scheduler) SetOnComplete(fn func(QueueStats)) {
	s.onComplete = fn
}

// IsProcessing reports whether a scheduler loop is currently active.
func (s *Scheduler) IsProcessing() bool {
	return s.running.Load()
}

// Run drains all pending records once, in bounded concurrent groups. A
// second concurrent invocation while one is active is a no-op. Run never
// panics out: an internal failure is logged and the loop terminates cleanly,
// leaving untouched records pending for a future run. Cancelling ctx is
// coarse: the scheduler stops pulling new records, but an already-dispatched
// group runs to completion.
func (s *Scheduler) Run(ctx context.Context, rules ai.Rules) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("Scheduler already running, ignoring invocation")
		return
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("panic", fmt.Sprint(r)).Msg("Scheduler loop aborted")
		}
	}()

	s.cleanBatches = 0

	for {
		if ctx.Err() != nil {
			s.log.Info().Msg("Scheduler cancelled, leaving remaining records pending")
			return
		}

		pending, err := s.store.GetAllByStatus(storage.StatusPending)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to read pending records")
			return
		}
		if len(pending) == 0 {
			break
		}

		// Backpressure: while throttled, wait without consuming records.
		if s.limiter.Throttled() {
			sleepCtx(ctx, s.cfg.PollInterval)
			continue
		}

		batch := pending
		if len(batch) > s.cfg.BatchSize {
			batch = batch[:s.cfg.BatchSize]
		}

		s.log.Debug().
			Int("batch", len(batch)).
			Int("pending", len(pending)).
			Msg("Dispatching batch")

		// Attempts run on a context detached from cancellation: cancelling
		// the run must never abort an in-flight analysis call or turn a
		// routine shutdown into FAILED records. Only the loop's pull and
		// wait decisions observe ctx.
		attemptCtx := context.WithoutCancel(ctx)

		var throttledInBatch atomic.Bool
		var wg sync.WaitGroup
		for _, conv := range batch {
			wg.Add(1)
			go func(conv *storage.Conversation) {
				defer wg.Done()
				if s.processOne(attemptCtx, conv, rules) == resultThrottled {
					throttledInBatch.Store(true)
				}
			}(conv)
		}
		wg.Wait()

		if throttledInBatch.Load() {
			s.cleanBatches = 0
		} else {
			s.cleanBatches++
			if s.cleanBatches >= s.cfg.CleanBatchThreshold {
				s.limiter.Relax()
				s.cleanBatches = 0
			}
		}

		if len(pending) > s.cfg.BatchSize {
			sleepCtx(ctx, s.cfg.BatchDelay)
		}
	}

	stats := s.ComputeStats()
	s.log.Info().
		Int("total", stats.Total).
		Int("processed", stats.Processed).
		Int("failed", stats.Failed).
		Msg("Queue drained")

	if s.onComplete != nil {
		s.onComplete(stats)
	}
}

// processResult summarizes one record's outcome for the clean-batch counter.
type processResult int

const (
	resultDone processResult = iota
	resultThrottled
	resultFailed
)

// processOne drives a single record through one bounded attempt cycle. Only
// one in-flight attempt per record exists at a time, so record mutations are
// serialized by construction.
func (s *Scheduler) processOne(ctx context.Context, conv *storage.Conversation, rules ai.Rules) processResult {
	for attempt := 0; ; attempt++ {
		conv.Status = storage.StatusProcessing
		if err := s.store.Update(conv); err != nil {
			return s.fail(conv, fmt.Errorf("persist processing state: %w", err))
		}
		s.publish()

		analysis, err := s.provider.Analyze(ctx, conv.Messages, rules)
		if err == nil {
			conv.Analysis = analysis
			conv.Status = storage.StatusDone
			conv.ProcessedAt = time.Now()
			conv.LastError = ""
			if uerr := s.store.Update(conv); uerr != nil {
				s.log.Error().Str("id", conv.ID).Err(uerr).Msg("Failed to persist completed record")
			}
			s.publish()
			return resultDone
		}

		switch kind := ai.Classify(err); kind {
		case ai.FailureRateLimited:
			s.limiter.NotifyThrottled()
			// Revert to pending with the error cleared so the record is
			// indistinguishable from a fresh one; this does not count as a
			// retry attempt.
			conv.Status = storage.StatusPending
			conv.LastError = ""
			if uerr := s.store.Update(conv); uerr != nil {
				s.log.Error().Str("id", conv.ID).Err(uerr).Msg("Failed to re-queue throttled record")
			}
			s.publish()
			s.log.Warn().
				Str("id", conv.ID).
				Dur("backoff", s.limiter.CurrentBackoff()).
				Msg("Rate limited, record re-queued")
			return resultThrottled

		case ai.FailurePermanent:
			return s.fail(conv, err)

		default:
			if kind == ai.FailureMalformed {
				// Suggests a prompt contract mismatch rather than
				// infrastructure failure.
				s.log.Warn().Str("id", conv.ID).Err(err).Msg("Service returned malformed analysis")
			}
			if attempt < s.cfg.MaxRetries {
				s.log.Warn().
					Str("id", conv.ID).
					Int("attempt", attempt+1).
					Err(err).
					Msg("Transient analysis failure, retrying")
				sleepCtx(ctx, s.cfg.RetryDelay)
				continue
			}
			return s.fail(conv, err)
		}
	}
}

// fail marks a record terminally failed with a human-readable message.
func (s *Scheduler) fail(conv *storage.Conversation, err error) processResult {
	conv.Status = storage.StatusFailed
	conv.LastError = err.Error()
	conv.Analysis = nil
	if uerr := s.store.Update(conv); uerr != nil {
		s.log.Error().Str("id", conv.ID).Err(uerr).Msg("Failed to persist failed record")
	}
	s.publish()
	s.log.Error().Str("id", conv.ID).Err(err).Msg("Record failed")
	return resultFailed
}

// ComputeStats derives a stats snapshot from store counts by status plus the
// scheduler's running flag.
func (s *Scheduler) ComputeStats() QueueStats {
	counts, err := s.store.CountsByStatus()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count records")
		return QueueStats{IsProcessing: s.running.Load()}
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return QueueStats{
		Total:        total,
		Processed:    counts[storage.StatusDone],
		Failed:       counts[storage.StatusFailed],
		Pending:      counts[storage.StatusPending] + counts[storage.StatusProcessing],
		IsProcessing: s.running.Load(),
	}
}

func (s *Scheduler) publish() {
	s.reporter.Publish(s.ComputeStats())
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Package docbridge replicates row-level changes from a relational source
// into a document store, using a trigger-populated change-log table as the
// durable change feed. It targets deployments that cannot use native
// replication streams and rely on an application-level polling bridge
// instead.
package docbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/snapflowio/docbridge/changelog"
	"github.com/snapflowio/docbridge/checkpoint"
	"github.com/snapflowio/docbridge/config"
	"github.com/snapflowio/docbridge/logger"
	"github.com/snapflowio/docbridge/queue"
	"github.com/snapflowio/docbridge/target"
)

// maxBackoff caps the exponential backoff applied to transient faults on
// either store.
const maxBackoff = 30 * time.Second

type Synchronizer interface {
	// Start connects both stores, loads the checkpoint and runs the poll
	// and apply loops until ctx is cancelled or Close is called. It
	// returns a FatalConfigurationError if startup fails, or the first
	// non-retryable runtime fault if one of the loops hits one; in both
	// cases the state ends as ERROR and no background work runs.
	Start(ctx context.Context) error

	// WaitUntilReady blocks until the loops are running (or startup has
	// failed, in which case the state is ERROR).
	WaitUntilReady(ctx context.Context) error

	// Close stops the synchronizer, draining queued batches within the
	// shutdown grace period, and waits for shutdown to finish.
	Close()

	State() State
	Stats() Stats
}

// Stats is a point-in-time snapshot of synchronizer progress counters.
type Stats struct {
	BatchesApplied uint64
	RecordsApplied uint64
	RecordsSkipped uint64
	RecordsFailed  uint64
	PollRetries    uint64
	ApplyRetries   uint64
	LastSequenceID int64
}

type synchronizer struct {
	// Configuration and dependencies
	cfg         config.Config
	reader      changelog.Reader
	store       target.Store
	writer      *target.Writer
	checkpoints checkpoint.Store
	queue       *queue.Queue

	// Channels
	readyCh   chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}

	// Progress. pollPos is the in-memory poll position: the next poll
	// reads sequence ids strictly greater than it. The durable checkpoint
	// (mutated only by the apply loop) trails it by whatever is queued.
	pollPos    atomic.Int64
	generation atomic.Uint64

	// Counters
	batchesApplied atomic.Uint64
	recordsApplied atomic.Uint64
	recordsSkipped atomic.Uint64
	recordsFailed  atomic.Uint64
	pollRetries    atomic.Uint64
	applyRetries   atomic.Uint64
	lastSequenceID atomic.Int64

	// Synchronization (always last)
	state       atomic.Int32
	started     atomic.Bool
	fatalErr    error
	readyChOnce sync.Once
	failOnce    sync.Once
	closeOnce   sync.Once
}

type Option func(*synchronizer)

// WithReader injects a change-log reader, replacing the Postgres reader
// built from the configuration.
func WithReader(r changelog.Reader) Option {
	return func(s *synchronizer) {
		s.reader = r
	}
}

// WithTargetStore injects a target store, replacing the SurrealDB store
// built from the configuration.
func WithTargetStore(st target.Store) Option {
	return func(s *synchronizer) {
		s.store = st
	}
}

// WithCheckpointStore injects a checkpoint store, replacing the one
// selected by the configuration.
func WithCheckpointStore(cs checkpoint.Store) Option {
	return func(s *synchronizer) {
		s.checkpoints = cs
	}
}

func New(cfg config.Config, opts ...Option) (Synchronizer, error) {
	cfg.SetDefault()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger.SetLevel(cfg.Logger.LogLevel)

	s := &synchronizer{
		cfg:       cfg,
		queue:     queue.New(cfg.QueueCapacity, cfg.EnqueueTimeout),
		readyCh:   make(chan struct{}),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *synchronizer) Start(ctx context.Context) error {
	if !s.transition(StateStopped, StateStarting) {
		return ErrAlreadyStarted
	}
	s.started.Store(true)

	if err := s.startup(ctx); err != nil {
		s.closeResources()
		s.setState(StateError)
		s.signalReady()
		close(s.stoppedCh)
		logger.Error("[synchronizer] startup failed", "error", err)
		return err
	}

	s.setState(StateRunning)

	// The loops run on contexts detached from the caller's so that
	// cancellation goes through the ordered shutdown below instead of
	// killing an in-flight write mid-batch.
	pollCtx, cancelPoll := context.WithCancel(context.Background())
	applyCtx, cancelApply := context.WithCancel(context.Background())
	pollDone := make(chan struct{})
	applyDone := make(chan struct{})

	go s.pollLoop(pollCtx, pollDone)
	go s.applyLoop(applyCtx, applyDone)

	s.signalReady()
	logger.Info("[synchronizer] running",
		"name", s.cfg.Name,
		"changeTable", s.cfg.ChangeTable,
		"batchSize", s.cfg.BatchSize,
		"syncInterval", s.cfg.SyncInterval)

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}

	s.shutdown(cancelPoll, pollDone, cancelApply, applyDone)

	// shutdown waited for both loops, so reading fatalErr here is ordered
	// after any fail call made from them.
	if s.fatalErr != nil {
		s.setState(StateError)
		logger.Error("[synchronizer] stopped on non-retryable fault", "error", s.fatalErr)
	}
	close(s.stoppedCh)
	return s.fatalErr
}

// fail records the first non-retryable runtime fault and triggers shutdown.
// Start reports the fault and leaves the synchronizer in the ERROR state.
func (s *synchronizer) fail(err error) {
	s.failOnce.Do(func() {
		s.fatalErr = err
	})
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *synchronizer) startup(ctx context.Context) error {
	s.cfg.Print()
	logger.Info("[synchronizer] starting", "name", s.cfg.Name)

	if s.reader == nil {
		r, err := changelog.NewPostgresReader(ctx, s.cfg.Source.DSN(), s.cfg.ChangeTable, s.cfg.BatchSize, s.cfg.SourcePoolSize)
		if err != nil {
			return &FatalConfigurationError{Stage: "source connect", Err: err}
		}
		s.reader = r
	}

	if s.store == nil {
		st, err := target.NewSurrealStore(s.cfg.Target)
		if err != nil {
			return &FatalConfigurationError{Stage: "target connect", Err: err}
		}
		s.store = st
	}
	s.writer = target.NewWriter(s.store)

	if s.checkpoints == nil {
		cs, err := s.newCheckpointStore(ctx)
		if err != nil {
			return &FatalConfigurationError{Stage: "checkpoint store", Err: err}
		}
		s.checkpoints = cs
	}

	cp, err := s.checkpoints.Load(ctx)
	if err != nil {
		return &FatalConfigurationError{Stage: "checkpoint load", Err: err}
	}

	s.pollPos.Store(cp.LastSequenceID)
	s.lastSequenceID.Store(cp.LastSequenceID)
	logger.Info("[synchronizer] checkpoint loaded",
		"lastSequenceID", cp.LastSequenceID,
		"fullResync", cp.IsZero())

	return nil
}

func (s *synchronizer) newCheckpointStore(ctx context.Context) (checkpoint.Store, error) {
	switch s.cfg.Checkpoint.Backend {
	case config.CheckpointBackendSource:
		return checkpoint.NewPostgresStore(ctx, s.cfg.Source.DSN(), s.cfg.Checkpoint.Table, s.cfg.Name)
	case config.CheckpointBackendSQLite:
		return checkpoint.NewSQLiteStore(s.cfg.Checkpoint.Path, s.cfg.Name)
	case config.CheckpointBackendMemory:
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", s.cfg.Checkpoint.Backend)
	}
}

func (s *synchronizer) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	logger.Debug("[poll] loop started", "interval", s.cfg.SyncInterval)
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("[poll] loop stopped")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *synchronizer) pollOnce(ctx context.Context) {
	pos := s.pollPos.Load()
	gen := s.generation.Load()

	var batch *changelog.Batch
	err := retry.Do(
		func() error {
			b, err := s.reader.Poll(ctx, checkpoint.Checkpoint{LastSequenceID: pos})
			if err != nil {
				if changelog.IsRetryable(err) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			batch = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(maxBackoff),
		retry.OnRetry(func(n uint, err error) {
			s.pollRetries.Add(1)
			logger.Warn("[poll] transient source fault, backing off",
				"attempt", n+1,
				"sinceSequenceID", pos,
				"error", err)
		}),
	)
	if err != nil {
		// Retryable faults never escape retry.Do, so this is a
		// non-retryable failure (or cancellation): re-issuing the poll
		// each tick could only repeat it.
		if ctx.Err() == nil {
			logger.Error("[poll] non-retryable poll failure", "sinceSequenceID", pos, "error", err)
			s.fail(fmt.Errorf("poll change log: %w", err))
		}
		return
	}

	if batch.Empty() {
		logger.Debug("[poll] no new changes", "sinceSequenceID", pos)
		return
	}

	logger.Debug("[poll] batch read",
		"sinceSequenceID", pos,
		"records", len(batch.Records),
		"poisoned", len(batch.Poisoned))

	if err := s.queue.Enqueue(ctx, queue.Item{Batch: batch, Generation: gen}); err != nil {
		// The poll position was not advanced, so the same range is
		// re-read next tick. Nothing is dropped.
		logger.Warn("[poll] enqueue failed, batch will be re-read", "error", err)
		return
	}

	// Publish the new position unless the apply loop rewound it while this
	// batch was in flight. A lost CAS leaves the rewound position in place
	// and the overlap is absorbed by idempotent writes.
	s.pollPos.CompareAndSwap(pos, batch.MaxSequence())
}

func (s *synchronizer) applyLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		item, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				logger.Debug("[apply] queue drained, loop stopped")
			}
			return
		}

		if item.Generation != s.generation.Load() {
			logger.Debug("[apply] discarding batch from stale generation",
				"generation", item.Generation,
				"maxSequenceID", item.Batch.MaxSequence())
			continue
		}

		s.applyBatch(ctx, item.Batch)
	}
}

func (s *synchronizer) applyBatch(ctx context.Context, batch *changelog.Batch) {
	var result *target.ApplyResult
	err := retry.Do(
		func() error {
			r, err := s.writer.Apply(ctx, batch)
			if err != nil {
				if changelog.IsRetryable(err) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(maxBackoff),
		retry.OnRetry(func(n uint, err error) {
			s.applyRetries.Add(1)
			logger.Warn("[apply] target store fault, retrying batch",
				"attempt", n+1,
				"maxSequenceID", batch.MaxSequence(),
				"error", err)
		}),
	)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("[apply] non-retryable apply failure", "maxSequenceID", batch.MaxSequence(), "error", err)
			s.fail(fmt.Errorf("apply batch: %w", err))
		}
		return
	}

	s.batchesApplied.Add(1)
	s.recordsApplied.Add(uint64(result.Applied))
	s.recordsSkipped.Add(uint64(result.Skipped))
	s.recordsFailed.Add(uint64(len(result.Failed)))

	if result.AppliedThrough > s.lastSequenceID.Load() {
		cp := checkpoint.Checkpoint{
			LastSequenceID: result.AppliedThrough,
			LastTimestamp:  result.AppliedAt,
		}
		if err := s.checkpoints.Advance(ctx, cp); err != nil {
			// Progress stays applied but not durable; after a restart the
			// prefix is simply replayed through idempotent writes.
			logger.Error("[apply] checkpoint advance failed", "sequenceID", cp.LastSequenceID, "error", err)
		} else {
			s.lastSequenceID.Store(cp.LastSequenceID)
		}
	}

	logger.Info("[apply] batch applied",
		"applied", result.Applied,
		"skipped", result.Skipped,
		"failed", len(result.Failed),
		"checkpoint", s.lastSequenceID.Load())

	if result.PartialFailure() {
		for _, f := range result.Failed {
			logger.Warn("[apply] record failed",
				"sequenceID", f.SequenceID,
				"key", f.Key.String(),
				"error", f.Err)
		}
		s.rewind(result.AppliedThrough)
	}
}

// rewind moves the poll position back to the last contiguously handled
// sequence id after a partial batch failure, so the failed tail is re-read
// in order on the next cycle. Batches already polled past the failure are
// invalidated by bumping the generation; applying them would let the
// checkpoint jump the gap.
func (s *synchronizer) rewind(through int64) {
	if through == 0 {
		through = s.lastSequenceID.Load()
	}

	s.generation.Add(1)

	for {
		cur := s.pollPos.Load()
		if cur <= through || s.pollPos.CompareAndSwap(cur, through) {
			break
		}
	}

	discarded := 0
	for {
		if _, ok := s.queue.TryDequeue(); !ok {
			break
		}
		discarded++
	}

	logger.Info("[apply] rewound poll position for failed tail",
		"throughSequenceID", through,
		"discardedBatches", discarded)
}

func (s *synchronizer) shutdown(cancelPoll context.CancelFunc, pollDone chan struct{}, cancelApply context.CancelFunc, applyDone chan struct{}) {
	s.setState(StateStopping)
	logger.Info("[synchronizer] stopping", "queuedBatches", s.queue.Len())

	cancelPoll()
	<-pollDone

	// The producer is stopped, so closing is safe; the apply loop drains
	// whatever is buffered before it exits.
	s.queue.Close()

	select {
	case <-applyDone:
	case <-time.After(s.cfg.ShutdownTimeout):
		logger.Warn("[synchronizer] grace period elapsed, abandoning queued batches")
		cancelApply()
		<-applyDone
	}

	s.closeResources()

	s.setState(StateStopped)
	logger.Info("[synchronizer] stopped", "lastSequenceID", s.lastSequenceID.Load())
}

// closeResources closes whatever startup managed to construct; nil fields
// mean startup failed before reaching them.
func (s *synchronizer) closeResources() {
	if s.reader != nil {
		s.reader.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warn("[synchronizer] target store close failed", "error", err)
		}
	}
	if s.checkpoints != nil {
		if err := s.checkpoints.Close(); err != nil {
			logger.Warn("[synchronizer] checkpoint store close failed", "error", err)
		}
	}
}

func (s *synchronizer) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		if s.State() == StateError {
			return errors.New("synchronizer failed to start")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.stoppedCh
	}
}

func (s *synchronizer) State() State {
	return State(s.state.Load())
}

func (s *synchronizer) Stats() Stats {
	return Stats{
		BatchesApplied: s.batchesApplied.Load(),
		RecordsApplied: s.recordsApplied.Load(),
		RecordsSkipped: s.recordsSkipped.Load(),
		RecordsFailed:  s.recordsFailed.Load(),
		PollRetries:    s.pollRetries.Load(),
		ApplyRetries:   s.applyRetries.Load(),
		LastSequenceID: s.lastSequenceID.Load(),
	}
}

func (s *synchronizer) signalReady() {
	s.readyChOnce.Do(func() {
		close(s.readyCh)
	})
}

func (s *synchronizer) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *synchronizer) setState(st State) {
	s.state.Store(int32(st))
}

// Package batch orchestrates multi-item translation requests: chunked
// concurrency, atomic progress tracking, and partial-failure aggregation
// that never drops completed work.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rulebridge/rulebridge/errors"
)

// Defaults for orchestration options.
const (
	DefaultMaxConcurrent = 10
	DefaultMaxBatchSize  = 50
)

// Status is the orchestrator's lifecycle state. It only moves forward:
// idle -> processing -> completed | failed.
type Status int32

const (
	StatusIdle Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Item is one entry in a batch: rule content and the format it is in.
// The whole batch shares a single target format.
type Item struct {
	Content      string `json:"content"`
	SourceFormat string `json:"source_format"`
}

// Options tunes one ProcessBatch run.
type Options struct {
	// MaxConcurrent is the chunk size; items within a chunk run in
	// parallel, chunks run sequentially. Default 10.
	MaxConcurrent int
	// ContinueOnError keeps processing later chunks after failures.
	// When false, processing stops after the first chunk containing a
	// failure, with that chunk's completed work preserved.
	ContinueOnError bool
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	return o
}

// ItemSuccess pairs a result with the index of the item that produced it.
type ItemSuccess[T any] struct {
	Index  int
	Result T
}

// ItemFailure records a failed item by its original batch index so
// callers can correlate errors back to their inputs.
type ItemFailure struct {
	Index int
	Err   error
}

// FormatItemError renders a failure in the legacy display convention.
// The index stays data in the model; this prefix is presentation only.
func FormatItemError(f ItemFailure) string {
	return fmt.Sprintf("Detection %d: %v", f.Index+1, f.Err)
}

// BatchResult aggregates a run's outcomes. Successful and Failed together
// cover every processed item; items skipped by an early stop or abort
// appear in neither.
type BatchResult[T any] struct {
	BatchID    string
	Successful []ItemSuccess[T]
	Failed     []ItemFailure
}

// BatchProgress is a live snapshot of a run.
type BatchProgress struct {
	Total     int
	Completed int
	Failed    int
	Status    Status
}

// ProcessFunc translates one item. The index is the item's position in
// the original batch.
type ProcessFunc[T any] func(ctx context.Context, index int, item Item, targetFormat string) (T, error)

// Orchestrator runs batches through a ProcessFunc. One orchestrator
// serves one batch at a time; Progress and Abort refer to the current run.
type Orchestrator[T any] struct {
	process      ProcessFunc[T]
	maxBatchSize int
	logger       *slog.Logger

	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	status    atomic.Int32
	aborted   atomic.Bool
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption[T any] func(*Orchestrator[T])

// WithMaxBatchSize overrides the wholesale admission cap.
func WithMaxBatchSize[T any](n int) OrchestratorOption[T] {
	return func(o *Orchestrator[T]) {
		if n > 0 {
			o.maxBatchSize = n
		}
	}
}

// WithBatchLogger sets the orchestrator logger.
func WithBatchLogger[T any](l *slog.Logger) OrchestratorOption[T] {
	return func(o *Orchestrator[T]) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator builds an idle orchestrator around process.
func NewOrchestrator[T any](process ProcessFunc[T], opts ...OrchestratorOption[T]) *Orchestrator[T] {
	o := &Orchestrator[T]{
		process:      process,
		maxBatchSize: DefaultMaxBatchSize,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessBatch runs items toward targetFormat. Empty and oversized
// batches are rejected wholesale before any item is processed.
func (o *Orchestrator[T]) ProcessBatch(ctx context.Context, items []Item, targetFormat string, opts Options) (BatchResult[T], error) {
	result := BatchResult[T]{BatchID: uuid.NewString()}

	if len(items) == 0 {
		return result, errors.WrapInput(errors.ErrEmptyBatch, "batch", "ProcessBatch", "admit batch")
	}
	if len(items) > o.maxBatchSize {
		return result, errors.WrapInput(
			fmt.Errorf("%w: %d items exceeds limit of %d", errors.ErrBatchTooLarge, len(items), o.maxBatchSize),
			"batch", "ProcessBatch", "admit batch")
	}

	opts = opts.withDefaults()

	o.total.Store(int64(len(items)))
	o.completed.Store(0)
	o.failed.Store(0)
	o.aborted.Store(false)
	o.status.Store(int32(StatusProcessing))

	o.logger.Info("batch started",
		"batch_id", result.BatchID, "items", len(items),
		"target_format", targetFormat, "max_concurrent", opts.MaxConcurrent)

	var mu sync.Mutex // guards result slices across chunk goroutines

	stopped := false
	for start := 0; start < len(items); start += opts.MaxConcurrent {
		if o.aborted.Load() || ctx.Err() != nil {
			stopped = true
			break
		}

		end := start + opts.MaxConcurrent
		if end > len(items) {
			end = len(items)
		}

		chunkFailed := o.runChunk(ctx, items[start:end], start, targetFormat, &mu, &result)

		if chunkFailed && !opts.ContinueOnError {
			stopped = true
			break
		}
	}

	if ctx.Err() != nil {
		o.status.Store(int32(StatusFailed))
		o.logger.Warn("batch canceled",
			"batch_id", result.BatchID,
			"completed", len(result.Successful), "failed", len(result.Failed))
		return result, errors.WrapInfra(ctx.Err(), "batch", "ProcessBatch", "run batch")
	}

	// Deterministic output order regardless of chunk scheduling.
	sort.Slice(result.Successful, func(i, j int) bool {
		return result.Successful[i].Index < result.Successful[j].Index
	})
	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].Index < result.Failed[j].Index
	})

	if stopped || len(result.Failed) == len(items) {
		o.status.Store(int32(StatusFailed))
	} else {
		o.status.Store(int32(StatusCompleted))
	}

	o.logger.Info("batch finished",
		"batch_id", result.BatchID, "status", o.Progress().Status.String(),
		"succeeded", len(result.Successful), "failed", len(result.Failed))
	return result, nil
}

// runChunk processes one chunk concurrently and reports whether any item
// in it failed.
func (o *Orchestrator[T]) runChunk(ctx context.Context, chunk []Item, offset int, targetFormat string, mu *sync.Mutex, result *BatchResult[T]) bool {
	var anyFailed atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range chunk {
		index := offset + i
		item := item
		g.Go(func() error {
			out, err := o.process(gctx, index, item, targetFormat)
			if err != nil {
				anyFailed.Store(true)
				o.failed.Add(1)
				mu.Lock()
				result.Failed = append(result.Failed, ItemFailure{Index: index, Err: err})
				mu.Unlock()
				// Item failures are aggregated, not propagated: a failed
				// item must not cancel its chunk siblings.
				return nil
			}
			o.completed.Add(1)
			mu.Lock()
			result.Successful = append(result.Successful, ItemSuccess[T]{Index: index, Result: out})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return anyFailed.Load()
}

// Progress returns the current run's counters.
func (o *Orchestrator[T]) Progress() BatchProgress {
	return BatchProgress{
		Total:     int(o.total.Load()),
		Completed: int(o.completed.Load()),
		Failed:    int(o.failed.Load()),
		Status:    Status(o.status.Load()),
	}
}

// Abort cooperatively stops the current run: the in-flight chunk drains,
// no further chunks are dispatched.
func (o *Orchestrator[T]) Abort() {
	o.aborted.Store(true)
}

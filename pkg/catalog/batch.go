package catalog

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind describes how a batch was started.
type Kind string

const (
	// KindRange is a batch started by LoadRange.
	KindRange Kind = "range"

	// KindRetry is a batch started by Retry.
	KindRetry Kind = "retry"
)

// Status describes how far a batch has settled.
type Status string

const (
	// StatusLoading means at least one identifier is still pending.
	StatusLoading Status = "loading"

	// StatusComplete means every identifier merged into the collection.
	StatusComplete Status = "complete"

	// StatusCompleteWithErrors means every identifier settled and at least
	// one landed in the error map.
	StatusCompleteWithErrors Status = "complete_with_errors"
)

// Range is an inclusive identifier range.
type Range struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// Len returns the number of identifiers in the range.
func (r Range) Len() int {
	return r.Hi - r.Lo + 1
}

// Progress counts the settlement of a batch.
type Progress struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Batch is the handle returned for a launched set of fetches. It settles
// once every identifier has merged into the store.
type Batch struct {
	ID        string
	Kind      Kind
	Range     Range
	StartedAt time.Time

	ids       []int
	succeeded atomic.Int64
	failed    atomic.Int64
	wg        sync.WaitGroup
	done      chan struct{}

	mu         sync.Mutex
	failures   map[int]string
	finishedAt time.Time
}

func newBatch(kind Kind, ids []int) *Batch {
	b := &Batch{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now(),
		ids:       ids,
		done:      make(chan struct{}),
		failures:  make(map[int]string),
	}
	if len(ids) > 0 {
		b.Range = Range{Lo: slices.Min(ids), Hi: slices.Max(ids)}
	}
	return b
}

// IDs returns the identifiers covered by the batch.
func (b *Batch) IDs() []int {
	return slices.Clone(b.ids)
}

// Done is closed once every identifier of the batch has settled.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch has settled or ctx is done.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the current settlement counts.
func (b *Batch) Progress() Progress {
	succeeded := int(b.succeeded.Load())
	failed := int(b.failed.Load())
	return Progress{
		Total:     len(b.ids),
		Succeeded: succeeded,
		Failed:    failed,
		Pending:   len(b.ids) - succeeded - failed,
	}
}

// Status reports whether the batch is still loading and, once settled,
// whether any identifier failed.
func (b *Batch) Status() Status {
	select {
	case <-b.done:
	default:
		return StatusLoading
	}
	if b.failed.Load() > 0 {
		return StatusCompleteWithErrors
	}
	return StatusComplete
}

// Failures returns the identifiers of this batch that failed, with reasons.
func (b *Batch) Failures() map[int]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.failures)
}

// Duration returns the time from launch until settlement, or until now
// while the batch is still loading.
func (b *Batch) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finishedAt.IsZero() {
		return time.Since(b.StartedAt)
	}
	return b.finishedAt.Sub(b.StartedAt)
}

// Summary is a serializable view of a batch.
type Summary struct {
	ID       string         `json:"id"`
	Kind     Kind           `json:"kind"`
	Range    Range          `json:"range"`
	Status   Status         `json:"status"`
	Progress Progress       `json:"progress"`
	Failures map[int]string `json:"failures,omitempty"`
	Duration string         `json:"duration"`
}

// Summary returns a point-in-time view of the batch.
func (b *Batch) Summary() Summary {
	return Summary{
		ID:       b.ID,
		Kind:     b.Kind,
		Range:    b.Range,
		Status:   b.Status(),
		Progress: b.Progress(),
		Failures: b.Failures(),
		Duration: b.Duration().Round(time.Millisecond).String(),
	}
}

func (b *Batch) recordSuccess() {
	b.succeeded.Add(1)
}

func (b *Batch) recordFailure(id int, reason string) {
	b.mu.Lock()
	b.failures[id] = reason
	b.mu.Unlock()
	b.failed.Add(1)
}

func (b *Batch) finish() {
	b.mu.Lock()
	b.finishedAt = time.Now()
	b.mu.Unlock()
	close(b.done)
}

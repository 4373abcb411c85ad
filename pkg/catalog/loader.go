package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Sternrassler/product-catalog-client/pkg/product"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Sternrassler/product-catalog-client/pkg/catalog"

// Errors returned when a batch cannot be launched.
var (
	// ErrInvalidRange is returned when lo < 1, hi < lo or the range holds
	// more than MaxRangeSize identifiers.
	ErrInvalidRange = errors.New("invalid identifier range")

	// ErrNoIdentifiers is returned when Retry is called without identifiers.
	ErrNoIdentifiers = errors.New("no identifiers to fetch")
)

// Default range of the public catalog.
const (
	DefaultRangeLo = 1
	DefaultRangeHi = 194
)

// MaxRangeSize is the largest number of identifiers a single LoadRange
// accepts. Each identifier costs one goroutine and one request.
const MaxRangeSize = 10_000

// maxTrackedBatches bounds how many batch handles Loader.Batch can look up.
const maxTrackedBatches = 64

// Fetcher performs a single product lookup. *client.Client implements it.
type Fetcher interface {
	FetchProduct(ctx context.Context, id int) (product.Product, error)
}

// Config holds loader configuration.
type Config struct {
	// MaxConcurrency caps fetches in flight across all batches of the loader.
	// Zero launches every fetch immediately.
	MaxConcurrency int

	// ResetOnLoad clears the store before each LoadRange. Without it results
	// accumulate across batches: an identifier that succeeded in an earlier
	// batch and fails in a later one stays in the collection and also gets
	// an error entry. Each identifier of a settled range is in exactly one
	// of the two containers only with ResetOnLoad or on the first load.
	ResetOnLoad bool
}

// DefaultConfig returns the default loader configuration: unbounded fan-out,
// results accumulate across batches.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 0,
		ResetOnLoad:    false,
	}
}

// Loader launches per-identifier fetches and merges their outcomes into a Store.
type Loader struct {
	fetcher Fetcher
	store   *Store
	config  Config
	sem     chan struct{}
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	batches map[string]*Batch
	order   []string
}

// NewLoader creates a loader writing into store.
func NewLoader(fetcher Fetcher, store *Store, config Config) *Loader {
	l := &Loader{
		fetcher: fetcher,
		store:   store,
		config:  config,
		logger:  log.With().Str("component", "catalog-loader").Logger(),
		tracer:  otel.Tracer(tracerName),
		batches: make(map[string]*Batch),
	}
	if config.MaxConcurrency > 0 {
		l.sem = make(chan struct{}, config.MaxConcurrency)
	}
	return l
}

// Store returns the store the loader merges into.
func (l *Loader) Store() *Store {
	return l.store
}

// LoadRange launches one fetch per identifier in [lo, hi] and returns
// immediately. Cancelling ctx cancels the fetches still running; those
// identifiers are recorded as failures. See Config.ResetOnLoad for how
// results of earlier batches are kept; Batch.Failures reports the outcome
// of this batch alone.
func (l *Loader) LoadRange(ctx context.Context, lo, hi int) (*Batch, error) {
	if lo < 1 || hi < lo {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, lo, hi)
	}
	if hi-lo >= MaxRangeSize {
		return nil, fmt.Errorf("%w: [%d, %d] exceeds %d identifiers", ErrInvalidRange, lo, hi, MaxRangeSize)
	}

	if l.config.ResetOnLoad {
		l.store.Reset()
	}

	ids := make([]int, 0, hi-lo+1)
	for id := lo; ; id++ {
		ids = append(ids, id)
		if id == hi {
			break
		}
	}

	return l.launch(ctx, KindRange, ids), nil
}

// Retry launches one fetch per given identifier, ignoring duplicates.
// It is typically called with Store().FailedIDs().
func (l *Loader) Retry(ctx context.Context, ids ...int) (*Batch, error) {
	if len(ids) == 0 {
		return nil, ErrNoIdentifiers
	}

	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	if unique[0] < 1 {
		return nil, fmt.Errorf("%w: identifier %d", ErrInvalidRange, unique[0])
	}

	return l.launch(ctx, KindRetry, unique), nil
}

// Batch returns a recently launched batch by ID.
func (l *Loader) Batch(id string) (*Batch, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.batches[id]
	return b, ok
}

func (l *Loader) launch(ctx context.Context, kind Kind, ids []int) *Batch {
	b := newBatch(kind, ids)
	l.track(b)

	ctx, span := l.tracer.Start(ctx, "catalog.Batch",
		trace.WithAttributes(
			attribute.String("batch.id", b.ID),
			attribute.String("batch.kind", string(kind)),
			attribute.Int("batch.size", len(ids)),
		),
	)

	logger := l.logger.With().Str("batch_id", b.ID).Logger()
	logger.Info().
		Str("kind", string(kind)).
		Int("lo", b.Range.Lo).
		Int("hi", b.Range.Hi).
		Int("total", len(ids)).
		Int("max_concurrency", l.config.MaxConcurrency).
		Msg("Starting batch fetch")

	BatchesTotal.WithLabelValues(string(kind)).Inc()

	b.wg.Add(len(ids))
	for _, id := range ids {
		go l.fetchOne(ctx, b, id, logger)
	}

	go func() {
		b.wg.Wait()
		b.finish()

		progress := b.Progress()
		BatchDuration.Observe(b.Duration().Seconds())

		span.SetAttributes(
			attribute.Int("batch.succeeded", progress.Succeeded),
			attribute.Int("batch.failed", progress.Failed),
		)
		if progress.Failed > 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("%d of %d fetches failed", progress.Failed, progress.Total))
		}
		span.End()

		logger.Info().
			Int("succeeded", progress.Succeeded).
			Int("failed", progress.Failed).
			Dur("duration", b.Duration()).
			Str("status", string(b.Status())).
			Msg("Batch settled")
	}()

	return b
}

// fetchOne fetches a single identifier and merges the outcome.
func (l *Loader) fetchOne(ctx context.Context, b *Batch, id int, logger zerolog.Logger) {
	defer b.wg.Done()

	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			l.mergeFailure(b, id, fmt.Sprintf("fetch product %d: not started: %v", id, ctx.Err()), logger)
			return
		}
	}

	FetchesInFlight.Inc()
	start := time.Now()
	p, err := l.fetcher.FetchProduct(ctx, id)
	FetchesInFlight.Dec()

	if err == nil && p.ID != id {
		err = fmt.Errorf("fetch product %d: fetcher returned product %d", id, p.ID)
	}
	if err != nil {
		l.mergeFailure(b, id, err.Error(), logger)
		return
	}

	l.store.MergeProduct(p)
	b.recordSuccess()
	Merges.WithLabelValues("product").Inc()

	logger.Debug().
		Int("product_id", id).
		Dur("duration", time.Since(start)).
		Msg("Product merged")
}

func (l *Loader) mergeFailure(b *Batch, id int, reason string, logger zerolog.Logger) {
	l.store.MergeError(id, reason)
	b.recordFailure(id, reason)
	Merges.WithLabelValues("error").Inc()

	logger.Warn().
		Int("product_id", id).
		Str("reason", reason).
		Msg("Product fetch failed")
}

// track remembers b for lookups, forgetting the oldest settled batches.
func (l *Loader) track(b *Batch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.batches[b.ID] = b
	l.order = append(l.order, b.ID)

	for len(l.order) > maxTrackedBatches {
		oldest := l.batches[l.order[0]]
		if oldest.Status() == StatusLoading {
			break
		}
		delete(l.batches, l.order[0])
		l.order = l.order[1:]
	}
}

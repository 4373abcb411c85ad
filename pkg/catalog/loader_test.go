package catalog

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitBatch(t *testing.T, b *Batch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx), "batch did not settle")
}

// assertPartition checks every identifier of [lo, hi] sits in exactly one container.
func assertPartition(t *testing.T, store *Store, lo, hi int) {
	t.Helper()
	errs := store.Errors()
	for id := lo; id <= hi; id++ {
		_, inProducts := store.Product(id)
		_, inErrors := errs[id]
		assert.True(t, inProducts != inErrors, "id %d: in products=%v, in errors=%v", id, inProducts, inErrors)
	}
}

func TestLoadRange_Validation(t *testing.T) {
	tests := []struct {
		name string
		lo   int
		hi   int
	}{
		{"zero lo", 0, 5},
		{"negative lo", -3, 5},
		{"hi below lo", 5, 4},
		{"wider than max size", 1, MaxRangeSize + 1},
		{"hi at max int", 1, math.MaxInt},
		{"billion identifiers", 1, 1_000_000_000},
	}

	fetcher := newFakeFetcher()
	loader := NewLoader(fetcher, NewStore(), DefaultConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := loader.LoadRange(context.Background(), tt.lo, tt.hi)
			assert.ErrorIs(t, err, ErrInvalidRange)
			assert.Nil(t, b)
		})
	}
	assert.Zero(t, fetcher.callCount(1))
}

func TestLoadRange_TopOfIntRange(t *testing.T) {
	store := NewStore()
	loader := NewLoader(newFakeFetcher(), store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), math.MaxInt-2, math.MaxInt)
	require.NoError(t, err)
	waitBatch(t, b)

	assert.Equal(t, 3, b.Progress().Total)
	assert.Equal(t, []int{math.MaxInt - 2, math.MaxInt - 1, math.MaxInt}, productIDs(store.Products()))
}

func TestLoadRange_PartialFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail(2, errors.New("fetch product 2: HTTP 404 Not Found"))
	store := NewStore()
	loader := NewLoader(fetcher, store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 3)
	require.NoError(t, err)
	waitBatch(t, b)

	assert.Equal(t, []int{1, 3}, productIDs(store.Products()))
	require.Len(t, store.Errors(), 1)
	assert.Contains(t, store.Errors()[2], "404")

	assert.Equal(t, StatusCompleteWithErrors, b.Status())
	assert.Equal(t, Progress{Total: 3, Succeeded: 2, Failed: 1, Pending: 0}, b.Progress())
	assert.Contains(t, b.Failures(), 2)
	assertPartition(t, store, 1, 3)
}

func TestLoadRange_SingleIdentifier(t *testing.T) {
	store := NewStore()
	loader := NewLoader(newFakeFetcher(), store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 5, 5)
	require.NoError(t, err)
	waitBatch(t, b)

	assert.Equal(t, []int{5}, productIDs(store.Products()))
	assert.Empty(t, store.Errors())
	assert.Equal(t, StatusComplete, b.Status())
	assert.Equal(t, Range{Lo: 5, Hi: 5}, b.Range)
}

func TestRetry_ClearsError(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail(2, errors.New("fetch product 2: HTTP 404 Not Found"))
	store := NewStore()
	loader := NewLoader(fetcher, store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 3)
	require.NoError(t, err)
	waitBatch(t, b)
	require.Equal(t, []int{2}, store.FailedIDs())

	fetcher.heal(2)
	retry, err := loader.Retry(context.Background(), store.FailedIDs()...)
	require.NoError(t, err)
	waitBatch(t, retry)

	assert.Equal(t, []int{1, 2, 3}, productIDs(store.Products()))
	assert.Empty(t, store.Errors())
	assert.Equal(t, KindRetry, retry.Kind)
	assert.Equal(t, 1, fetcher.callCount(1), "retry must only fetch the failed identifier")
	assert.Equal(t, 2, fetcher.callCount(2))
}

func TestRetry_Validation(t *testing.T) {
	loader := NewLoader(newFakeFetcher(), NewStore(), DefaultConfig())

	_, err := loader.Retry(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentifiers)

	_, err = loader.Retry(context.Background(), 3, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRetry_Deduplicates(t *testing.T) {
	fetcher := newFakeFetcher()
	loader := NewLoader(fetcher, NewStore(), DefaultConfig())

	b, err := loader.Retry(context.Background(), 4, 2, 4, 2)
	require.NoError(t, err)
	waitBatch(t, b)

	assert.Equal(t, []int{2, 4}, b.IDs())
	assert.Equal(t, 1, fetcher.callCount(4))
}

func TestLoadRange_FullCatalog(t *testing.T) {
	store := NewStore()
	loader := NewLoader(newFakeFetcher(), store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), DefaultRangeLo, DefaultRangeHi)
	require.NoError(t, err)
	waitBatch(t, b)

	ids := productIDs(store.Products())
	require.Len(t, ids, 194)
	for i, id := range ids {
		assert.Equal(t, i+1, id)
	}
	assert.Empty(t, store.Errors())
	assert.Equal(t, 194, b.Progress().Succeeded)
}

func TestLoadRange_Idempotent(t *testing.T) {
	store := NewStore()
	loader := NewLoader(newFakeFetcher(), store, DefaultConfig())

	first, err := loader.LoadRange(context.Background(), 1, 10)
	require.NoError(t, err)
	waitBatch(t, first)

	second, err := loader.LoadRange(context.Background(), 5, 15)
	require.NoError(t, err)
	waitBatch(t, second)

	ids := productIDs(store.Products())
	assert.Len(t, ids, 15)
	assert.Equal(t, ids, slices.Compact(slices.Clone(ids)), "overlapping loads must not duplicate entries")
}

func TestLoadRange_AccumulatesByDefault(t *testing.T) {
	fetcher := newFakeFetcher()
	store := NewStore()
	loader := NewLoader(fetcher, store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 3)
	require.NoError(t, err)
	waitBatch(t, b)

	fetcher.fail(2, errors.New("gone"))
	b, err = loader.LoadRange(context.Background(), 2, 2)
	require.NoError(t, err)
	waitBatch(t, b)

	// The earlier success stays; the new failure is recorded next to it.
	assert.Equal(t, []int{1, 2, 3}, productIDs(store.Products()))
	assert.Equal(t, map[int]string{2: "gone"}, store.Errors())
}

func TestLoadRange_ResetOnLoad(t *testing.T) {
	fetcher := newFakeFetcher()
	store := NewStore()
	loader := NewLoader(fetcher, store, Config{ResetOnLoad: true})

	b, err := loader.LoadRange(context.Background(), 1, 3)
	require.NoError(t, err)
	waitBatch(t, b)

	fetcher.fail(2, errors.New("gone"))
	b, err = loader.LoadRange(context.Background(), 2, 2)
	require.NoError(t, err)
	waitBatch(t, b)

	assert.Empty(t, store.Products())
	assert.Equal(t, map[int]string{2: "gone"}, store.Errors())
	assertPartition(t, store, 2, 2)
}

func TestLoadRange_FailureDoesNotDelayOthers(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.delay(1, 500*time.Millisecond)
	fetcher.fail(1, errors.New("slow failure"))
	store := NewStore()
	loader := NewLoader(fetcher, store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 4)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.Len() == 3
	}, 300*time.Millisecond, 5*time.Millisecond, "fast identifiers should merge while 1 is pending")

	assert.Equal(t, StatusLoading, b.Status())
	assert.Equal(t, 1, b.Progress().Pending)

	waitBatch(t, b)
	assert.Equal(t, []int{2, 3, 4}, productIDs(store.Products()))
	assert.Equal(t, []int{1}, store.FailedIDs())
}

func TestLoadRange_UnboundedFanOut(t *testing.T) {
	fetcher := newBlockingFetcher(20)
	loader := NewLoader(fetcher, NewStore(), DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 20)
	require.NoError(t, err)

	// Every fetch starts before any of them is released.
	for i := 0; i < 20; i++ {
		select {
		case <-fetcher.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 20 fetches started", i)
		}
	}

	close(fetcher.release)
	waitBatch(t, b)
	assert.Equal(t, StatusComplete, b.Status())
}

func TestLoadRange_BoundedConcurrency(t *testing.T) {
	fetcher := newFakeFetcher()
	for id := 1; id <= 30; id++ {
		fetcher.delay(id, 10*time.Millisecond)
	}
	fetcher.fail(7, errors.New("boom"))
	store := NewStore()
	loader := NewLoader(fetcher, store, Config{MaxConcurrency: 4})

	b, err := loader.LoadRange(context.Background(), 1, 30)
	require.NoError(t, err)
	waitBatch(t, b)

	assert.LessOrEqual(t, fetcher.peak.Load(), int64(4))
	assert.Equal(t, 29, store.Len())
	assert.Equal(t, []int{7}, store.FailedIDs())
	assertPartition(t, store, 1, 30)
}

func TestLoadRange_Cancellation(t *testing.T) {
	fetcher := newBlockingFetcher(10)
	store := NewStore()
	loader := NewLoader(fetcher, store, Config{MaxConcurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	b, err := loader.LoadRange(ctx, 1, 10)
	require.NoError(t, err)

	<-fetcher.started
	<-fetcher.started
	cancel()
	waitBatch(t, b)

	assert.Equal(t, StatusCompleteWithErrors, b.Status())
	assert.Zero(t, store.Len())
	assert.Len(t, store.Errors(), 10)
	assertPartition(t, store, 1, 10)
}

func TestLoadRange_RejectsMismatchedProduct(t *testing.T) {
	store := NewStore()
	loader := NewLoader(mismatchFetcher{}, store, DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 2)
	require.NoError(t, err)
	waitBatch(t, b)

	assert.Zero(t, store.Len())
	assert.Contains(t, store.Errors()[1], "returned product 2")
}

func TestLoader_BatchLookup(t *testing.T) {
	loader := NewLoader(newFakeFetcher(), NewStore(), DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 2)
	require.NoError(t, err)
	waitBatch(t, b)

	found, ok := loader.Batch(b.ID)
	require.True(t, ok)
	assert.Same(t, b, found)

	_, ok = loader.Batch("unknown")
	assert.False(t, ok)
}

func TestLoader_ForgetsOldBatches(t *testing.T) {
	loader := NewLoader(newFakeFetcher(), NewStore(), DefaultConfig())

	var first *Batch
	for i := 0; i < maxTrackedBatches+5; i++ {
		b, err := loader.LoadRange(context.Background(), 1, 1)
		require.NoError(t, err)
		waitBatch(t, b)
		if first == nil {
			first = b
		}
	}

	_, ok := loader.Batch(first.ID)
	assert.False(t, ok)
}

func TestBatch_Summary(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail(2, errors.New("boom"))
	loader := NewLoader(fetcher, NewStore(), DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 2)
	require.NoError(t, err)
	waitBatch(t, b)

	summary := b.Summary()
	assert.Equal(t, b.ID, summary.ID)
	assert.Equal(t, KindRange, summary.Kind)
	assert.Equal(t, StatusCompleteWithErrors, summary.Status)
	assert.Equal(t, map[int]string{2: "boom"}, summary.Failures)
	assert.NotEmpty(t, summary.Duration)
}

func TestBatch_WaitHonoursContext(t *testing.T) {
	fetcher := newBlockingFetcher(1)
	loader := NewLoader(fetcher, NewStore(), DefaultConfig())

	b, err := loader.LoadRange(context.Background(), 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)

	close(fetcher.release)
	waitBatch(t, b)
}

package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/product-catalog-client/pkg/product"
	"github.com/shopspring/decimal"
)

// fakeFetcher serves generated products and configurable failures.
type fakeFetcher struct {
	mu       sync.Mutex
	failures map[int]error
	delays   map[int]time.Duration
	calls    map[int]int

	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		failures: make(map[int]error),
		delays:   make(map[int]time.Duration),
		calls:    make(map[int]int),
	}
}

func (f *fakeFetcher) fail(id int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = err
}

func (f *fakeFetcher) heal(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, id)
}

func (f *fakeFetcher) delay(id int, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[id] = d
}

func (f *fakeFetcher) callCount(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) FetchProduct(ctx context.Context, id int) (product.Product, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[id]++
	err := f.failures[id]
	d := f.delays[id]
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return product.Product{}, fmt.Errorf("fetch product %d: %w", id, ctx.Err())
		}
	}

	if err != nil {
		return product.Product{}, err
	}
	return testProduct(id), nil
}

func testProduct(id int) product.Product {
	return product.Product{
		ID:        id,
		Title:     fmt.Sprintf("Product %d", id),
		Category:  "test",
		Price:     decimal.NewFromInt(int64(id)),
		Rating:    4.5,
		Brand:     "Acme",
		Thumbnail: fmt.Sprintf("https://cdn.example.com/%d.png", id),
	}
}

// blockingFetcher holds every fetch until release is closed.
type blockingFetcher struct {
	release chan struct{}
	started chan int
}

func newBlockingFetcher(buffer int) *blockingFetcher {
	return &blockingFetcher{
		release: make(chan struct{}),
		started: make(chan int, buffer),
	}
}

func (f *blockingFetcher) FetchProduct(ctx context.Context, id int) (product.Product, error) {
	f.started <- id
	select {
	case <-f.release:
		return testProduct(id), nil
	case <-ctx.Done():
		return product.Product{}, ctx.Err()
	}
}

// mismatchFetcher answers every lookup with the next product.
type mismatchFetcher struct{}

func (mismatchFetcher) FetchProduct(ctx context.Context, id int) (product.Product, error) {
	return testProduct(id + 1), nil
}

package catalog

import (
	"context"
	"sync"

	"github.com/Sternrassler/product-catalog-client/pkg/product"
)

// Phase is the lifecycle stage of a single-product load.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// DetailState is the published state of a DetailLoader.
type DetailState struct {
	Phase   Phase           `json:"phase"`
	ID      int             `json:"id,omitempty"`
	Product product.Product `json:"product,omitzero"`
	Err     string          `json:"error,omitempty"`
}

// DetailLoader loads one product at a time. Starting a new load cancels the
// previous one, and only the latest load may publish its result.
type DetailLoader struct {
	fetcher Fetcher

	mu     sync.Mutex
	seq    uint64
	state  DetailState
	cancel context.CancelFunc
}

// NewDetailLoader creates an idle detail loader.
func NewDetailLoader(fetcher Fetcher) *DetailLoader {
	return &DetailLoader{
		fetcher: fetcher,
		state:   DetailState{Phase: PhaseIdle},
	}
}

// Load fetches id and returns the resulting state. If another Load starts
// before this one finishes, this call returns the state it would have
// published without publishing it.
func (d *DetailLoader) Load(ctx context.Context, id int) DetailState {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.seq++
	seq := d.seq
	d.cancel = cancel
	d.state = DetailState{Phase: PhaseLoading, ID: id}
	d.mu.Unlock()

	var next DetailState
	p, err := d.fetcher.FetchProduct(ctx, id)
	if err != nil {
		next = DetailState{Phase: PhaseError, ID: id, Err: err.Error()}
	} else {
		next = DetailState{Phase: PhaseSuccess, ID: id, Product: p}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seq == seq {
		d.state = next
		d.cancel = nil
	}
	return next
}

// State returns the latest published state.
func (d *DetailLoader) State() DetailState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Clear cancels any load in flight and returns to the idle state.
func (d *DetailLoader) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.seq++
	d.state = DetailState{Phase: PhaseIdle}
}

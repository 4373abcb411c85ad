package catalog

import (
	"maps"
	"slices"
	"sync"

	"github.com/Sternrassler/product-catalog-client/pkg/product"
)

// EventKind identifies what a merge changed.
type EventKind string

const (
	// EventProduct is emitted after a product was inserted or replaced.
	EventProduct EventKind = "product"

	// EventError is emitted after a failure reason was recorded.
	EventError EventKind = "error"

	// EventReset is emitted after the store was cleared.
	EventReset EventKind = "reset"
)

// subscriberBuffer is the channel capacity handed to subscribers.
const subscriberBuffer = 64

// Event describes a single applied merge.
type Event struct {
	Kind    EventKind `json:"kind"`
	ID      int       `json:"id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Version uint64    `json:"version"`
}

// Store owns the result collection and the error map. All mutation goes
// through its merge methods; readers receive copies.
type Store struct {
	mu       sync.RWMutex
	products []product.Product
	errors   map[int]string
	version  uint64

	subs   map[int]chan Event
	nextID int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		errors: make(map[int]string),
		subs:   make(map[int]chan Event),
	}
}

// MergeProduct inserts p or replaces the entry with the same ID, keeping the
// collection sorted, and removes p.ID from the error map.
func (s *Store) MergeProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, found := slices.BinarySearchFunc(s.products, p, product.ByID)
	if found {
		s.products[i] = p
	} else {
		s.products = slices.Insert(s.products, i, p)
	}
	delete(s.errors, p.ID)

	s.version++
	s.updateGauges()
	s.publish(Event{Kind: EventProduct, ID: p.ID, Version: s.version})
}

// MergeError records reason for id. The result collection is not touched.
func (s *Store) MergeError(id int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors[id] = reason

	s.version++
	s.updateGauges()
	s.publish(Event{Kind: EventError, ID: id, Reason: reason, Version: s.version})
}

// Reset clears both containers.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = nil
	clear(s.errors)

	s.version++
	s.updateGauges()
	s.publish(Event{Kind: EventReset, Version: s.version})
}

// Products returns a copy of the collection, sorted by ID.
func (s *Store) Products() []product.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.products)
}

// Product returns the stored product with the given ID.
func (s *Store) Product(id int) (product.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, found := slices.BinarySearchFunc(s.products, product.Product{ID: id}, product.ByID)
	if !found {
		return product.Product{}, false
	}
	return s.products[i], true
}

// Errors returns a copy of the error map.
func (s *Store) Errors() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.errors)
}

// Error returns the recorded failure reason for id.
func (s *Store) Error(id int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reason, ok := s.errors[id]
	return reason, ok
}

// FailedIDs returns the identifiers in the error map in ascending order.
func (s *Store) FailedIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.errors))
}

// Len returns the number of stored products.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

// Version increases by one with every applied merge.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot is a consistent view of both containers.
type Snapshot struct {
	Products []product.Product `json:"products"`
	Errors   map[int]string    `json:"errors"`
	Version  uint64            `json:"version"`
}

// Snapshot returns both containers as of the same version.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Products: slices.Clone(s.products),
		Errors:   maps.Clone(s.errors),
		Version:  s.version,
	}
}

// Subscribe returns a channel receiving an Event after every merge and a
// function that unsubscribes and closes the channel. Events are dropped for
// subscribers that fall behind; merges never wait on readers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// publish must be called with s.mu held.
func (s *Store) publish(ev Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// updateGauges must be called with s.mu held.
func (s *Store) updateGauges() {
	StoredProducts.Set(float64(len(s.products)))
	StoredErrors.Set(float64(len(s.errors)))
}

// Package memory implements the order, cart, catalog and address stores in
// process memory. It backs tests and database-less development runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/catalog"
	"github.com/xenking/takeout/internal/domain/order"
)

var (
	_ order.Transactor = (*Store)(nil)
	_ catalog.Resolver = (*Store)(nil)
	_ address.Resolver = (*Store)(nil)
)

type state struct {
	lastOrderID int64
	lastLineID  int64

	orders  map[int64]order.Order
	numbers map[string]int64
	lines   map[int64][]order.Line
	carts   map[int64][]cart.Line
}

func newState() *state {
	return &state{
		orders:  make(map[int64]order.Order),
		numbers: make(map[string]int64),
		lines:   make(map[int64][]order.Line),
		carts:   make(map[int64][]cart.Line),
	}
}

func (st *state) clone() *state {
	c := &state{
		lastOrderID: st.lastOrderID,
		lastLineID:  st.lastLineID,
		orders:      maps.Clone(st.orders),
		numbers:     maps.Clone(st.numbers),
		lines:       make(map[int64][]order.Line, len(st.lines)),
		carts:       make(map[int64][]cart.Line, len(st.carts)),
	}
	for k, v := range st.lines {
		c.lines[k] = slices.Clone(v)
	}
	for k, v := range st.carts {
		c.carts[k] = slices.Clone(v)
	}
	return c
}

type runner func(fn func(st *state) error) error

// Store is a mutex-guarded in-memory database. Transactions run on a copy of
// the state that replaces the original on commit.
type Store struct {
	mu sync.Mutex
	st *state

	catalogMu sync.RWMutex
	dishes    map[int64]catalog.Item
	setMeals  map[int64]catalog.Item
	addresses map[int64]address.Address
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		st:        newState(),
		dishes:    make(map[int64]catalog.Item),
		setMeals:  make(map[int64]catalog.Item),
		addresses: make(map[int64]address.Address),
	}
}

func (s *Store) run(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// Orders returns the order repository.
func (s *Store) Orders() order.Repository {
	return &orders{run: s.run}
}

// Carts returns the cart line repository.
func (s *Store) Carts() cart.Repository {
	return &carts{run: s.run}
}

type txView struct {
	run runner
}

func (t txView) Orders() order.Repository { return &orders{run: t.run} }
func (t txView) Carts() cart.Repository   { return &carts{run: t.run} }

// WithinTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds. Transactions are serialized.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	view := txView{run: func(f func(st *state) error) error { return f(draft) }}
	if err := fn(ctx, view); err != nil {
		return err
	}
	s.st = draft
	return nil
}

// AddDish registers a dish in the catalog.
func (s *Store) AddDish(item catalog.Item) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.dishes[item.ID] = item
}

// AddSetMeal registers a set meal in the catalog.
func (s *Store) AddSetMeal(item catalog.Item) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.setMeals[item.ID] = item
}

// AddAddress registers an address book entry.
func (s *Store) AddAddress(a address.Address) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.addresses[a.ID] = a
}

// Dish implements catalog.Resolver.
func (s *Store) Dish(_ context.Context, id int64) (*catalog.Item, error) {
	return s.item(s.dishes, id)
}

// SetMeal implements catalog.Resolver.
func (s *Store) SetMeal(_ context.Context, id int64) (*catalog.Item, error) {
	return s.item(s.setMeals, id)
}

func (s *Store) item(items map[int64]catalog.Item, id int64) (*catalog.Item, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	item, ok := items[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &item, nil
}

// Get implements address.Resolver.
func (s *Store) Get(_ context.Context, userID, id int64) (*address.Address, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	a, ok := s.addresses[id]
	if !ok || a.UserID != userID {
		return nil, address.ErrNotFound
	}
	return &a, nil
}

// Package poller keeps the in-memory view of protocol and price state fresh
// by polling the subgraphs on independent schedules.
package poller

import (
	"sync"

	"github.com/yourorg/goldbtc-metrics/internal/model"
)

// Store is the in-memory state shared between the polling loops and the
// HTTP handlers. All state lives here; nothing is persisted.
type Store struct {
	mu sync.RWMutex

	prices    model.PricePair
	hasPrices bool

	snapshot *model.ProtocolSnapshot

	dailies    []model.DailySnapshot
	rebalances []model.RebalanceEvent

	derived *model.DerivedMetrics
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// SetPrices replaces the current price pair
func (s *Store) SetPrices(p model.PricePair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = p
	s.hasPrices = true
}

// Prices returns the current price pair and whether one has been stored yet
func (s *Store) Prices() (model.PricePair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices, s.hasPrices
}

// SetSnapshot replaces the current protocol snapshot
func (s *Store) SetSnapshot(snap *model.ProtocolSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// Snapshot returns the current protocol snapshot, nil before the first poll
func (s *Store) Snapshot() *model.ProtocolSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SetDailies replaces the daily snapshot history
func (s *Store) SetDailies(d []model.DailySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailies = d
}

// Dailies returns a copy of the daily snapshot history
func (s *Store) Dailies() []model.DailySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DailySnapshot, len(s.dailies))
	copy(out, s.dailies)
	return out
}

// SetRebalances replaces the rebalance event history
func (s *Store) SetRebalances(r []model.RebalanceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebalances = r
}

// Rebalances returns a copy of the rebalance event history
func (s *Store) Rebalances() []model.RebalanceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RebalanceEvent, len(s.rebalances))
	copy(out, s.rebalances)
	return out
}

// SetDerived replaces the published derived metrics
func (s *Store) SetDerived(d *model.DerivedMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derived = d
}

// Derived returns the published derived metrics, nil before the first
// successful derivation
func (s *Store) Derived() *model.DerivedMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.derived
}

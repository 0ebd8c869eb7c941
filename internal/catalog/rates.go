// Package catalog owns the in-memory rarity lookup, the ingestion pipeline
// and the scoring and suggestion operations used by command handlers.
package catalog

import (
	"sort"
	"sync"
)

// RateIndex is the shared item name -> completion rate lookup used for fast
// scoring. Readers may run concurrently; Replace has exclusive access for
// the whole swap so no reader sees a partially refreshed index.
type RateIndex interface {
	Rate(name string) (float64, bool)
	Names() []string
	Len() int
	Replace(rates map[string]float64)
}

// MemoryRates is a RateIndex guarded by a sync.RWMutex.
type MemoryRates struct {
	mu    sync.RWMutex
	rates map[string]float64
}

// NewMemoryRates creates an empty index.
func NewMemoryRates() *MemoryRates {
	return &MemoryRates{rates: make(map[string]float64)}
}

func (m *MemoryRates) Rate(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rate, ok := m.rates[name]
	return rate, ok
}

// Names returns all item names in sorted order.
func (m *MemoryRates) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.rates))
	for name := range m.rates {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (m *MemoryRates) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rates)
}

// Replace swaps in a copy of rates.
func (m *MemoryRates) Replace(rates map[string]float64) {
	next := make(map[string]float64, len(rates))
	for k, v := range rates {
		next[k] = v
	}

	m.mu.Lock()
	m.rates = next
	m.mu.Unlock()
}

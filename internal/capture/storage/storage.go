// Package storage keeps capture state in memory only. Nothing here is
// written to disk; expired entries are dropped by a background sweep.
package storage

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	touchedAt time.Time
}

// TempStore is an in-memory map whose entries expire ttl after their last
// write. Entries for which keep returns true survive the sweep.
type TempStore[V any] struct {
	mu      sync.RWMutex
	items   map[string]*entry[V]
	ttl     time.Duration
	keep    func(V) bool
	onEvict func(string, V)
	stop    chan struct{}
	once    sync.Once
}

// Option configures a TempStore
type Option[V any] func(*TempStore[V])

// WithKeep protects entries from expiry while keep reports true
func WithKeep[V any](keep func(V) bool) Option[V] {
	return func(s *TempStore[V]) { s.keep = keep }
}

// WithOnEvict is called, outside the lock, for every expired entry
func WithOnEvict[V any](fn func(key string, v V)) Option[V] {
	return func(s *TempStore[V]) { s.onEvict = fn }
}

// NewTempStore creates a store and starts its sweep loop. Call Close to stop it.
func NewTempStore[V any](ttl time.Duration, opts ...Option[V]) *TempStore[V] {
	s := &TempStore[V]{
		items: make(map[string]*entry[V]),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// Put stores v under key, refreshing its expiry
func (s *TempStore[V]) Put(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = &entry[V]{value: v, touchedAt: time.Now()}
}

// Get returns the value under key
func (s *TempStore[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Touch refreshes the expiry of key
func (s *TempStore[V]) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[key]; ok {
		e.touchedAt = time.Now()
	}
}

// Delete removes key and returns the value it held
func (s *TempStore[V]) Delete(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(s.items, key)
	return e.value, true
}

// Len returns the number of stored entries
func (s *TempStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close stops the sweep loop
func (s *TempStore[V]) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *TempStore[V]) cleanupLoop() {
	interval := s.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep removes entries last written before now-ttl and returns how many
// were removed
func (s *TempStore[V]) Sweep(now time.Time) int {
	cutoff := now.Add(-s.ttl)
	evicted := make(map[string]V)

	s.mu.Lock()
	for key, e := range s.items {
		if !e.touchedAt.Before(cutoff) {
			continue
		}
		if s.keep != nil && s.keep(e.value) {
			continue
		}
		evicted[key] = e.value
		delete(s.items, key)
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for key, v := range evicted {
			s.onEvict(key, v)
		}
	}
	return len(evicted)
}

// Package telemetry carries named drive values to dashboards. Sinks never
// block the control loop; values that cannot be delivered are dropped.
package telemetry

import "sync"

// A Sink accepts a set of named values.
type Sink interface {
	Publish(values map[string]interface{})
}

// Store keeps the latest value of every name it has seen.
type Store struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: map[string]interface{}{}}
}

// Publish implements Sink.
func (s *Store) Publish(values map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
}

// Get returns the latest value of key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// All returns a copy of every latest value.
func (s *Store) All() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Multi fans values out to several sinks.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(values map[string]interface{}) {
	for _, s := range m {
		s.Publish(values)
	}
}

// Package memory is an in-process SecretStore. It has no cross-process coherence of
// its own — Subscribe only fires for writes made through this same Store
// instance — which is sufficient for a single OS process but is not the
// multi-window story gormstore exists for.
package memory

import (
	"context"
	"sync"

	"github.com/vaultsync/enginecore/internal/ports"
)

// Store is a mutex-guarded map[string][]byte satisfying ports.SecretStore.
type Store struct {
	mu          sync.Mutex
	values      map[string][]byte
	subscribers map[int]func(ports.ChangeEvent)
	nextSub     int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		values:      make(map[string][]byte),
		subscribers: make(map[int]func(ports.ChangeEvent)),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.values[key] = append([]byte(nil), value...)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	notify(subs, ports.ChangeEvent{Key: key})
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	notify(subs, ports.ChangeEvent{Key: key})
	return nil
}

func (s *Store) Subscribe(fn func(ports.ChangeEvent)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotSubscribersLocked() []func(ports.ChangeEvent) {
	subs := make([]func(ports.ChangeEvent), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(ports.ChangeEvent), ev ports.ChangeEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}

var _ ports.SecretStore = (*Store)(nil)

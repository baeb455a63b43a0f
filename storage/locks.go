package storage

import (
	"context"
	"sort"
	"sync"
)

// lockManager hands out exclusive per-key locks. Keys are acquired in sorted order so
// two transactions locking overlapping sets cannot deadlock each other.
type lockManager struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[string]*keyLock)}
}

// acquire locks every key or none. It returns the release function.
func (m *lockManager) acquire(ctx context.Context, keys []string) (func(), error) {
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return func() {}, nil
	}

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		kl := m.ref(key)
		select {
		case kl.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			m.unref(key)
			m.release(held)
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(held) })
	}, nil
}

func (m *lockManager) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.mu.Lock()
		kl := m.locks[keys[i]]
		m.mu.Unlock()

		<-kl.ch
		m.unref(keys[i])
	}
}

func (m *lockManager) ref(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (m *lockManager) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kl := m.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

// size returns the number of live lock entries.
func (m *lockManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

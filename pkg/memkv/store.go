// Package memkv is a small in-memory key/value store with per-key TTL,
// backing ephemeral tables such as rendezvous topic registrations.
package memkv

import (
	"sync"
	"time"
)

// Options tunes a Store.
type Options struct {
	// SweepInterval is how often expired entries are collected. Zero means
	// one second. Reads never return expired entries regardless of sweeps.
	SweepInterval time.Duration
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano; 0 = no expiry
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	m       map[string]entry
	closeCh chan struct{}
	once    sync.Once
	nowFn   func() time.Time
}

// New creates a store and starts its expiry sweeper.
func New(opts Options) *Store {
	iv := opts.SweepInterval
	if iv <= 0 {
		iv = time.Second
	}
	s := &Store{m: make(map[string]entry), closeCh: make(chan struct{}), nowFn: time.Now}
	go s.sweep(iv)
	return s
}

// Close stops the sweeper.
func (s *Store) Close() {
	s.once.Do(func() { close(s.closeCh) })
}

// Set stores a copy of val under key. ttl <= 0 means no expiry.
func (s *Store) Set(key string, val []byte, ttl time.Duration) {
	cp := append([]byte(nil), val...)
	s.mu.Lock()
	s.m[key] = entry{val: cp, expireAt: s.deadline(ttl)}
	s.mu.Unlock()
}

// Get returns a copy of the value, or ok=false for absent/expired keys.
func (s *Store) Get(key string) ([]byte, bool) {
	now := s.nowFn().UnixNano()
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok || expired(e, now) {
		return nil, false
	}
	return append([]byte(nil), e.val...), true
}

// Update applies fn to the current value (nil when absent) and stores the
// result, keeping the entry's expiry.
func (s *Store) Update(key string, fn func(old []byte) []byte) {
	now := s.nowFn().UnixNano()
	s.mu.Lock()
	e, ok := s.m[key]
	if !ok || expired(e, now) {
		e = entry{}
	}
	e.val = fn(e.val)
	s.m[key] = e
	s.mu.Unlock()
}

// Expire resets a key's TTL. Unknown keys are ignored.
func (s *Store) Expire(key string, ttl time.Duration) {
	s.mu.Lock()
	if e, ok := s.m[key]; ok {
		e.expireAt = s.deadline(ttl)
		s.m[key] = e
	}
	s.mu.Unlock()
}

// Delete removes a key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Range calls fn for every live entry until fn returns false. The value
// passed to fn must not be retained.
func (s *Store) Range(fn func(key string, val []byte) bool) {
	now := s.nowFn().UnixNano()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, e := range s.m {
		if expired(e, now) {
			continue
		}
		if !fn(k, e.val) {
			return
		}
	}
}

// Len counts live entries.
func (s *Store) Len() int {
	now := s.nowFn().UnixNano()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.m {
		if !expired(e, now) {
			n++
		}
	}
	return n
}

func (s *Store) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.nowFn().Add(ttl).UnixNano()
}

func expired(e entry, now int64) bool {
	return e.expireAt != 0 && e.expireAt <= now
}

func (s *Store) sweep(iv time.Duration) {
	t := time.NewTicker(iv)
	defer t.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-t.C:
			now := s.nowFn().UnixNano()
			s.mu.Lock()
			for k, e := range s.m {
				if expired(e, now) {
					delete(s.m, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/damianfilipek81/whisper/pkg/topic"
)

// Directory is the discovery-network backend: it maps topics to the addresses
// of nodes currently announcing them. The production implementation is the
// rendezvous client; MemDirectory serves tests and single-process setups.
type Directory interface {
	Announce(ctx context.Context, t topic.Topic, addr string) error
	Lookup(ctx context.Context, t topic.Topic) ([]string, error)
	Unannounce(ctx context.Context, t topic.Topic, addr string) error
}

// MemDirectory is an in-process Directory.
type MemDirectory struct {
	ttl time.Duration

	mu     sync.Mutex
	topics map[topic.Topic]map[string]time.Time
}

// NewMemDirectory creates a directory whose entries expire after ttl
// (zero means 90 seconds).
func NewMemDirectory(ttl time.Duration) *MemDirectory {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &MemDirectory{ttl: ttl, topics: make(map[topic.Topic]map[string]time.Time)}
}

func (d *MemDirectory) Announce(_ context.Context, t topic.Topic, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.topics[t]
	if !ok {
		m = make(map[string]time.Time)
		d.topics[t] = m
	}
	m[addr] = time.Now()
	return nil
}

func (d *MemDirectory) Lookup(_ context.Context, t topic.Topic) ([]string, error) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for addr, seen := range d.topics[t] {
		if now.Sub(seen) > d.ttl {
			delete(d.topics[t], addr)
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

func (d *MemDirectory) Unannounce(_ context.Context, t topic.Topic, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.topics[t]; ok {
		delete(m, addr)
	}
	return nil
}

package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/soundalike/internal/shared"
)

// MemoryChannel is an in-process [Channel] used by tests and single-shot CLI
// runs. Entries expire after the TTL like the persistent backends.
type MemoryChannel struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
	broker  *broker
}

type memoryEntry struct {
	payload Payload
	expires time.Time
}

// NewMemoryChannel creates a [MemoryChannel]. A zero ttl uses [DefaultTTL].
func NewMemoryChannel(ttl time.Duration) *MemoryChannel {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryChannel{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		broker:  newBroker(),
	}
}

func (m *MemoryChannel) Publish(ctx context.Context, jobID string, p Payload) error {
	if _, err := Marshal(p); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[LatestKey(jobID)] = memoryEntry{payload: p, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()

	m.broker.publish(jobID, p)
	return nil
}

func (m *MemoryChannel) Latest(ctx context.Context, jobID string) (Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[LatestKey(jobID)]
	if !ok || !m.now().Before(e.expires) {
		delete(m.entries, LatestKey(jobID))
		return nil, fmt.Errorf("%w: job %s", shared.ErrNoProgress, jobID)
	}
	return e.payload, nil
}

func (m *MemoryChannel) Subscribe(ctx context.Context, jobID string) (<-chan Payload, error) {
	return m.broker.subscribe(ctx, jobID), nil
}

func (m *MemoryChannel) Close() error {
	m.broker.closeAll()
	return nil
}

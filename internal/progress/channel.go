package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long the latest progress record of a job is retained.
const DefaultTTL = time.Hour

// subscriberBuffer bounds how far a slow subscriber can lag before updates
// are dropped for it. The latest record stays readable through Latest.
const subscriberBuffer = 64

// LatestKey is the key under which a job's latest payload is stored.
func LatestKey(jobID string) string {
	return "latest-progress-" + jobID
}

// Subject is the pub/sub subject a job's updates are broadcast on.
func Subject(jobID string) string {
	return "task-progress." + jobID
}

// Channel stores the latest payload per job and broadcasts every update.
type Channel interface {
	// Publish overwrites the job's latest payload, refreshes its TTL and
	// broadcasts the update.
	Publish(ctx context.Context, jobID string, p Payload) error
	// Latest returns the job's latest payload or [shared.ErrNoProgress].
	Latest(ctx context.Context, jobID string) (Payload, error)
	// Subscribe streams the job's updates until ctx is done.
	Subscribe(ctx context.Context, jobID string) (<-chan Payload, error)
	Close() error
}

// broker fans payloads out to in-process subscribers.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Payload]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan Payload]struct{})}
}

// subscribe registers a subscriber that is removed and closed when ctx is done.
func (b *broker) subscribe(ctx context.Context, jobID string) <-chan Payload {
	ch := make(chan Payload, subscriberBuffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan Payload]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[jobID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
	}()
	return ch
}

// publish delivers p without blocking; full subscriber buffers drop it.
func (b *broker) publish(jobID string, p Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[jobID] {
		select {
		case ch <- p:
		default:
		}
	}
}

// closeAll closes every subscriber channel.
func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for jobID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, jobID)
	}
}

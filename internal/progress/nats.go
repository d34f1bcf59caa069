package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/desertthunder/soundalike/internal/shared"
)

// DefaultBucket is the JetStream key-value bucket holding latest payloads.
const DefaultBucket = "job-progress"

// NATSChannel shares progress across processes: latest payloads live in a
// JetStream key-value bucket whose TTL expires them, and updates are
// broadcast on core NATS subjects.
type NATSChannel struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *log.Logger
}

// OpenNATS connects to url and ensures the bucket exists with the given TTL.
func OpenNATS(ctx context.Context, url, bucket string, ttl time.Duration, logger *log.Logger) (*NATSChannel, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	nc, err := nats.Connect(url,
		nats.Name("soundalike"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "latest progress payload per job",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure progress bucket %s: %w", bucket, err)
	}

	return &NATSChannel{nc: nc, kv: kv, logger: logger}, nil
}

func (n *NATSChannel) Publish(ctx context.Context, jobID string, p Payload) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}

	if _, err := n.kv.Put(ctx, LatestKey(jobID), data); err != nil {
		return fmt.Errorf("store progress for job %s: %w", jobID, err)
	}
	if err := n.nc.Publish(Subject(jobID), data); err != nil {
		return fmt.Errorf("publish progress for job %s: %w", jobID, err)
	}
	return nil
}

func (n *NATSChannel) Latest(ctx context.Context, jobID string) (Payload, error) {
	entry, err := n.kv.Get(ctx, LatestKey(jobID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: job %s", shared.ErrNoProgress, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get progress for job %s: %w", jobID, err)
	}
	return Unmarshal(entry.Value())
}

func (n *NATSChannel) Subscribe(ctx context.Context, jobID string) (<-chan Payload, error) {
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := n.nc.ChanSubscribe(Subject(jobID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe to job %s: %w", jobID, err)
	}
	if err := n.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe to job %s: %w", jobID, err)
	}

	out := make(chan Payload, subscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				p, err := Unmarshal(msg.Data)
				if err != nil {
					n.logger.Warn("dropping malformed progress message", "job", jobID, "error", err)
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (n *NATSChannel) Close() error {
	return n.nc.Drain()
}

// EmbeddedNATS is an in-process NATS server with JetStream enabled.
type EmbeddedNATS struct {
	server *server.Server
}

// StartEmbeddedNATS starts a JetStream enabled server storing data under
// storeDir. port -1 picks a random free port.
func StartEmbeddedNATS(storeDir string, port int) (*EmbeddedNATS, error) {
	opts := &server.Options{
		ServerName: "soundalike-progress",
		Host:       "127.0.0.1",
		Port:       port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoLog:      true,
		NoSigs:     true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return &EmbeddedNATS{server: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (e *EmbeddedNATS) ClientURL() string {
	return e.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedNATS) Shutdown() {
	e.server.Shutdown()
	e.server.WaitForShutdown()
}

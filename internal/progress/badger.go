package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"

	"github.com/desertthunder/soundalike/internal/shared"
)

// BadgerChannel keeps the latest payloads in an embedded badger store with
// per-entry TTLs. Live updates are delivered to subscribers in the same process.
type BadgerChannel struct {
	db     *badger.DB
	ttl    time.Duration
	broker *broker
}

// OpenBadger opens (or creates) a badger store at path. An empty path keeps
// the store in memory.
func OpenBadger(path string, ttl time.Duration, logger *log.Logger) (*BadgerChannel, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.ValueLogFileSize = 16 << 20
	opts.Logger = nil
	if logger != nil {
		opts.Logger = badgerLogger{logger.WithPrefix("badger")}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for progress: %w", err)
	}
	return &BadgerChannel{db: db, ttl: ttl, broker: newBroker()}, nil
}

func (b *BadgerChannel) Publish(ctx context.Context, jobID string, p Payload) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(LatestKey(jobID)), data).WithTTL(b.ttl))
	})
	if err != nil {
		return fmt.Errorf("store progress for job %s: %w", jobID, err)
	}

	b.broker.publish(jobID, p)
	return nil
}

func (b *BadgerChannel) Latest(ctx context.Context, jobID string) (Payload, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(LatestKey(jobID)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: job %s", shared.ErrNoProgress, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get progress for job %s: %w", jobID, err)
	}
	return Unmarshal(data)
}

func (b *BadgerChannel) Subscribe(ctx context.Context, jobID string) (<-chan Payload, error) {
	return b.broker.subscribe(ctx, jobID), nil
}

func (b *BadgerChannel) Close() error {
	b.broker.closeAll()
	return b.db.Close()
}

// badgerLogger adapts a charm logger to badger's Logger interface.
type badgerLogger struct {
	l *log.Logger
}

func (b badgerLogger) Errorf(format string, args ...any)   { b.l.Errorf(format, args...) }
func (b badgerLogger) Warningf(format string, args ...any) { b.l.Warnf(format, args...) }
func (b badgerLogger) Infof(format string, args ...any)    { b.l.Debugf(format, args...) }
func (b badgerLogger) Debugf(format string, args ...any)   { b.l.Debugf(format, args...) }

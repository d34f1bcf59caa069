package progress

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/shared"
)

// EmbeddedURL as progress.nats_url starts an in-process NATS server.
const EmbeddedURL = "embedded"

// Open builds the [Channel] selected by cfg. The returned closer releases the
// channel and any embedded server it started.
func Open(ctx context.Context, cfg shared.ProgressConfig, logger *log.Logger) (Channel, func() error, error) {
	switch cfg.Backend {
	case "badger":
		ch, err := OpenBadger(cfg.Path, cfg.TTL.Duration, logger)
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil

	case "nats":
		url := cfg.NATSURL
		var embedded *EmbeddedNATS
		if url == EmbeddedURL {
			var err error
			embedded, err = StartEmbeddedNATS(filepath.Join(cfg.Path, "jetstream"), -1)
			if err != nil {
				return nil, nil, err
			}
			url = embedded.ClientURL()
			logger.Info("embedded NATS server started", "url", url)
		}

		ch, err := OpenNATS(ctx, url, cfg.Bucket, cfg.TTL.Duration, logger)
		if err != nil {
			if embedded != nil {
				embedded.Shutdown()
			}
			return nil, nil, err
		}

		closer := func() error {
			err := ch.Close()
			if embedded != nil {
				embedded.Shutdown()
			}
			return err
		}
		return ch, closer, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown progress backend %q", shared.ErrInvalidConfig, cfg.Backend)
	}
}

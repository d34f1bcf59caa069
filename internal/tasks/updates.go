package tasks

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/services"
)

// publisher reports progress for one job. A nil channel or empty job id
// turns publishing into a no-op.
type publisher struct {
	ch     progress.Channel
	jobID  string
	logger *log.Logger
}

// send publishes p. Failures are logged and never returned.
func (p publisher) send(ctx context.Context, payload progress.Payload) {
	if p.ch == nil || p.jobID == "" {
		return
	}
	if err := p.ch.Publish(ctx, p.jobID, payload); err != nil {
		p.logger.Warn("failed to publish progress", "job", p.jobID, "status", payload.Status(), "error", err)
	}
}

func savedRef(s models.SavedTrack) progress.TrackRef {
	return progress.TrackRef{ExternalID: s.ExternalID, Name: s.Name, Artist: s.Artist}
}

func trackRef(t *models.Track) progress.TrackRef {
	return progress.TrackRef{ID: t.ID, ExternalID: t.ExternalID, Name: t.Name, Artist: t.Artist}
}

func processingUpdate(index, total int, r *trackRun) progress.Processing {
	return progress.Processing{
		Index:             index,
		Total:             total,
		Track:             savedRef(r.saved),
		PreviewURLPresent: r.hasURL,
	}
}

func encodedUpdate(index, total int, t *models.Track) progress.Encoded {
	return progress.Encoded{Index: index, Total: total, Track: trackRef(t)}
}

// saveRotated writes refreshed remote credentials back to the user row.
func saveRotated(ctx context.Context, users UserStore, userID int64, logger *log.Logger) services.CredentialFunc {
	return func(credential string) {
		if err := users.UpdateCredential(context.WithoutCancel(ctx), userID, credential); err != nil {
			logger.Warn("failed to store refreshed credential", "error", err)
			return
		}
		logger.Debug("stored refreshed credential")
	}
}

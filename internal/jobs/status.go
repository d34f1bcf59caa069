package jobs

import (
	"encoding/json"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
)

// Status is the polling view of a job.
type Status struct {
	JobID    string          `json:"job_id"`
	Kind     models.JobKind  `json:"kind"`
	State    models.JobState `json:"state"`
	Progress json.RawMessage `json:"progress"`
	Error    string          `json:"error,omitempty"`
}

// Payload decodes Progress. It returns nil when no progress is known.
func (s *Status) Payload() (progress.Payload, error) {
	if len(s.Progress) == 0 || string(s.Progress) == "null" {
		return nil, nil
	}
	return progress.Unmarshal(s.Progress)
}

// Done reports whether the job has reached a terminal state.
func (s *Status) Done() bool {
	return s.State.Terminal()
}

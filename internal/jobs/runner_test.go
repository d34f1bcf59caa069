package jobs

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/progress"
	"github.com/desertthunder/soundalike/internal/repositories"
	"github.com/desertthunder/soundalike/internal/shared"
)

const testKind models.JobKind = "test"

func setupStore(t *testing.T) *repositories.JobRepository {
	t.Helper()

	db, err := shared.NewDatabase(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewJobRepository(db)
}

func newTestRunner(t *testing.T, queueSize int) (*Runner, *repositories.JobRepository, *progress.MemoryChannel) {
	t.Helper()
	store := setupStore(t)
	ch := progress.NewMemoryChannel(time.Minute)
	r := NewRunner(store, ch, shared.WorkersConfig{Count: 2, QueueSize: queueSize}, shared.NewLogger(io.Discard))
	t.Cleanup(r.Stop)
	return r, store, ch
}

// waitDone polls until the job is terminal.
func waitDone(t *testing.T, r *Runner, id string) *Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := r.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if st.Done() {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("Runs Job To Completion", func(t *testing.T) {
		r, store, _ := newTestRunner(t, 4)
		var got models.IngestArgs
		r.Register(testKind, func(ctx context.Context, job *models.Job) (progress.Payload, error) {
			args, err := DecodeArgs[models.IngestArgs](job)
			if err != nil {
				return nil, err
			}
			got = args
			return progress.Finished{Processed: 2, Total: 3}, nil
		})
		r.Start(ctx)

		id, err := r.Enqueue(ctx, testKind, models.IngestArgs{UserID: 7})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}

		st := waitDone(t, r, id)
		if st.State != models.JobFinished {
			t.Fatalf("state = %s, error = %s", st.State, st.Error)
		}
		if got.UserID != 7 {
			t.Errorf("handler saw args %+v", got)
		}

		p, err := st.Payload()
		if err != nil {
			t.Fatalf("Payload() error = %v", err)
		}
		fin, ok := p.(progress.Finished)
		if !ok || fin.Processed != 2 || fin.Total != 3 {
			t.Errorf("unexpected payload %#v", p)
		}

		job, _ := store.Get(ctx, id)
		if job.StartedAt == nil || job.FinishedAt == nil || len(job.Result) == 0 {
			t.Errorf("job not fully recorded: %+v", job)
		}
	})

	t.Run("Handler Error Fails Job", func(t *testing.T) {
		r, _, _ := newTestRunner(t, 4)
		r.Register(testKind, func(context.Context, *models.Job) (progress.Payload, error) {
			return nil, shared.ErrUserNotFound
		})
		r.Start(ctx)

		id, _ := r.Enqueue(ctx, testKind, nil)
		st := waitDone(t, r, id)
		if st.State != models.JobFailed || st.Error != shared.ErrUserNotFound.Error() {
			t.Fatalf("unexpected status %+v", st)
		}
		p, _ := st.Payload()
		if f, ok := p.(progress.Failed); !ok || f.Text == "" {
			t.Errorf("expected failed payload from stored error, got %#v", p)
		}
	})

	t.Run("Panic Fails Job", func(t *testing.T) {
		r, _, ch := newTestRunner(t, 4)
		r.Register(testKind, func(ctx context.Context, job *models.Job) (progress.Payload, error) {
			if err := ch.Publish(ctx, job.ID, progress.Processing{Index: 1, Total: 3}); err != nil {
				return nil, err
			}
			panic("boom")
		})
		r.Start(ctx)

		id, _ := r.Enqueue(ctx, testKind, nil)
		st := waitDone(t, r, id)
		if st.State != models.JobFailed || !strings.Contains(st.Error, "boom") {
			t.Errorf("unexpected status %+v", st)
		}

		p, err := st.Payload()
		if err != nil {
			t.Fatalf("Payload() error = %v", err)
		}
		f, ok := p.(progress.Failed)
		if !ok {
			t.Fatalf("expected failed payload to replace processing, got %#v", p)
		}
		if f.Text != st.Error {
			t.Errorf("failed payload %q does not match job error %q", f.Text, st.Error)
		}
	})

	t.Run("Handler Error After Progress Publishes Failure", func(t *testing.T) {
		r, _, ch := newTestRunner(t, 4)
		r.Register(testKind, func(ctx context.Context, job *models.Job) (progress.Payload, error) {
			if err := ch.Publish(ctx, job.ID, progress.Encoded{Index: 1, Total: 2}); err != nil {
				return nil, err
			}
			return nil, shared.ErrAPIRequest
		})
		r.Start(ctx)

		id, _ := r.Enqueue(ctx, testKind, nil)
		st := waitDone(t, r, id)
		p, _ := st.Payload()
		if f, ok := p.(progress.Failed); !ok || f.Text != shared.ErrAPIRequest.Error() {
			t.Errorf("expected failed payload, got %#v", p)
		}
	})

	t.Run("Live Progress Wins", func(t *testing.T) {
		r, _, ch := newTestRunner(t, 4)
		r.Register(testKind, func(context.Context, *models.Job) (progress.Payload, error) { return nil, nil })

		id, err := r.Enqueue(ctx, testKind, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := ch.Publish(ctx, id, progress.AddingTracks{Count: 4}); err != nil {
			t.Fatal(err)
		}

		st, err := r.Status(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if st.State != models.JobPending {
			t.Errorf("state = %s", st.State)
		}
		p, _ := st.Payload()
		if a, ok := p.(progress.AddingTracks); !ok || a.Count != 4 {
			t.Errorf("unexpected payload %#v", p)
		}
	})

	t.Run("Pending Without Progress", func(t *testing.T) {
		r, _, _ := newTestRunner(t, 4)
		r.Register(testKind, func(context.Context, *models.Job) (progress.Payload, error) { return nil, nil })

		id, _ := r.Enqueue(ctx, testKind, nil)
		st, err := r.Status(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if p, err := st.Payload(); p != nil || err != nil {
			t.Errorf("expected no payload, got %v, %v", p, err)
		}

		data, err := gojson.Marshal(st)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"progress":null`) {
			t.Errorf("expected explicit null progress, got %s", data)
		}

		var decoded Status
		if err := gojson.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if p, err := decoded.Payload(); p != nil || err != nil {
			t.Errorf("expected no payload after round trip, got %v, %v", p, err)
		}
	})

	t.Run("Unknown Kind", func(t *testing.T) {
		r, _, _ := newTestRunner(t, 4)
		if _, err := r.Enqueue(ctx, "nope", nil); !errors.Is(err, shared.ErrUnknownJob) {
			t.Errorf("expected ErrUnknownJob, got %v", err)
		}
	})

	t.Run("Unknown Job", func(t *testing.T) {
		r, _, _ := newTestRunner(t, 4)
		if _, err := r.Status(ctx, "missing"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("Full Queue Rejects Without Blocking", func(t *testing.T) {
		r, store, _ := newTestRunner(t, 1)
		r.Register(testKind, func(context.Context, *models.Job) (progress.Payload, error) { return nil, nil })

		if _, err := r.Enqueue(ctx, testKind, nil); err != nil {
			t.Fatalf("first Enqueue() error = %v", err)
		}
		id, err := r.Enqueue(ctx, testKind, nil)
		if !errors.Is(err, shared.ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
		job, _ := store.Get(ctx, id)
		if job.State != models.JobFailed {
			t.Errorf("rejected job state = %s", job.State)
		}
	})

	t.Run("Stopped Runner Rejects", func(t *testing.T) {
		r, _, _ := newTestRunner(t, 1)
		r.Register(testKind, func(context.Context, *models.Job) (progress.Payload, error) { return nil, nil })
		r.Start(ctx)
		r.Stop()

		if _, err := r.Enqueue(ctx, testKind, nil); !errors.Is(err, shared.ErrRunnerStopped) {
			t.Errorf("expected ErrRunnerStopped, got %v", err)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		r, store, ch := newTestRunner(t, 4)
		r.Register(testKind, func(context.Context, *models.Job) (progress.Payload, error) {
			return progress.Finished{}, nil
		})

		orphan := &models.Job{Kind: testKind}
		if err := store.Create(ctx, orphan); err != nil {
			t.Fatal(err)
		}
		if err := store.MarkStarted(ctx, orphan.ID); err != nil {
			t.Fatal(err)
		}
		pending := &models.Job{Kind: testKind}
		if err := store.Create(ctx, pending); err != nil {
			t.Fatal(err)
		}

		n, err := r.Recover(ctx)
		if err != nil {
			t.Fatalf("Recover() error = %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 re-queued job, got %d", n)
		}

		job, _ := store.Get(ctx, orphan.ID)
		if job.State != models.JobFailed || job.Error != "worker restarted" {
			t.Errorf("orphan not failed: %+v", job)
		}
		if p, err := ch.Latest(ctx, orphan.ID); err != nil || p.Status() != progress.StatusFailed {
			t.Errorf("orphan progress = %v, %v", p, err)
		}

		r.Start(ctx)
		if st := waitDone(t, r, pending.ID); st.State != models.JobFinished {
			t.Errorf("pending job state = %s", st.State)
		}
	})
}

func TestDecodeArgs(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		job := &models.Job{ID: "j", Args: []byte(`{"user_id":1,"seed_track_id":9}`)}
		args, err := DecodeArgs[models.PlaylistArgs](job)
		if err != nil {
			t.Fatal(err)
		}
		if args.UserID != 1 || args.SeedTrackID != 9 {
			t.Errorf("unexpected args %+v", args)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		job := &models.Job{ID: "j", Args: []byte(`{"user_id":"x"}`)}
		if _, err := DecodeArgs[models.IngestArgs](job); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

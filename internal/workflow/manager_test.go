package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fivecut/internal/pipeline"
	"fivecut/internal/queue"
	"fivecut/internal/services"
	"fivecut/internal/testsupport"
	"fivecut/internal/workflow"
)

type scriptedHandler struct {
	run func(ctx context.Context, in pipeline.Input, rec pipeline.Recorder) (pipeline.Result, error)
}

func (h *scriptedHandler) Run(ctx context.Context, in pipeline.Input, rec pipeline.Recorder) (pipeline.Result, error) {
	return h.run(ctx, in, rec)
}

func waitForStatus(t *testing.T, store *queue.Store, jobID string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	job, _ := store.GetByID(context.Background(), jobID)
	t.Fatalf("job never reached %s, last state %+v", want, job)
	return nil
}

func TestManagerProcessesJobToFinished(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)

	handler := &scriptedHandler{run: func(ctx context.Context, in pipeline.Input, rec pipeline.Recorder) (pipeline.Result, error) {
		if err := rec.AppendLines(ctx, "[download] "+in.SourceKey); err != nil {
			return pipeline.Result{}, err
		}
		outputKey := "users/" + in.OwnerSub + "/exports/" + in.JobID + "/output.mp4"
		if err := rec.SetOutputKey(ctx, outputKey); err != nil {
			return pipeline.Result{}, err
		}
		return pipeline.Result{OutputKey: outputKey}, nil
	}}

	mgr := workflow.NewManager(cfg, store, handler, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	job := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/in.mp4")
	done := waitForStatus(t, store, job.ID, queue.StatusFinished)

	if done.OutputKey == "" {
		t.Fatal("expected output key persisted")
	}
	if done.EndedAt == nil {
		t.Fatal("expected ended_at stamped")
	}
	if len(done.Logs) == 0 {
		t.Fatal("expected pipeline logs persisted")
	}
}

func TestManagerPersistsFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)

	handler := &scriptedHandler{run: func(context.Context, pipeline.Input, pipeline.Recorder) (pipeline.Result, error) {
		return pipeline.Result{}, errors.New("download source: boom")
	}}

	mgr := workflow.NewManager(cfg, store, handler, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	job := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/in.mp4")
	done := waitForStatus(t, store, job.ID, queue.StatusFailed)

	if done.ErrorMessage != "download source: boom" {
		t.Fatalf("unexpected error message %q", done.ErrorMessage)
	}
	if done.EndedAt == nil {
		t.Fatal("expected ended_at stamped")
	}
}

func TestManagerHonorsCooperativeCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	store := testsupport.MustOpenStore(t, cfg)

	started := make(chan string, 1)
	release := make(chan struct{})
	handler := &scriptedHandler{run: func(ctx context.Context, in pipeline.Input, rec pipeline.Recorder) (pipeline.Result, error) {
		started <- in.JobID
		<-release
		abort, err := rec.ShouldAbort(ctx)
		if err != nil {
			return pipeline.Result{}, err
		}
		if abort {
			if err := rec.MarkCanceled(ctx); err != nil {
				return pipeline.Result{}, err
			}
			return pipeline.Result{}, services.Wrap(services.ErrCanceled, "checkpoint", "abort", queue.CanceledByUser, nil)
		}
		return pipeline.Result{}, nil
	}}

	mgr := workflow.NewManager(cfg, store, handler, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	job := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/in.mp4")

	select {
	case <-started:
	case <-time.After(15 * time.Second):
		t.Fatal("job never started")
	}

	outcome, err := store.RequestCancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !outcome.AlreadyStarted {
		t.Fatalf("expected started-job cancel outcome, got %+v", outcome)
	}
	close(release)

	done := waitForStatus(t, store, job.ID, queue.StatusCanceled)
	if done.ErrorMessage != queue.CanceledByUser {
		t.Fatalf("expected %q, got %q", queue.CanceledByUser, done.ErrorMessage)
	}
}

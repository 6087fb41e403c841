package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fivecut/internal/queue"
	"fivecut/internal/testsupport"
)

func TestEnqueueDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.Enqueue(context.Background(), queue.EnqueueParams{
		OwnerSub:  "user-1",
		SourceKey: "users/user-1/uploads/match.mp4",
		Options:   queue.Options{Detect: true, Augment: true},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}
	if job.ID == "" {
		t.Fatal("expected generated job id")
	}
	if job.TimeoutSeconds != cfg.Workflow.JobTimeout {
		t.Fatalf("expected default timeout %d, got %d", cfg.Workflow.JobTimeout, job.TimeoutSeconds)
	}
	if !job.Options.Detect || !job.Options.Augment {
		t.Fatalf("options not round-tripped: %+v", job.Options)
	}
	if job.OutputKey != "" || job.JSONKey != "" || job.DetectMP4Key != "" {
		t.Fatal("expected empty artifact keys on a new job")
	}
}

func TestEnqueueRequiresOwnerAndSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Enqueue(context.Background(), queue.EnqueueParams{SourceKey: "k"}); err == nil {
		t.Fatal("expected error for missing owner")
	}
	if _, err := store.Enqueue(context.Background(), queue.EnqueueParams{OwnerSub: "u"}); err == nil {
		t.Fatal("expected error for missing source key")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.GetByID(context.Background(), "missing"); err != queue.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimNextOrderAndTransition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")
	testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/b.mp4")

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed job")
	}
	if claimed.ID != first.ID {
		t.Fatalf("expected oldest job %s, claimed %s", first.ID, claimed.ID)
	}
	if claimed.Status != queue.StatusStarted {
		t.Fatalf("expected started, got %s", claimed.Status)
	}
	if claimed.StartedAt == nil || claimed.LastHeartbeat == nil {
		t.Fatal("expected started_at and last_heartbeat to be set")
	}

	second, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext second: %v", err)
	}
	if second == nil || second.ID == claimed.ID {
		t.Fatal("expected the remaining queued job on the next claim")
	}

	third, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext empty: %v", err)
	}
	if third != nil {
		t.Fatalf("expected nil on empty queue, got %s", third.ID)
	}
}

func TestAppendLogsBounded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")

	lines := make([]string, 0, queue.LogLimit+25)
	for i := 0; i < queue.LogLimit+25; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	if err := store.AppendLogs(ctx, job.ID, lines...); err != nil {
		t.Fatalf("AppendLogs: %v", err)
	}

	reloaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(reloaded.Logs) != queue.LogLimit {
		t.Fatalf("expected %d log lines, got %d", queue.LogLimit, len(reloaded.Logs))
	}
	if reloaded.Logs[0] != "line 25" {
		t.Fatalf("expected oldest lines trimmed, head is %q", reloaded.Logs[0])
	}
	if last := reloaded.Logs[len(reloaded.Logs)-1]; last != fmt.Sprintf("line %d", queue.LogLimit+24) {
		t.Fatalf("unexpected tail line %q", last)
	}
}

func TestRequestCancelQueuedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")

	outcome, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !outcome.Canceled || outcome.AlreadyStarted {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	reloaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusCanceled {
		t.Fatalf("expected canceled, got %s", reloaded.Status)
	}
	if reloaded.ErrorMessage != queue.CanceledByUser {
		t.Fatalf("expected %q error message, got %q", queue.CanceledByUser, reloaded.ErrorMessage)
	}
	if reloaded.EndedAt == nil {
		t.Fatal("expected ended_at on a directly canceled job")
	}
}

func TestRequestCancelStartedJobRaisesFlagsOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	outcome, err := store.RequestCancel(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !outcome.AlreadyStarted || outcome.Canceled {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	reloaded, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusStarted {
		t.Fatalf("started job must stay started until the worker acts, got %s", reloaded.Status)
	}
	if !reloaded.Abort || !reloaded.CancelRequested {
		t.Fatalf("expected abort flags raised: %+v", reloaded)
	}

	abort, err := store.ShouldAbort(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("ShouldAbort: %v", err)
	}
	if !abort {
		t.Fatal("expected ShouldAbort true after cancel request")
	}

	if err := store.MarkCanceled(ctx, claimed.ID); err != nil {
		t.Fatalf("MarkCanceled: %v", err)
	}
	final, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != queue.StatusCanceled {
		t.Fatalf("expected canceled, got %s", final.Status)
	}
	if final.ErrorMessage != queue.CanceledByUser {
		t.Fatalf("expected %q, got %q", queue.CanceledByUser, final.ErrorMessage)
	}
}

func TestRequestCancelTerminalJobIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")
	job.Status = queue.StatusFinished
	now := time.Now().UTC()
	job.EndedAt = &now
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	outcome, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if outcome.Canceled || outcome.AlreadyStarted {
		t.Fatalf("expected noop outcome for finished job, got %+v", outcome)
	}

	reloaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusFinished {
		t.Fatalf("finished status must be preserved, got %s", reloaded.Status)
	}
}

func TestReclaimStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	// Cutoff in the future makes the fresh heartbeat look expired.
	count, err := store.ReclaimStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", count)
	}

	reloaded, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusDeferred {
		t.Fatalf("expected deferred, got %s", reloaded.Status)
	}
	if reloaded.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared on reclaim")
	}

	reclaimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext after reclaim: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != claimed.ID {
		t.Fatal("deferred job must be claimable again")
	}
}

func TestReapExpired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	finished := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")
	failed := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/b.mp4")
	fresh := testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/c.mp4")

	old := time.Now().UTC().Add(-time.Duration(cfg.Workflow.FailureRetention+60) * time.Second)
	finished.Status = queue.StatusFinished
	finished.EndedAt = &old
	if err := store.Update(ctx, finished); err != nil {
		t.Fatalf("Update finished: %v", err)
	}
	failed.Status = queue.StatusFailed
	failed.EndedAt = &old
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	now := time.Now().UTC()
	fresh.Status = queue.StatusFinished
	fresh.EndedAt = &now
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("Update fresh: %v", err)
	}

	reaped, err := store.ReapExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if reaped != 2 {
		t.Fatalf("expected 2 reaped jobs, got %d", reaped)
	}

	if _, err := store.GetByID(ctx, finished.ID); err != queue.ErrNotFound {
		t.Fatalf("expected finished job reaped, got %v", err)
	}
	if _, err := store.GetByID(ctx, failed.ID); err != queue.ErrNotFound {
		t.Fatalf("expected failed job reaped, got %v", err)
	}
	if _, err := store.GetByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh job must survive the reap: %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/a.mp4")
	testsupport.NewJob(t, store, "user-1", "users/user-1/uploads/b.mp4")
	testsupport.NewJob(t, store, "user-2", "users/user-2/uploads/c.mp4")

	jobs, err := store.ListByOwner(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs for user-1, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.OwnerSub != "user-1" {
			t.Fatalf("unexpected owner %s", job.OwnerSub)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusQueued] != 3 {
		t.Fatalf("expected 3 queued jobs in stats, got %d", stats[queue.StatusQueued])
	}
}

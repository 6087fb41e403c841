package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"fivecut/internal/queue"
)

func TestCreateEdit(t *testing.T) {
	g := newTestGateway(t)
	key := "users/sub-user/uploads/u1/match.mp4"

	rec := g.do(t, http.MethodPost, "/edits", "user-token",
		fmt.Sprintf(`{"key":%q,"options":{"detect":true,"fps60":true}}`, key), nil)
	mustStatus(t, rec, http.StatusOK)

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("expected job id, got %s", rec.Body.String())
	}

	job, err := g.store.GetByID(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}
	if job.OwnerSub != "sub-user" || job.SourceKey != key {
		t.Fatalf("unexpected job %+v", job)
	}
	if !job.Options.Detect || !job.Options.FPS60 {
		t.Fatalf("options not persisted: %+v", job.Options)
	}
}

func TestCreateEditForeignKeyRejected(t *testing.T) {
	g := newTestGateway(t)
	rec := g.do(t, http.MethodPost, "/edits", "other-token",
		`{"key":"users/sub-user/uploads/u1/match.mp4"}`, nil)
	mustStatus(t, rec, http.StatusForbidden)
}

func TestEditStatus(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	job, err := g.store.Enqueue(ctx, queue.EnqueueParams{
		OwnerSub:  "sub-user",
		SourceKey: "users/sub-user/uploads/u1/match.mp4",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	lines := make([]string, 0, 80)
	for i := 1; i <= 80; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	if err := g.store.AppendLogs(ctx, job.ID, lines...); err != nil {
		t.Fatalf("append logs: %v", err)
	}

	rec := g.do(t, http.MethodGet, "/edits/"+job.ID, "user-token", "", nil)
	mustStatus(t, rec, http.StatusOK)

	var resp struct {
		ID     string   `json:"id"`
		Status string   `json:"status"`
		Logs   []string `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != job.ID || resp.Status != string(queue.StatusQueued) {
		t.Fatalf("unexpected status payload %+v", resp)
	}
	if len(resp.Logs) != 50 {
		t.Fatalf("expected a 50 line tail, got %d", len(resp.Logs))
	}
	if resp.Logs[0] != "line 31" || resp.Logs[49] != "line 80" {
		t.Fatalf("tail is not the newest lines: first=%q last=%q", resp.Logs[0], resp.Logs[49])
	}

	// Other users cannot read the job; unknown ids are 404.
	rec = g.do(t, http.MethodGet, "/edits/"+job.ID, "other-token", "", nil)
	mustStatus(t, rec, http.StatusForbidden)
	rec = g.do(t, http.MethodGet, "/edits/"+job.ID, "admin-token", "", nil)
	mustStatus(t, rec, http.StatusOK)
	rec = g.do(t, http.MethodGet, "/edits/no-such-job", "user-token", "", nil)
	mustStatus(t, rec, http.StatusNotFound)
}

func TestCancelEdit(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	job, err := g.store.Enqueue(ctx, queue.EnqueueParams{
		OwnerSub:  "sub-user",
		SourceKey: "users/sub-user/uploads/u1/match.mp4",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := g.do(t, http.MethodPost, "/edits/"+job.ID+"/cancel", "other-token", "", nil)
	mustStatus(t, rec, http.StatusForbidden)

	rec = g.do(t, http.MethodPost, "/edits/"+job.ID+"/cancel", "user-token", "", nil)
	mustStatus(t, rec, http.StatusOK)

	var resp struct {
		OK             bool `json:"ok"`
		Canceled       bool `json:"canceled"`
		AlreadyStarted bool `json:"already_started"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || !resp.Canceled || resp.AlreadyStarted {
		t.Fatalf("unexpected cancel payload %+v", resp)
	}

	got, err := g.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != queue.StatusCanceled {
		t.Fatalf("expected canceled job, got %s", got.Status)
	}
}

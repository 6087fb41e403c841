package workflow

import (
	"context"

	"fivecut/internal/queue"
)

// jobRecorder adapts the queue store to the pipeline's Recorder contract
// for one job.
type jobRecorder struct {
	store *queue.Store
	jobID string
}

func newJobRecorder(store *queue.Store, jobID string) *jobRecorder {
	return &jobRecorder{store: store, jobID: jobID}
}

func (r *jobRecorder) AppendLines(ctx context.Context, lines ...string) error {
	return r.store.AppendLogs(ctx, r.jobID, lines...)
}

func (r *jobRecorder) SetChildPID(ctx context.Context, pid int) error {
	return r.store.SetChildPID(ctx, r.jobID, pid)
}

func (r *jobRecorder) ShouldAbort(ctx context.Context) (bool, error) {
	return r.store.ShouldAbort(ctx, r.jobID)
}

func (r *jobRecorder) MarkCanceled(ctx context.Context) error {
	return r.store.MarkCanceled(ctx, r.jobID)
}

func (r *jobRecorder) SetJSONKey(ctx context.Context, key string) error {
	return r.store.SetArtifactKey(ctx, r.jobID, queue.ArtifactJSON, key)
}

func (r *jobRecorder) SetDetectMP4Key(ctx context.Context, key string) error {
	return r.store.SetArtifactKey(ctx, r.jobID, queue.ArtifactDetectMP4, key)
}

func (r *jobRecorder) SetOutputKey(ctx context.Context, key string) error {
	return r.store.SetArtifactKey(ctx, r.jobID, queue.ArtifactOutput, key)
}

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fivecut/internal/config"
	"fivecut/internal/logging"
	"fivecut/internal/pipeline"
	"fivecut/internal/queue"
	"fivecut/internal/services"
)

// Handler executes the edit pipeline for one claimed job.
type Handler interface {
	Run(ctx context.Context, in pipeline.Input, rec pipeline.Recorder) (pipeline.Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in pipeline.Input, rec pipeline.Recorder) (pipeline.Result, error)

func (f HandlerFunc) Run(ctx context.Context, in pipeline.Input, rec pipeline.Recorder) (pipeline.Result, error) {
	return f(ctx, in, rec)
}

// Manager coordinates the worker pool over the shared job store.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	handler      Handler
	logger       *slog.Logger
	pollInterval time.Duration
	heartbeat    *HeartbeatMonitor

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, handler Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		handler:      handler,
		logger:       logger,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	workers := m.cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers + 1)
	m.mu.Unlock()

	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	go m.runMaintenance(runCtx)

	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// LastError returns the most recent worker-level failure, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) runWorker(ctx context.Context, idx int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldComponent, "workflow-worker"), logging.Int("worker", idx))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("claim next job failed", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
			}
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.pollInterval):
			}
			continue
		}

		m.processJob(ctx, logger, job)
	}
}

func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	logger = logger.With(logging.String(logging.FieldJobID, job.ID))
	logger.Info("job started", logging.String("source_key", job.SourceKey))

	jobCtx := ctx
	var cancel context.CancelFunc
	if job.TimeoutSeconds > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	rec := newJobRecorder(m.store, job.ID)
	result, runErr := m.handler.Run(jobCtx, pipeline.Input{
		JobID:     job.ID,
		OwnerSub:  job.OwnerSub,
		SourceKey: job.SourceKey,
		Options:   job.Options,
	}, rec)

	stopHeartbeat()
	hbWG.Wait()

	m.finalizeJob(context.WithoutCancel(ctx), logger, job.ID, result, runErr)
}

// finalizeJob persists the terminal state for the job. Cancellations were
// already stamped by the pipeline checkpoint; everything else lands in
// finished or failed.
func (m *Manager) finalizeJob(ctx context.Context, logger *slog.Logger, jobID string, result pipeline.Result, runErr error) {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		m.setLastError(err)
		logger.Error("reload job for finalize failed", logging.Error(err))
		return
	}

	now := time.Now().UTC()
	switch {
	case runErr == nil:
		job.Status = queue.StatusFinished
		job.OutputKey = result.OutputKey
		if result.JSONKey != "" {
			job.JSONKey = result.JSONKey
		}
		if result.DetectMP4Key != "" {
			job.DetectMP4Key = result.DetectMP4Key
		}
		job.EndedAt = &now
		logger.Info("job finished", logging.String("output_key", result.OutputKey))
	case errors.Is(runErr, services.ErrCanceled):
		// MarkCanceled already moved the job to canceled with its reason.
		logger.Info("job canceled")
		return
	default:
		job.Status = queue.StatusFailed
		job.ErrorMessage = runErr.Error()
		job.EndedAt = &now
		logger.Error("job failed", logging.Error(runErr))
	}
	job.LastHeartbeat = nil

	if err := m.store.Update(ctx, job); err != nil {
		m.setLastError(err)
		logger.Error("persist terminal job state failed", logging.Error(err))
	}
}

// runMaintenance periodically reclaims stale jobs and reaps expired
// terminal records.
func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldComponent, "workflow-maintenance"))

	interval := time.Duration(m.cfg.Workflow.ReapInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reclaim stale jobs failed", logging.Error(err))
			}
			reaped, err := m.store.ReapExpired(ctx, time.Now())
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reap expired jobs failed", logging.Error(err))
			} else if reaped > 0 {
				logger.Info("reaped expired jobs", logging.Int64("count", reaped))
			}
		}
	}
}

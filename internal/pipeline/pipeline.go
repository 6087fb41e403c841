// Package pipeline runs the fixed multi-stage auto-edit sequence for one
// job: download, detection, enhancement, highlight extraction with optional
// super-resolution, final selection, normalization, and upload. Every stage
// is preceded by a cancellation checkpoint, and stage failures degrade to
// the next fallback instead of failing the job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"fivecut/internal/config"
	"fivecut/internal/logging"
	"fivecut/internal/queue"
	"fivecut/internal/runner"
	"fivecut/internal/services"
	"fivecut/internal/storage"
)

// ObjectStore is the storage surface the pipeline needs.
type ObjectStore interface {
	Download(ctx context.Context, key, destPath string) error
	Upload(ctx context.Context, localPath, key string) error
}

// ToolRunner executes external tools under cancellation supervision.
type ToolRunner interface {
	Run(ctx context.Context, cmd runner.Command, obs runner.Observer, sink runner.Sink) (int, error)
}

// Recorder persists job logs, cancellation state, and incremental artifact
// metadata while the pipeline runs.
type Recorder interface {
	AppendLines(ctx context.Context, lines ...string) error
	SetChildPID(ctx context.Context, pid int) error
	ShouldAbort(ctx context.Context) (bool, error)
	MarkCanceled(ctx context.Context) error
	SetJSONKey(ctx context.Context, key string) error
	SetDetectMP4Key(ctx context.Context, key string) error
	SetOutputKey(ctx context.Context, key string) error
}

// Input identifies the job to process.
type Input struct {
	JobID     string
	OwnerSub  string
	SourceKey string
	Options   queue.Options
}

// Result carries the artifact keys produced for the job.
type Result struct {
	OutputKey    string
	JSONKey      string
	DetectMP4Key string
}

// Pipeline executes jobs. It is safe for concurrent use; all per-job state
// lives in the jobState created by Run.
type Pipeline struct {
	cfg    *config.Config
	store  ObjectStore
	run    ToolRunner
	logger *slog.Logger
}

// New constructs a pipeline. A nil logger disables logging.
func New(cfg *config.Config, store ObjectStore, run ToolRunner, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{cfg: cfg, store: store, run: run, logger: logger}
}

// jobState bundles the per-job scratch directory and recorder. It satisfies
// runner.Observer and runner.Sink so tool invocations feed the job record
// directly.
type jobState struct {
	ctx     context.Context
	rec     Recorder
	scratch string
	input   Input
}

func (js *jobState) ShouldAbort(ctx context.Context) (bool, error) {
	return js.rec.ShouldAbort(ctx)
}

func (js *jobState) AppendLines(ctx context.Context, lines ...string) error {
	return js.rec.AppendLines(ctx, lines...)
}

func (js *jobState) SetChildPID(ctx context.Context, pid int) error {
	return js.rec.SetChildPID(ctx, pid)
}

func (js *jobState) log(msg string) {
	_ = js.rec.AppendLines(context.WithoutCancel(js.ctx), msg)
}

func (js *jobState) exportKey(parts ...string) string {
	return storage.ExportKey(js.input.OwnerSub, js.input.JobID, parts...)
}

// Run processes one job end to end. The scratch directory is removed on
// every exit path. A cancellation observed at any checkpoint returns an
// error matching services.ErrCanceled after marking the job canceled; no
// artifact is uploaded past that point.
func (p *Pipeline) Run(ctx context.Context, in Input, rec Recorder) (Result, error) {
	var result Result

	scratch, err := os.MkdirTemp(p.cfg.Paths.ScratchDir, "job-"+in.JobID+"-")
	if err != nil {
		return result, services.Wrap(services.ErrStorage, "prepare", "scratch", "create scratch dir", err)
	}
	defer os.RemoveAll(scratch)

	js := &jobState{ctx: ctx, rec: rec, scratch: scratch, input: in}
	log := p.logger.With(logging.FieldJobID, in.JobID)

	source := filepath.Join(scratch, "input.mp4")
	js.log(fmt.Sprintf("[download] %s", in.SourceKey))
	if err := p.store.Download(ctx, in.SourceKey, source); err != nil {
		return result, services.Wrap(services.ErrStorage, "download", "get", "download source", err)
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return result, err
	}

	detection, err := p.runDetect(ctx, js, source)
	if err != nil {
		return result, err
	}
	if detection.jsonPath != "" {
		key := js.exportKey("detect.json")
		if err := p.uploadArtifact(ctx, js, detection.jsonPath, key); err != nil {
			return result, err
		}
		result.JSONKey = key
		if err := rec.SetJSONKey(ctx, key); err != nil {
			log.Warn("record json key", logging.Error(err))
		}
	}
	if detection.videoPath != "" {
		key := js.exportKey("detect_annotated.mp4")
		if err := p.uploadArtifact(ctx, js, detection.videoPath, key); err != nil {
			return result, err
		}
		result.DetectMP4Key = key
		if err := rec.SetDetectMP4Key(ctx, key); err != nil {
			log.Warn("record detect mp4 key", logging.Error(err))
		}
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return result, err
	}

	// Final candidate priority: highlight output > enhanced > annotated >
	// source. Each stage below only raises the candidate, never lowers it.
	var finalLocal string
	analysisVideo := source

	if detection.jsonPath != "" {
		if enhanced, err := p.runEnhance(ctx, js, source, detection.jsonPath); err != nil {
			return result, err
		} else if enhanced != "" {
			finalLocal = enhanced
			analysisVideo = enhanced
			js.log("[pipeline] using enhanced video as candidate final")
		}
	} else {
		js.log("[enhance] skipped: no detection json")
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return result, err
	}

	if detection.jsonPath != "" {
		highlight, err := p.runHighlights(ctx, js, source, analysisVideo, detection.jsonPath)
		if err != nil {
			return result, err
		}
		if highlight.outputPath != "" {
			finalLocal = highlight.outputPath
			js.log("[pipeline] using highlight output as final")
		}
	} else {
		js.log("[highlight] skipped: no detection json")
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return result, err
	}

	if finalLocal == "" && detection.videoPath != "" {
		js.log("[pipeline] no derived edit; using annotated video as final")
		finalLocal = detection.videoPath
	}
	if finalLocal == "" {
		js.log("[pipeline] no derived outputs; using source as final")
		finalLocal = source
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return result, err
	}

	fixed := filepath.Join(scratch, "final_fixed.mp4")
	if p.finalize(ctx, js, finalLocal, fixed) {
		finalLocal = fixed
	} else {
		if err := p.checkpoint(ctx, js); err != nil {
			return result, err
		}
		js.log("[fix] normalize failed; uploading un-normalized result")
	}
	if in.Options.FPS60 {
		if err := p.checkpoint(ctx, js); err != nil {
			return result, err
		}
		if rerated, ok := p.rerate(ctx, js, finalLocal, 60); ok {
			finalLocal = rerated
		} else {
			js.log("[fix] fps re-rate failed; keeping original frame rate")
		}
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return result, err
	}

	outputKey := js.exportKey("output.mp4")
	if err := p.uploadArtifact(ctx, js, finalLocal, outputKey); err != nil {
		return result, err
	}
	result.OutputKey = outputKey
	if err := rec.SetOutputKey(ctx, outputKey); err != nil {
		log.Warn("record output key", logging.Error(err))
	}

	log.Info("pipeline finished", logging.String("output_key", outputKey))
	return result, nil
}

// checkpoint stops the pipeline when a cancellation has been requested.
func (p *Pipeline) checkpoint(ctx context.Context, js *jobState) error {
	abort, err := js.rec.ShouldAbort(ctx)
	if err != nil {
		return services.Wrap(services.ErrStorage, "checkpoint", "poll", "read abort flag", err)
	}
	if !abort {
		return nil
	}
	if err := js.rec.MarkCanceled(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("mark canceled", logging.Error(err))
	}
	return services.Wrap(services.ErrCanceled, "checkpoint", "abort", queue.CanceledByUser, nil)
}

// uploadArtifact pushes one local artifact to the export namespace. A
// cancellation raised mid-stage by the runner also surfaces here.
func (p *Pipeline) uploadArtifact(ctx context.Context, js *jobState, localPath, key string) error {
	if err := p.checkpoint(ctx, js); err != nil {
		return err
	}
	js.log(fmt.Sprintf("[upload] %s", key))
	if err := p.store.Upload(ctx, localPath, key); err != nil {
		return services.Wrap(services.ErrStorage, "upload", "put", fmt.Sprintf("upload %s", key), err)
	}
	return nil
}

// stageCanceled reports whether a stage error was a cooperative abort. Such
// errors are re-raised through the next checkpoint rather than treated as
// stage degradation.
func stageCanceled(err error) bool {
	return err != nil && errors.Is(err, services.ErrCanceled)
}

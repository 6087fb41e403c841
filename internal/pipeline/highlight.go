package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fivecut/internal/runner"
)

// jerseyCeiling is the largest numeric jersey label kept in highlight
// groupings. Larger numbers are almost always misreads of scoreboard or
// advert text.
const jerseyCeiling = 50

// HighlightConfig is the explicit, typed configuration handed to the
// highlight extraction tool as a JSON file.
type HighlightConfig struct {
	RawVideoPath  string `json:"rawVideoPath"`
	ProcVideoPath string `json:"procVideoPath"`
	TrackingJSON  string `json:"trackingJson"`
	OutputVideo   string `json:"outputVideo"`
	HighlightDir  string `json:"highlightDir"`
	LogDir        string `json:"logDir"`
	FFmpegPath    string `json:"ffmpegPath"`
	ModelPath     string `json:"modelPath"`

	PersonThreshold    float64 `json:"personThreshold"`
	BallThreshold      float64 `json:"ballThreshold"`
	ConfirmationFrames int     `json:"confirmationFrames"`
	MinConfirmCount    int     `json:"minConfirmCount"`
	MergeWindow        int     `json:"mergeWindow"`
	ContactMinSec      float64 `json:"contactMinSec"`
	GoalMinSec         float64 `json:"goalMinSec"`
}

// defaultHighlightConfig returns the tuned detection thresholds for the
// highlight tool with all paths filled in by the caller.
func defaultHighlightConfig() HighlightConfig {
	return HighlightConfig{
		PersonThreshold:    0.3,
		BallThreshold:      0.45,
		ConfirmationFrames: 5,
		MinConfirmCount:    3,
		MergeWindow:        15,
		ContactMinSec:      0.25,
		GoalMinSec:         0.25,
	}
}

// highlightResult holds the local outputs of the highlight stage.
type highlightResult struct {
	outputPath    string
	highlightsDir string
	logsDir       string
}

// runHighlights executes the highlight extraction tool and uploads its
// per-jersey merged clips and log files as they become available. Only a
// cancellation or an upload failure is returned as an error; tool failures
// degrade the pipeline.
func (p *Pipeline) runHighlights(ctx context.Context, js *jobState, source, analysisVideo, trackingJSON string) (highlightResult, error) {
	tools := p.cfg.Tools
	if tools.HighlighterDir == "" {
		js.log("[highlight] skipped (not configured)")
		return highlightResult{}, nil
	}
	if _, err := os.Stat(tools.HighlighterDir); err != nil {
		js.log(fmt.Sprintf("[highlight] skipped: tool dir not found at %s", tools.HighlighterDir))
		return highlightResult{}, nil
	}

	safeSource := source
	if p.needsDecodeProxy(ctx, source) {
		proxy, err := p.makeDecodeProxy(ctx, js, source)
		if stageCanceled(err) {
			return highlightResult{}, p.checkpoint(ctx, js)
		}
		if err != nil {
			js.log(fmt.Sprintf("[highlight] decode proxy failed: %v", err))
			return highlightResult{}, nil
		}
		safeSource = proxy
	}
	procVideo := analysisVideo
	if procVideo == source {
		procVideo = safeSource
	}

	outRoot := filepath.Join(js.scratch, "highlighter_out")
	result := highlightResult{
		outputPath:    filepath.Join(outRoot, "output.mp4"),
		highlightsDir: filepath.Join(outRoot, "highlights"),
		logsDir:       filepath.Join(outRoot, "logs"),
	}
	for _, dir := range []string{result.highlightsDir, result.logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			js.log(fmt.Sprintf("[highlight] cannot create %s: %v", dir, err))
			return highlightResult{}, nil
		}
	}

	hcfg := defaultHighlightConfig()
	hcfg.RawVideoPath = safeSource
	hcfg.ProcVideoPath = procVideo
	hcfg.TrackingJSON = trackingJSON
	hcfg.OutputVideo = result.outputPath
	hcfg.HighlightDir = result.highlightsDir
	hcfg.LogDir = result.logsDir
	hcfg.FFmpegPath = tools.FFmpegBin
	hcfg.ModelPath = tools.HighlighterModel

	configPath := filepath.Join(js.scratch, "highlighter_config.json")
	encoded, err := json.MarshalIndent(hcfg, "", "  ")
	if err != nil {
		return highlightResult{}, fmt.Errorf("encode highlight config: %w", err)
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		js.log(fmt.Sprintf("[highlight] cannot write config: %v", err))
		return highlightResult{}, nil
	}

	if err := p.checkpoint(ctx, js); err != nil {
		return highlightResult{}, err
	}
	js.log("[highlight] running extraction")
	code, runErr := p.run.Run(ctx, runner.Command{
		Binary: tools.PythonBin,
		Args:   []string{"-u", "app.py", "--config", configPath},
		Dir:    tools.HighlighterDir,
	}, js, js)
	if stageCanceled(runErr) {
		return highlightResult{}, p.checkpoint(ctx, js)
	}
	if runErr != nil {
		return highlightResult{}, runErr
	}
	if code != 0 {
		js.log(fmt.Sprintf("[highlight] tool exit %d", code))
		return highlightResult{}, nil
	}

	if _, statErr := os.Stat(result.outputPath); statErr != nil {
		result.outputPath = ""
		js.log("[highlight] no merged output produced")
	}

	if err := p.uploadHighlightClips(ctx, js, result.highlightsDir); err != nil {
		return highlightResult{}, err
	}
	if err := p.uploadHighlightLogs(ctx, js, result.logsDir); err != nil {
		return highlightResult{}, err
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return highlightResult{}, err
	}
	return result, nil
}

// uploadHighlightClips pushes each kept per-jersey merged clip, optionally
// running super-resolution on it first.
func (p *Pipeline) uploadHighlightClips(ctx context.Context, js *jobState, highlightsDir string) error {
	byJersey := filepath.Join(highlightsDir, "by_jersey")
	entries, err := os.ReadDir(byJersey)
	if err != nil {
		js.log("[highlight] by_jersey folder not found; skipping clip upload")
		return nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		group := entry.Name()
		if !KeepHighlightGroup(group) {
			continue
		}
		merged := filepath.Join(byJersey, group, group+".mp4")
		if _, statErr := os.Stat(merged); statErr != nil {
			continue
		}

		uploadSrc := merged
		if js.input.Options.SuperResolution {
			if err := p.checkpoint(ctx, js); err != nil {
				return err
			}
			scale := js.input.Options.SuperResolutionScale
			if scale <= 0 {
				scale = p.cfg.Tools.SuperResScale
			}
			js.log(fmt.Sprintf("[pipeline] super-resolution x%g for %s.mp4", scale, group))
			srOut, srErr := p.runSuperRes(ctx, js, merged, scale)
			if stageCanceled(srErr) {
				return p.checkpoint(ctx, js)
			}
			if srErr == nil && srOut != "" {
				uploadSrc = srOut
			} else {
				js.log("[pipeline] super-resolution unavailable; uploading merged clip as-is")
			}
		}

		key := js.exportKey("highlighter", "highlights", "by_jersey", group, group+".mp4")
		if err := p.uploadArtifact(ctx, js, uploadSrc, key); err != nil {
			return err
		}
	}
	return nil
}

// uploadHighlightLogs pushes every file under the tool's log directory.
func (p *Pipeline) uploadHighlightLogs(ctx context.Context, js *jobState, logsDir string) error {
	if _, err := os.Stat(logsDir); err != nil {
		return nil
	}
	return filepath.WalkDir(logsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(logsDir, path)
		if relErr != nil {
			return relErr
		}
		key := js.exportKey("highlighter", "logs", filepath.ToSlash(rel))
		return p.uploadArtifact(ctx, js, path, key)
	})
}

// KeepHighlightGroup decides whether a by_jersey group directory takes part
// in grouping and upload. Group names look like "12_RED" or "unknown_WHITE".
// The label "unknown" is always kept; numeric labels are kept up to the
// ceiling; anything else is a misread and dropped.
func KeepHighlightGroup(group string) bool {
	label := group
	if idx := strings.Index(group, "_"); idx >= 0 {
		label = group[:idx]
	}
	if strings.EqualFold(label, "unknown") {
		return true
	}
	n, err := strconv.Atoi(label)
	if err != nil {
		return false
	}
	return n <= jerseyCeiling
}

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"fivecut/internal/runner"
)

// clahe effect applied by the enhancement tool; the output file is named
// after it.
const enhanceEffect = "WB_CLAHE_JSON_ROI"

// runEnhance applies region-of-interest contrast correction guided by the
// detection record. Returns the enhanced video path, or "" when the stage
// was skipped or failed.
func (p *Pipeline) runEnhance(ctx context.Context, js *jobState, source, trackingJSON string) (string, error) {
	tools := p.cfg.Tools
	if !tools.EnableEnhance {
		js.log("[enhance] skipped (disabled)")
		return "", nil
	}
	if _, err := os.Stat(tools.EnhanceScript); err != nil {
		js.log(fmt.Sprintf("[enhance] skipped: script not found at %s", tools.EnhanceScript))
		return "", nil
	}
	if err := p.checkpoint(ctx, js); err != nil {
		return "", err
	}

	outDir := filepath.Join(js.scratch, "tools")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		js.log(fmt.Sprintf("[enhance] cannot create output dir: %v", err))
		return "", nil
	}

	js.log(fmt.Sprintf("[enhance] applying %s", enhanceEffect))
	code, err := p.run.Run(ctx, runner.Command{
		Binary: tools.PythonBin,
		Args: []string{
			tools.EnhanceScript,
			"--video", source,
			"--tracking-json", trackingJSON,
			"--effect", enhanceEffect,
			"--out-dir", outDir,
		},
		Dir: filepath.Dir(tools.EnhanceScript),
	}, js, js)
	if stageCanceled(err) {
		return "", p.checkpoint(ctx, js)
	}
	if err != nil {
		return "", err
	}
	if code != 0 {
		js.log(fmt.Sprintf("[enhance] failed with code %d", code))
		return "", nil
	}

	output := filepath.Join(outDir, enhanceEffect+".mp4")
	if _, statErr := os.Stat(output); statErr != nil {
		js.log("[enhance] no output produced")
		return "", nil
	}
	return output, nil
}

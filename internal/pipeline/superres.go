package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"fivecut/internal/runner"
)

// runSuperRes upscales one merged highlight clip with the super-resolution
// tool. The clip's frame rate is never altered. Returns "" when the tool is
// unavailable or fails; only cancellation surfaces as an error.
func (p *Pipeline) runSuperRes(ctx context.Context, js *jobState, input string, scale float64) (string, error) {
	tools := p.cfg.Tools
	script := filepath.Join(tools.SuperResDir, "inference_realesrgan_video.py")
	if _, err := os.Stat(script); err != nil {
		js.log(fmt.Sprintf("[sr] script not found: %s", script))
		return "", nil
	}

	srDir := filepath.Join(js.scratch, "sr")
	if err := os.MkdirAll(srDir, 0o755); err != nil {
		js.log(fmt.Sprintf("[sr] cannot create output dir: %v", err))
		return "", nil
	}
	output := filepath.Join(srDir, "sr_raw.mp4")

	args := []string{
		script,
		"-n", tools.SuperResModel,
		"-i", input,
		"-o", output,
		"--outscale", strconv.FormatFloat(scale, 'g', -1, 64),
	}
	if tools.SuperResTiles > 0 {
		args = append(args, "--tile", strconv.Itoa(tools.SuperResTiles))
	}
	if tools.SuperResHalf {
		args = append(args, "--fp16")
	}

	js.log("[sr] running super-resolution")
	code, err := p.run.Run(ctx, runner.Command{
		Binary: tools.PythonBin,
		Args:   args,
		Dir:    tools.SuperResDir,
	}, js, js)
	if stageCanceled(err) {
		return "", err
	}
	if err != nil {
		return "", err
	}
	if code != 0 {
		js.log(fmt.Sprintf("[sr] failed with code %d", code))
		return "", nil
	}
	if _, statErr := os.Stat(output); statErr != nil {
		js.log("[sr] no output produced")
		return "", nil
	}
	return output, nil
}

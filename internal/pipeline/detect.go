package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"fivecut/internal/runner"
)

const detectRunName = "fivecut"

// detection holds the local artifacts the detect stage produced. Either or
// both paths may be empty when the stage was skipped or failed.
type detection struct {
	videoPath string
	jsonPath  string
}

// runDetect invokes the object-detection tool against the source video. The
// stage is skipped when disabled by configuration or job options, or when
// the tool script or model weights are missing. A tool failure is logged and
// degrades later stages; only a cancellation is returned as an error.
func (p *Pipeline) runDetect(ctx context.Context, js *jobState, source string) (detection, error) {
	tools := p.cfg.Tools
	if !tools.EnableDetect || !js.input.Options.Detect {
		js.log("[detect] skipped (disabled)")
		return detection{}, nil
	}
	if _, err := os.Stat(tools.DetectScript); err != nil {
		js.log(fmt.Sprintf("[detect] skipped: script not found at %s", tools.DetectScript))
		return detection{}, nil
	}
	if _, err := os.Stat(tools.DetectWeights); err != nil {
		js.log(fmt.Sprintf("[detect] skipped: weights not found at %s", tools.DetectWeights))
		return detection{}, nil
	}

	outRoot := filepath.Join(js.scratch, "runs", "detect")
	args := []string{
		tools.DetectScript,
		"--weights", tools.DetectWeights,
		"--img-size", strconv.Itoa(tools.DetectImageSize),
		"--source", source,
		"--conf-thres", strconv.FormatFloat(tools.DetectConfidence, 'g', -1, 64),
		"--project", outRoot,
		"--name", detectRunName,
		"--exist-ok",
		"--save-json",
		"--save-txt",
	}
	if js.input.Options.Augment {
		args = append(args, "--augment")
	}
	if js.input.Options.NoSave {
		args = append(args, "--nosave")
	}

	js.log("[detect] running object detection")
	code, err := p.run.Run(ctx, runner.Command{
		Binary: tools.PythonBin,
		Args:   args,
		Dir:    filepath.Dir(tools.DetectScript),
	}, js, js)
	if stageCanceled(err) {
		return detection{}, p.checkpoint(ctx, js)
	}
	if err != nil {
		return detection{}, err
	}
	if code != 0 {
		js.log(fmt.Sprintf("[detect] failed with code %d", code))
		return detection{}, nil
	}

	runPath := filepath.Join(outRoot, detectRunName)
	result := detection{
		// Some detect builds write the extension upper-cased.
		jsonPath:  pickFirst(runPath, "*.json", "*.JSON"),
		videoPath: pickFirst(runPath, "*.mp4"),
	}
	if result.jsonPath == "" {
		js.log(fmt.Sprintf("[detect] no json produced under %s", runPath))
	}
	if result.videoPath == "" {
		js.log(fmt.Sprintf("[detect] no annotated video produced under %s", runPath))
	}
	return result, nil
}

// pickFirst returns the lexically first file matching any of the patterns,
// tried in order, or "".
func pickFirst(dir string, patterns ...string) string {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0]
	}
	return ""
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"fivecut/internal/runner"
)

// probeResult is the subset of ffprobe stream output the pipeline inspects.
type probeResult struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		PixFmt    string `json:"pix_fmt"`
	} `json:"streams"`
}

func (p *Pipeline) probe(ctx context.Context, path string, selectStreams string) (probeResult, error) {
	args := []string{"-v", "error"}
	if selectStreams != "" {
		args = append(args, "-select_streams", selectStreams)
	}
	args = append(args, "-show_entries", "stream=index,codec_type,codec_name,pix_fmt", "-of", "json", path)

	cmd := exec.CommandContext(ctx, p.cfg.Tools.FFprobeBin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return probeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var result probeResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		return probeResult{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	return result, nil
}

// hasAudio reports whether the file carries at least one audio stream.
// Probe failures count as no audio so the finalize step can still proceed.
func (p *Pipeline) hasAudio(ctx context.Context, path string) bool {
	result, err := p.probe(ctx, path, "a")
	if err != nil {
		return false
	}
	return len(result.Streams) > 0
}

// needsDecodeProxy reports whether the source should be re-encoded to a
// plain H.264/yuv420p proxy before the highlight tools read it. Anything
// that is not already in that shape gets a proxy; so does anything ffprobe
// cannot read at all.
func (p *Pipeline) needsDecodeProxy(ctx context.Context, path string) bool {
	result, err := p.probe(ctx, path, "v")
	if err != nil {
		return true
	}
	for _, stream := range result.Streams {
		if stream.CodecType != "video" && stream.CodecType != "" {
			continue
		}
		if stream.CodecName == "h264" && stream.PixFmt == "yuv420p" {
			return false
		}
	}
	return true
}

// makeDecodeProxy produces an H.264/yuv420p copy of the input for tools that
// choke on exotic codecs.
func (p *Pipeline) makeDecodeProxy(ctx context.Context, js *jobState, input string) (string, error) {
	output := filepath.Join(js.scratch, "input_proxy.mp4")
	cmd := runner.Command{
		Binary: p.cfg.Tools.FFmpegBin,
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", input,
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "20", "-pix_fmt", "yuv420p",
			"-movflags", "+faststart",
			"-c:a", "aac", "-b:a", "128k",
			output,
		},
	}
	js.log("[pre-fix] transcoding decode proxy")
	code, err := p.run.Run(ctx, cmd, js, js)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("proxy transcode exit %d", code)
	}
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("proxy output missing: %w", err)
	}
	return output, nil
}

// finalize re-encodes the chosen candidate to H.264/yuv420p with AAC audio
// when present and a faststart layout. Returns false on failure so the
// caller can fall back to the un-normalized candidate.
func (p *Pipeline) finalize(ctx context.Context, js *jobState, input, output string) bool {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "20", "-pix_fmt", "yuv420p",
	}
	if p.hasAudio(ctx, input) {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", output)

	js.log("[fix] normalizing final output")
	code, err := p.run.Run(ctx, runner.Command{Binary: p.cfg.Tools.FFmpegBin, Args: args}, js, js)
	if err != nil || code != 0 {
		return false
	}
	_, statErr := os.Stat(output)
	return statErr == nil
}

// rerate re-encodes the input at the target frame rate. Failures are
// non-fatal; the caller keeps the original file.
func (p *Pipeline) rerate(ctx context.Context, js *jobState, input string, fps int) (string, bool) {
	output := filepath.Join(js.scratch, fmt.Sprintf("final_%dfps.mp4", fps))
	cmd := runner.Command{
		Binary: p.cfg.Tools.FFmpegBin,
		Args: []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", input,
			"-r", strconv.Itoa(fps),
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "18",
			"-c:a", "copy",
			output,
		},
	}
	js.log(fmt.Sprintf("[fix] re-rating final output to %d fps", fps))
	code, err := p.run.Run(ctx, cmd, js, js)
	if err != nil || code != 0 {
		return "", false
	}
	if _, statErr := os.Stat(output); statErr != nil {
		return "", false
	}
	return output, true
}

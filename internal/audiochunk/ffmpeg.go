package audiochunk

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// prober determines a source file's duration (ms) and size (bytes).
// Abstracted so tests can substitute canned values without ffprobe on
// PATH, the same pattern jensen.transport uses to substitute a device
// simulator for real USB.
type prober interface {
	probe(ctx context.Context, path string) (durationMs int64, sizeBytes int64, err error)
}

// encoder produces one encoded chunk covering [startMs, endMs) of srcPath
// at bitrateKbps, writing to outPath.
type encoder interface {
	encode(ctx context.Context, srcPath string, startMs, endMs int64, bitrateKbps int, outPath string) error
}

type ffprobeProber struct{}

// probe shells out to ffprobe for the container duration, and stats the
// file directly for size, grounded on the natashi encoder's
// exec.CommandContext usage.
func (ffprobeProber) probe(ctx context.Context, path string) (int64, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe: parse duration %q: %w", out.String(), err)
	}
	return int64(seconds * 1000), info.Size(), nil
}

type ffmpegEncoder struct{}

// encode runs ffmpeg over [startMs, endMs) of srcPath at bitrateKbps,
// writing outPath. Args follow the same shape as the natashi pipeline's
// buildArgs: seek/duration before the input, an explicit audio bitrate,
// video dropped, loglevel pinned to warning, and the output container
// matched to the source extension via outPath. Sample rate and channel
// count are left to ffmpeg's defaults.
func (ffmpegEncoder) encode(ctx context.Context, srcPath string, startMs, endMs int64, bitrateKbps int, outPath string) error {
	startSec := float64(startMs) / 1000
	durSec := float64(endMs-startMs) / 1000

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-t", fmt.Sprintf("%.3f", durSec),
		"-i", srcPath,
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-vn",
		"-loglevel", "warning",
		outPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg encode %s [%d,%d)ms: %w: %s", srcPath, startMs, endMs, err, stderr.String())
	}
	return nil
}

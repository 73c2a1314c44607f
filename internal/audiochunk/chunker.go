// Package audiochunk splits an audio recording larger than a
// transcription provider's per-request byte cap into ordered,
// overlap-padded chunks small enough to upload individually.
package audiochunk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sgeraldes/hidock-next-sub001/jensen"
	"github.com/sgeraldes/hidock-next-sub001/util"
)

// Chunk describes one piece of a planned split. Passthrough is true for
// the degenerate single-chunk case where the source already fits under
// the cap and no encoding happened.
type Chunk struct {
	Index       int
	Path        string
	StartMS     int64
	EndMS       int64
	Bytes       int64
	Passthrough bool
}

// ProgressFunc reports completed/total chunks as encoding proceeds.
type ProgressFunc func(completed, total int)

const (
	minBitrateKbps = 64
	maxBitrateKbps = 192

	defaultTargetFraction = 0.8
)

// processSizeHintNs is the process-level "previous successful chunk
// duration" hint (spec.md §9: "no process-global state beyond the
// audio-chunker size hint, which is carried as a shared atomic"). It is
// read to stabilize sizing across calls and updated after every
// successful plan.
var processSizeHintNs atomic.Int64

// Planner plans and executes chunk splits for one caller. Its prober and
// encoder fields default to real ffmpeg/ffprobe invocations but are
// swappable for tests.
type Planner struct {
	MaxWorkers int
	OutDir     string

	prober  prober
	encoder encoder
}

// NewPlanner returns a Planner that writes encoded chunks under outDir
// and bounds encoding concurrency to 4 workers, per spec.md §4.9.
func NewPlanner(outDir string) *Planner {
	return &Planner{
		MaxWorkers: 4,
		OutDir:     outDir,
		prober:     ffprobeProber{},
		encoder:    ffmpegEncoder{},
	}
}

type window struct {
	start, end int64
}

// Plan splits path into ordered, overlap-padded chunks each at most
// maxBytes, per spec.md §4.9's five-step algorithm. cancel is checked
// between chunk launches; on cancellation, any temp chunk files already
// produced are deleted and Plan returns (nil, jensen's cancelled error).
func (p *Planner) Plan(ctx context.Context, path string, maxBytes int64, overlapMs int64, progress ProgressFunc, cancel *jensen.CancelToken) ([]Chunk, error) {
	durationMs, size, err := p.prober.probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("audiochunk: probe %s: %w", path, err)
	}

	if size <= maxBytes {
		return []Chunk{{Index: 0, Path: path, StartMS: 0, EndMS: durationMs, Bytes: size, Passthrough: true}}, nil
	}
	if durationMs <= 0 {
		return nil, fmt.Errorf("audiochunk: %s reports zero duration", path)
	}

	windows := planWindows(durationMs, targetChunkMs(size, durationMs, maxBytes), overlapMs)
	bitrate := int(util.Clamp(averageBitrateKbps(size, durationMs), minBitrateKbps, maxBitrateKbps))

	ext := filepath.Ext(path)
	base := baseName(path)

	chunks := make([]Chunk, len(windows))
	errs := make([]error, len(windows))

	var producedMu sync.Mutex
	var produced []string
	var completed int
	var cancelled atomic.Bool

	sem := make(chan struct{}, p.maxWorkers())
	var wg sync.WaitGroup

	for i, w := range windows {
		if cancel.Cancelled() {
			cancelled.Store(true)
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, w window) {
			defer wg.Done()
			defer func() { <-sem }()

			if cancel.Cancelled() {
				cancelled.Store(true)
				return
			}

			outPath := filepath.Join(p.OutDir, fmt.Sprintf("%s.chunk%03d%s", base, i, ext))
			if err := p.encoder.encode(ctx, path, w.start, w.end, bitrate, outPath); err != nil {
				errs[i] = err
				return
			}
			producedMu.Lock()
			produced = append(produced, outPath)
			producedMu.Unlock()

			info, statErr := os.Stat(outPath)
			if statErr != nil {
				errs[i] = statErr
				return
			}
			if info.Size() > maxBytes {
				errs[i] = fmt.Errorf("audiochunk: encoded chunk %d is %d bytes, over the %d byte cap", i, info.Size(), maxBytes)
				return
			}
			chunks[i] = Chunk{Index: i, Path: outPath, StartMS: w.start, EndMS: w.end, Bytes: info.Size()}
			producedMu.Lock()
			completed++
			if progress != nil {
				progress(completed, len(windows))
			}
			producedMu.Unlock()
		}(i, w)
	}
	wg.Wait()

	if cancelled.Load() || cancel.Cancelled() {
		cleanupFiles(produced)
		return nil, &jensen.Error{Kind: jensen.ErrKindCancelled, Message: fmt.Sprintf("audiochunk plan for %s cancelled", path)}
	}
	for _, e := range errs {
		if e != nil {
			cleanupFiles(produced)
			return nil, e
		}
	}

	var largest int64
	for _, w := range windows {
		if d := w.end - w.start; d > largest {
			largest = d
		}
	}
	if largest > 0 {
		processSizeHintNs.Store(largest * int64(time.Millisecond))
	}

	return chunks, nil
}

// EstimateChunkCount estimates how many chunks a plan will take from the
// probed duration and file size alone, without encoding anything (the
// default prober still runs ffprobe for the duration). It divides the
// duration by the target chunk duration and does not account for overlap,
// so Plan can produce more chunks than estimated. Supplemental feature
// grounded on original_source/apps/desktop/src/transcription_module.py,
// used by callers (progress bars) to size a display before the real plan
// runs.
func (p *Planner) EstimateChunkCount(ctx context.Context, path string, maxBytes int64) (int, error) {
	durationMs, size, err := p.prober.probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("audiochunk: probe %s: %w", path, err)
	}
	if size <= maxBytes {
		return 1, nil
	}
	if durationMs <= 0 {
		return 0, fmt.Errorf("audiochunk: %s reports zero duration", path)
	}
	chunkMs := targetChunkMs(size, durationMs, maxBytes)
	count := int((durationMs + chunkMs - 1) / chunkMs)
	if count < 1 {
		count = 1
	}
	return count, nil
}

func (p *Planner) maxWorkers() int {
	if p.MaxWorkers <= 0 {
		return 1
	}
	if p.MaxWorkers > 4 {
		return 4
	}
	return p.MaxWorkers
}

// targetChunkMs picks the initial chunk duration: the process-level hint
// from a previous successful plan, if any, else 80% of the byte cap
// converted through the source's bytes-per-millisecond rate.
func targetChunkMs(sizeBytes, durationMs, maxBytes int64) int64 {
	if hint := processSizeHintNs.Load(); hint > 0 {
		return hint / int64(time.Millisecond)
	}
	bytesPerMs := float64(sizeBytes) / float64(durationMs)
	if bytesPerMs <= 0 {
		return durationMs
	}
	return int64(defaultTargetFraction * float64(maxBytes) / bytesPerMs)
}

func averageBitrateKbps(sizeBytes, durationMs int64) float64 {
	if durationMs <= 0 {
		return minBitrateKbps
	}
	seconds := float64(durationMs) / 1000
	return (float64(sizeBytes) * 8 / 1000) / seconds
}

// planWindows generates overlapping [start, end) windows covering
// [0, durationMs), guaranteeing forward progress even when overlapMs is
// large relative to chunkMs (spec.md §4.9 step 3).
func planWindows(durationMs, chunkMs, overlapMs int64) []window {
	if chunkMs <= overlapMs {
		chunkMs = overlapMs*2 + 1
	}
	var windows []window
	start := int64(0)
	for start < durationMs {
		end := start + chunkMs
		if end > durationMs {
			end = durationMs
		}
		windows = append(windows, window{start: start, end: end})
		if end >= durationMs {
			break
		}
		next := end - overlapMs
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

func baseName(path string) string {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

func cleanupFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

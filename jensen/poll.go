package jensen

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// WatchCurrentRecording runs a cancellable periodic poll of
// GetCurrentRecordingFilename, invoking cb whenever the result changes.
// Polls are spaced at least interval apart by a rate limiter (grounded on
// nkt.go's use of golang.org/x/time/rate for a source that dislikes being
// hammered); no minimum interval is imposed beyond the one the caller
// passes. It returns when ctx is cancelled. This replaces the sleep-based polling loops in the original
// Python GUI (spec.md §9) with a task-based equivalent.
func (d *Device) WatchCurrentRecording(ctx context.Context, interval time.Duration, cb func(name string)) {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	var last string
	first := true
	for {
		if err := limiter.Wait(ctx); err != nil {
			return // context cancelled
		}
		name, err := d.GetCurrentRecordingFilename(ctx)
		if err != nil {
			continue // probes swallow errors per spec.md §7
		}
		if first || name != last {
			first = false
			last = name
			cb(name)
		}
	}
}

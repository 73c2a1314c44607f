package jensen

import (
	"sync"
	"sync/atomic"
	"time"
)

// DeviceInfo is the static identity of a connected device.
type DeviceInfo struct {
	Serial          string
	FirmwareVersion uint32
	Model           string
}

// StorageInfo is the on-device storage state. FreeBytes is derived
// (TotalBytes - UsedBytes), never transmitted by the device itself.
type StorageInfo struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64
	FileCount  uint32
	Health     string
}

// FileRecord is one entry from a device file listing.
type FileRecord struct {
	Name            string
	Length          uint32
	Version         uint8
	DurationSeconds float64
	CreatedAt       *time.Time
	Signature       [16]byte
}

// OperationKind identifies what kind of work an Operation represents.
type OperationKind int

const (
	OpUnknown OperationKind = iota
	OpList
	OpDownload
	OpDelete
	OpFormat
	OpSyncTime
	OpGetInfo
	OpGetStorage
	OpGetCurrentRecording
	OpGetFileBlock
)

func (k OperationKind) String() string {
	switch k {
	case OpList:
		return "list"
	case OpDownload:
		return "download"
	case OpDelete:
		return "delete"
	case OpFormat:
		return "format"
	case OpSyncTime:
		return "sync-time"
	case OpGetInfo:
		return "get-info"
	case OpGetStorage:
		return "get-storage"
	case OpGetCurrentRecording:
		return "get-current-recording"
	case OpGetFileBlock:
		return "get-file-block"
	default:
		return "unknown"
	}
}

// OperationStatus is the lifecycle state of an Operation.
type OperationStatus int

const (
	StatusPending OperationStatus = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s OperationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in-progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Operation tracks one in-flight or completed unit of work exposed to
// callers via progress events.
type Operation struct {
	ID       string
	Kind     OperationKind
	Status   OperationStatus
	Progress float64 // monotonic, [0,1]
	Err      *Error
}

// ProgressEvent is emitted to a caller-supplied callback for any streaming
// or long-running operation.
type ProgressEvent struct {
	OperationID    string
	Kind           OperationKind
	Status         OperationStatus
	Progress       float64
	BytesProcessed uint64
	Err            *Error
}

// ProgressFunc is the callback shape accepted by streaming and
// long-running Device methods. Implementations must not block; callers
// needing blocking work should post to their own queue.
type ProgressFunc func(ProgressEvent)

// CancelToken is a shared, observable cancellation flag. It is cheaper to
// poll between streaming chunks than a context.Context select, and is the
// primitive spec.md §3/§5 describes as "a shared flag, observable by the
// streaming engine between chunks".
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken returns a fresh, unfired token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel fires the token. Safe to call more than once, and safe to call
// from any goroutine.
func (c *CancelToken) Cancel() {
	if c == nil {
		return
	}
	c.flag.Store(true)
}

// Cancelled reports whether the token has fired.
func (c *CancelToken) Cancelled() bool {
	if c == nil {
		return false
	}
	return c.flag.Load()
}

// Capability describes one thing a connected model supports.
type Capability int

const (
	CapFileList Capability = iota
	CapDownload
	CapDelete
	CapFormat
	CapRealtimeRecording
	CapHealthMonitoring
)

func (c Capability) String() string {
	switch c {
	case CapFileList:
		return "file-list"
	case CapDownload:
		return "download"
	case CapDelete:
		return "delete"
	case CapFormat:
		return "format"
	case CapRealtimeRecording:
		return "realtime-recording"
	case CapHealthMonitoring:
		return "health-monitoring"
	default:
		return "unknown"
	}
}

// ConnectionStats is the live counter accumulator for one connection.
// Writes happen under a lightweight lock per spec.md §5 "shared-resource
// policy"; it is never copied or returned by value (it embeds a mutex) —
// callers read it through Snapshot, which hands back a plain, lock-free
// ConnectionStatsSnapshot.
type ConnectionStats struct {
	mu sync.Mutex

	CommandsSent      uint64
	ResponsesReceived uint64
	BytesTransferred  uint64
	LastOpDuration    time.Duration
	ConnectedAt       time.Time
	ErrorCounts       map[ErrorKind]uint64
}

// ConnectionStatsSnapshot is a point-in-time, lock-free copy of
// ConnectionStats, safe to pass around and encode as JSON.
type ConnectionStatsSnapshot struct {
	CommandsSent      uint64
	ResponsesReceived uint64
	BytesTransferred  uint64
	LastOpDuration    time.Duration
	ConnectedAt       time.Time
	ErrorCounts       map[ErrorKind]uint64
}

// newConnectionStats returns a zeroed stats block, not yet marked
// connected.
func newConnectionStats() *ConnectionStats {
	return &ConnectionStats{
		ErrorCounts: make(map[ErrorKind]uint64),
	}
}

func (s *ConnectionStats) markConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectedAt = time.Now()
}

func (s *ConnectionStats) recordCommand() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommandsSent++
}

func (s *ConnectionStats) recordResponse(bytes int, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponsesReceived++
	s.BytesTransferred += uint64(bytes)
	s.LastOpDuration = dur
}

func (s *ConnectionStats) recordError(kind ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorCounts[kind]++
}

// Snapshot returns a copy of the current stats, safe to read without
// further locking.
func (s *ConnectionStats) Snapshot() ConnectionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ConnectionStatsSnapshot{
		CommandsSent:      s.CommandsSent,
		ResponsesReceived: s.ResponsesReceived,
		BytesTransferred:  s.BytesTransferred,
		LastOpDuration:    s.LastOpDuration,
		ConnectedAt:       s.ConnectedAt,
		ErrorCounts:       make(map[ErrorKind]uint64, len(s.ErrorCounts)),
	}
	for k, v := range s.ErrorCounts {
		cp.ErrorCounts[k] = v
	}
	return cp
}

// Uptime returns how long the connection has been open.
func (s ConnectionStatsSnapshot) Uptime() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(s.ConnectedAt)
}

// ErrorRate is (commands sent - responses received) / max(1, commands sent),
// per spec.md §4.7, floored at zero: a file stream records one command but
// one response per chunk, so responses can outnumber commands.
func (s ConnectionStatsSnapshot) ErrorRate() float64 {
	if s.ResponsesReceived >= s.CommandsSent {
		return 0
	}
	sent := s.CommandsSent
	if sent == 0 {
		sent = 1
	}
	missing := s.CommandsSent - s.ResponsesReceived
	return float64(missing) / float64(sent)
}

// DeviceHealth is the derived health tag plus the stats it was computed
// from.
type DeviceHealth struct {
	Status string
	Stats  ConnectionStatsSnapshot
}

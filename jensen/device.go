// Package jensen implements the HiDock device protocol stack: USB
// transport, length-framed request/response and streaming wire protocol,
// the command codec, the chunked file-list parser, the file-block
// streaming engine, and connection health/recovery — all behind the
// single public façade type, Device.
package jensen

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
)

// DefaultCommandTimeout and DefaultStreamTimeout are the spec.md §5
// defaults for single-response calls and streaming transfers,
// respectively.
const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultStreamTimeout  = 180 * time.Second
)

// fallbackCapacityBytes is returned by GetStorageInfo while a file-list
// stream owns the bus, per spec.md §4.8 ("returns a fallback capacity
// during active list streaming to avoid collisions") and the Glossary's
// "Fallback storage info".
const fallbackCapacityBytes = 0

// Device is the public, high-level async API consumed by the GUI and
// metadata layers (spec.md §4.8). A Device owns at most one open USB
// handle at a time; all wire I/O is serialized through ioMu.
type Device struct {
	// ioMu serializes everything that touches the transport/correlator:
	// single-response calls and streaming calls alike. Probes that have a
	// documented fallback (current recording, storage info) and Delete
	// check listStreamActive *before* contending for ioMu so they can
	// return immediately instead of queuing behind a long-running list
	// stream, per spec.md §4.4's exclusivity guard.
	ioMu sync.Mutex
	// mu guards the façade's own bookkeeping (sequence counter, cached
	// info, descriptor) independent of ioMu so RecoverFromError can
	// reset state without deadlocking on a stuck transport.
	mu sync.Mutex

	transport transport
	corr      *correlator

	sequence uint32

	stats *ConnectionStats

	lastDescriptor DeviceDescriptor
	cachedInfo     *DeviceInfo
	cachedCapabilities []Capability

	listStreamActive atomic.Bool

	commandTimeout time.Duration
	streamTimeout  time.Duration

	opCounter uint64

	// scanVendorID and scanProductIDs bound Discover/Connect's USB scan.
	// They default to the package-level VendorID/knownProductIDs but are
	// overridable via SetScanIDs for field units running non-stock
	// firmware IDs (internal/config.Config.VendorID/ProductIDs).
	scanVendorID   gousb.ID
	scanProductIDs []gousb.ID

	// verboseLog and protocolLog gate operational and per-frame logging,
	// respectively (internal/config.Config.EnableVerboseLogging/
	// EnableProtocolLogging).
	verboseLog  bool
	protocolLog bool

	// openFn opens a transport for a descriptor. It defaults to real USB
	// (openTransport) but is swappable so RecoverFromError's reconnect
	// ladder can be driven by a synthetic fail-once/always-fail transport
	// in tests (spec.md §8's recovery property), without real hardware.
	openFn func(desc DeviceDescriptor, forceReset bool) (transport, error)
}

// NewDevice returns an unconnected façade with default timeouts.
func NewDevice() *Device {
	return &Device{
		stats:          newConnectionStats(),
		commandTimeout: DefaultCommandTimeout,
		streamTimeout:  DefaultStreamTimeout,
		scanVendorID:   gousb.ID(VendorID),
		scanProductIDs: knownProductIDs,
		openFn: func(desc DeviceDescriptor, forceReset bool) (transport, error) {
			return openTransport(desc, forceReset)
		},
	}
}

// SetTimeouts overrides the default command/stream timeouts (spec.md §5).
func (d *Device) SetTimeouts(command, stream time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commandTimeout = command
	d.streamTimeout = stream
}

// SetScanIDs overrides the vendor/product ID set used by Discover and
// Connect, for HiDock units running non-stock firmware IDs. An empty
// productIDs leaves the default PID set in place.
func (d *Device) SetScanIDs(vendorID uint16, productIDs []uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanVendorID = gousb.ID(vendorID)
	if len(productIDs) > 0 {
		ids := make([]gousb.ID, len(productIDs))
		for i, pid := range productIDs {
			ids[i] = gousb.ID(pid)
		}
		d.scanProductIDs = ids
	}
}

// SetLogging turns on general operational logging (verbose) and, on top
// of that, per-frame wire logging (protocol), matching
// internal/config.Config's EnableVerboseLogging/EnableProtocolLogging.
func (d *Device) SetLogging(verbose, protocol bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verboseLog = verbose
	d.protocolLog = protocol
}

func (d *Device) nextOpID(kind OperationKind) string {
	n := atomic.AddUint64(&d.opCounter, 1)
	return fmt.Sprintf("%s-%d", kind, n)
}

func (d *Device) nextSequence() uint32 {
	return atomic.AddUint32(&d.sequence, 1)
}

// Discover enumerates attached HiDock devices (spec.md §4.8). Any backend
// error is swallowed and yields an empty slice, per spec.md §4.1.
func (d *Device) Discover(ctx context.Context) []DeviceDescriptor {
	d.mu.Lock()
	vid, pids := d.scanVendorID, d.scanProductIDs
	d.mu.Unlock()
	return enumerate(vid, pids)
}

// Connect opens a device by serial (or the first one found, if serial is
// empty) and fetches its device info. Failures are reported as
// ErrKindConnection.
func (d *Device) Connect(ctx context.Context, serial string, forceReset bool) (DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.verboseLog {
		log.Printf("jensen: connecting (serial=%q forceReset=%v)", serial, forceReset)
	}

	descs := enumerate(d.scanVendorID, d.scanProductIDs)
	var chosen *DeviceDescriptor
	for i := range descs {
		if serial == "" || descs[i].Serial == serial {
			chosen = &descs[i]
			break
		}
	}
	if chosen == nil {
		return DeviceInfo{}, newErr(ErrKindConnection, nil, "no matching HiDock device found (serial=%q)", serial)
	}

	info, err := d.connectLocked(*chosen, forceReset)
	if err != nil && KindOf(err) != ErrKindConnection {
		return DeviceInfo{}, newErr(ErrKindConnection, err, "connect to %q failed", chosen.Serial)
	}
	return info, err
}

// connectLocked performs the actual open + device-info round trip. Caller
// must hold d.mu.
func (d *Device) connectLocked(desc DeviceDescriptor, forceReset bool) (DeviceInfo, error) {
	t, err := d.openFn(desc, forceReset)
	if err != nil {
		return DeviceInfo{}, err
	}

	d.ioMu.Lock()
	d.transport = t
	d.corr = newCorrelator(t, d.stats, d.protocolLog)
	d.ioMu.Unlock()
	d.sequence = 0
	d.lastDescriptor = desc
	d.stats.markConnected()

	info, err := d.getDeviceInfoLocked()
	if err != nil {
		_ = t.close()
		d.ioMu.Lock()
		d.transport = nil
		d.corr = nil
		d.ioMu.Unlock()
		return DeviceInfo{}, err
	}
	info.Model = desc.Model
	d.cachedInfo = &info
	d.cachedCapabilities = capabilitiesForModel(desc.Model)
	if d.verboseLog {
		log.Printf("jensen: connected to %s (model=%s)", desc.Serial, desc.Model)
	}
	return info, nil
}

// Disconnect closes the USB handle, if open.
func (d *Device) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnectLocked()
}

func (d *Device) disconnectLocked() error {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	if d.transport == nil {
		return nil
	}
	err := d.transport.close()
	d.transport = nil
	d.corr = nil
	d.cachedInfo = nil
	d.cachedCapabilities = nil
	return err
}

// IsConnected reports whether a USB handle is currently open.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport != nil
}

// GetDeviceInfo returns the device's static identity, cached after the
// first successful call (spec.md §4.8).
func (d *Device) GetDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cachedInfo != nil {
		return *d.cachedInfo, nil
	}
	info, err := d.getDeviceInfoLocked()
	if err != nil {
		return DeviceInfo{}, err
	}
	d.cachedInfo = &info
	return info, nil
}

// getDeviceInfoLocked requires d.mu held and d.transport != nil (or
// returns a connection error).
func (d *Device) getDeviceInfoLocked() (DeviceInfo, error) {
	if d.transport == nil {
		return DeviceInfo{}, newErr(ErrKindTransportIO, nil, "not connected")
	}
	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	seq := d.nextSequence()
	d.stats.recordCommand()
	start := time.Now()
	body, err := d.corr.sendAndReceive(uint16(CmdGetDeviceInfo), seq, nil, d.commandTimeout)
	if err != nil {
		d.stats.recordError(KindOf(err))
		return DeviceInfo{}, err
	}
	d.stats.recordResponse(len(body), time.Since(start))
	info, err := decodeDeviceInfo(body)
	if err != nil {
		return DeviceInfo{}, err
	}
	if d.lastDescriptor.Model != "" {
		info.Model = d.lastDescriptor.Model
	}
	return info, nil
}

// GetStorageInfo returns capacity/usage, or the fallback placeholder
// while a file-list stream owns the bus (spec.md §4.8).
func (d *Device) GetStorageInfo(ctx context.Context) (StorageInfo, error) {
	if d.listStreamActive.Load() {
		return StorageInfo{TotalBytes: fallbackCapacityBytes, Health: "unknown"}, nil
	}

	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return StorageInfo{}, newErr(ErrKindTransportIO, nil, "not connected")
	}
	d.mu.Unlock()

	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	seq := d.nextSequence()
	d.stats.recordCommand()
	start := time.Now()
	body, err := d.corr.sendAndReceive(uint16(CmdGetStorageInfo), seq, nil, d.commandTimeout)
	if err != nil {
		d.stats.recordError(KindOf(err))
		return StorageInfo{}, err
	}
	d.stats.recordResponse(len(body), time.Since(start))
	info, _, err := decodeStorageInfo(body)
	if err != nil {
		return StorageInfo{}, err
	}
	info.Health = deriveHealth(d.stats.Snapshot(), true)
	return info, nil
}

// GetRecordings runs the chunked file-list stream to completion and
// returns the parsed records. Only one list stream may be active at a
// time; a concurrent call returns ErrKindOperationInProgress immediately.
func (d *Device) GetRecordings(ctx context.Context) ([]FileRecord, error) {
	if !d.listStreamActive.CompareAndSwap(false, true) {
		return nil, newErr(ErrKindOperationInProgress, nil, "a file-list stream is already active")
	}
	defer d.listStreamActive.Store(false)

	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return nil, newErr(ErrKindTransportIO, nil, "not connected")
	}
	timeout := d.streamTimeout
	d.mu.Unlock()

	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	seq := d.nextSequence()
	ch := d.corr.registerStream()
	defer d.corr.unregisterStream()

	pkt := encodeFrame(uint16(CmdGetFileList), seq, nil)
	d.stats.recordCommand()
	if err := d.transport.write(pkt, timeout); err != nil {
		return nil, err
	}

	parser := newFileListParser()
	deadline := time.Now().Add(timeout)

	for {
		if parser.expectedReached() {
			break
		}
		if time.Now().After(deadline) {
			break // completion timeout is an accepted terminator, §4.4
		}
		readTimeout := time.Until(deadline)
		if readTimeout > 200*time.Millisecond {
			readTimeout = 200 * time.Millisecond
		}
		if err := d.corr.pump(d.transport.maxPacketSize(), readTimeout); err != nil {
			return nil, err
		}
		select {
		case frame, ok := <-ch:
			if !ok {
				break
			}
			if CommandID(frame.CommandID) != CmdGetFileList {
				return nil, newErr(ErrKindUnexpectedResponse, nil, "unexpected command id %d during file-list stream", frame.CommandID)
			}
			if len(frame.Body) == 0 {
				goto done // empty-body terminator, §4.4
			}
			if err := parser.feed(frame.Body); err != nil {
				return nil, err
			}
		default:
		}
	}
done:
	return parser.finish()
}

// GetCurrentRecordingFilename returns the name of the file currently
// being recorded, or "" if none. It returns "" immediately, without
// touching the bus, while a file-list stream is active (spec.md §4.8,
// §8 scenario 6), and swallows transport errors to avoid breaking
// polling loops.
func (d *Device) GetCurrentRecordingFilename(ctx context.Context) (string, error) {
	if d.listStreamActive.Load() {
		return "", nil
	}

	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return "", nil
	}
	d.mu.Unlock()

	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	seq := d.nextSequence()
	d.stats.recordCommand()
	body, err := d.corr.sendAndReceive(uint16(CmdGetCurrentRecording), seq, nil, d.commandTimeout)
	if err != nil {
		d.stats.recordError(KindOf(err))
		return "", nil
	}
	d.stats.recordResponse(len(body), 0)
	return decodeCurrentRecording(body), nil
}

// Download streams name's bytes to sink, reporting progress and honoring
// cancel between chunks (spec.md §4.5). sizeHint is used as the declared
// length; no size probe is issued. With sizeHint 0, every progress event
// reports 1 and the first empty chunk ends the transfer successfully.
func (d *Device) Download(ctx context.Context, name string, sink io.Writer, progress ProgressFunc, cancel *CancelToken, sizeHint uint32) error {
	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return newErr(ErrKindTransportIO, nil, "not connected")
	}
	timeout := d.streamTimeout
	d.mu.Unlock()

	if cancel == nil {
		cancel = NewCancelToken()
	}
	opID := d.nextOpID(OpDownload)

	d.ioMu.Lock()
	_, status, err := d.runFileStream(streamFileParams{
		name:        name,
		declaredLen: sizeHint,
		sink:        sink,
		progress:    progress,
		opID:        opID,
		cancel:      cancel,
		timeout:     timeout,
	})
	d.ioMu.Unlock()
	if err != nil {
		return withContext(err, opID, name)
	}
	if status == StreamCancelled {
		return withContext(newErr(ErrKindCancelled, nil, "download of %q cancelled", name), opID, name)
	}
	if status != StreamOK {
		return withContext(newErr(ErrKindTransportIO, nil, "download of %q ended with status %s", name, status), opID, name)
	}
	return nil
}

// Delete removes name from the device. Rejected with
// ErrKindOperationInProgress while a file-list stream is active (spec.md
// §4.6), without touching the bus.
func (d *Device) Delete(ctx context.Context, name string, progress ProgressFunc) error {
	if d.listStreamActive.Load() {
		return newErr(ErrKindOperationInProgress, nil, "a file-list stream is active")
	}

	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return newErr(ErrKindTransportIO, nil, "not connected")
	}
	d.mu.Unlock()

	opID := d.nextOpID(OpDelete)
	emitProgress(progress, opID, OpDelete, StatusInProgress, 0, nil)

	d.ioMu.Lock()
	seq := d.nextSequence()
	d.stats.recordCommand()
	body, err := d.corr.sendAndReceive(uint16(CmdDeleteFile), seq, encodeASCIIName(name), d.commandTimeout)
	d.ioMu.Unlock()
	if err != nil {
		d.stats.recordError(KindOf(err))
		emitProgress(progress, opID, OpDelete, StatusFailed, 0, asJensenErr(err))
		return withContext(err, opID, name)
	}

	result, err := decodeDeleteResult(body)
	if err != nil {
		emitProgress(progress, opID, OpDelete, StatusFailed, 0, asJensenErr(err))
		return withContext(err, opID, name)
	}
	switch result {
	case deleteOK:
		emitProgress(progress, opID, OpDelete, StatusCompleted, 1, nil)
		return nil
	case deleteNotExists:
		e := newErr(ErrKindNotFound, nil, "file %q not found on device", name)
		emitProgress(progress, opID, OpDelete, StatusFailed, 0, asJensenErr(e))
		return withContext(e, opID, name)
	default:
		e := newErr(ErrKindProtocolDeviceError, nil, "device refused delete of %q", name)
		emitProgress(progress, opID, OpDelete, StatusFailed, 0, asJensenErr(e))
		return withContext(e, opID, name)
	}
}

// FormatStorage wipes the device's storage. The wire exchange is a single
// response, but progress fires once at start and once at end, per spec.md
// §4.6 ("treated as long-running from the caller's perspective").
func (d *Device) FormatStorage(ctx context.Context, progress ProgressFunc) error {
	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return newErr(ErrKindTransportIO, nil, "not connected")
	}
	d.mu.Unlock()

	opID := d.nextOpID(OpFormat)
	emitProgress(progress, opID, OpFormat, StatusInProgress, 0, nil)

	d.ioMu.Lock()
	seq := d.nextSequence()
	d.stats.recordCommand()
	body, err := d.corr.sendAndReceive(uint16(CmdFormatStorage), seq, nil, d.commandTimeout)
	d.ioMu.Unlock()
	if err != nil {
		d.stats.recordError(KindOf(err))
		emitProgress(progress, opID, OpFormat, StatusFailed, 0, asJensenErr(err))
		return withContext(err, opID, "")
	}

	ok, err := decodeFormatResult(body)
	if err != nil {
		emitProgress(progress, opID, OpFormat, StatusFailed, 0, asJensenErr(err))
		return withContext(err, opID, "")
	}
	if !ok {
		e := newErr(ErrKindProtocolDeviceError, nil, "device refused format")
		emitProgress(progress, opID, OpFormat, StatusFailed, 0, asJensenErr(e))
		return withContext(e, opID, "")
	}
	emitProgress(progress, opID, OpFormat, StatusCompleted, 1, nil)
	return nil
}

// SyncTime sets the device clock. when defaults to host "now" if nil.
func (d *Device) SyncTime(ctx context.Context, when *time.Time) error {
	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return newErr(ErrKindTransportIO, nil, "not connected")
	}
	d.mu.Unlock()

	t := time.Now()
	if when != nil {
		t = *when
	}

	d.ioMu.Lock()
	seq := d.nextSequence()
	d.stats.recordCommand()
	body, err := d.corr.sendAndReceive(uint16(CmdSetDeviceTime), seq, encodeSetDeviceTime(t), d.commandTimeout)
	d.ioMu.Unlock()
	if err != nil {
		d.stats.recordError(KindOf(err))
		return err
	}
	ok, err := decodeSetDeviceTimeResult(body)
	if err != nil {
		return err
	}
	if !ok {
		return newErr(ErrKindProtocolDeviceError, nil, "device refused time sync")
	}
	return nil
}

// GetHealth returns the derived health tag alongside the stats it was
// computed from (spec.md §4.7).
func (d *Device) GetHealth() DeviceHealth {
	snap := d.stats.Snapshot()
	return DeviceHealth{
		Status: deriveHealth(snap, d.IsConnected()),
		Stats:  snap,
	}
}

// GetStats returns a snapshot of connection statistics.
func (d *Device) GetStats() ConnectionStatsSnapshot {
	return d.stats.Snapshot()
}

// GetCapabilities returns the capability tags derived from the connected
// model, or nil if not connected.
func (d *Device) GetCapabilities() []Capability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cachedCapabilities
}

func emitProgress(progress ProgressFunc, opID string, kind OperationKind, status OperationStatus, frac float64, err *Error) {
	if progress == nil {
		return
	}
	progress(ProgressEvent{
		OperationID: opID,
		Kind:        kind,
		Status:      status,
		Progress:    frac,
		Err:         err,
	})
}

func asJensenErr(err error) *Error {
	if je, ok := err.(*Error); ok {
		return je
	}
	return newErr(ErrKindUnknown, err, "%v", err)
}

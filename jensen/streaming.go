package jensen

import (
	"io"
	"time"
)

// StreamStatus is the terminal outcome of a streaming transfer, per
// spec.md §4.5.
type StreamStatus int

const (
	StreamOK StreamStatus = iota
	StreamCancelled
	StreamCommsError
	StreamDisconnected
	StreamFileIO
	StreamTimeout
	StreamUnexpectedResponse
	StreamException
)

func (s StreamStatus) String() string {
	switch s {
	case StreamOK:
		return "ok"
	case StreamCancelled:
		return "cancelled"
	case StreamCommsError:
		return "comms_error"
	case StreamDisconnected:
		return "disconnected"
	case StreamFileIO:
		return "file_io"
	case StreamTimeout:
		return "timeout"
	case StreamUnexpectedResponse:
		return "unexpected_response"
	default:
		return "exception"
	}
}

// emptyChunkRetryLimit bounds how many times an empty body received
// before the declared length is reached is tolerated as device pacing
// jitter rather than a premature terminator (spec.md §4.5 step 2).
const emptyChunkRetryLimit = 5

const emptyChunkRetryDelay = 20 * time.Millisecond

// streamFileParams bundles the inputs to runFileStream, mirroring
// spec.md §4.5's input list.
type streamFileParams struct {
	name        string
	declaredLen uint32
	sink        io.Writer
	progress    ProgressFunc
	opID        string
	cancel      *CancelToken
	timeout     time.Duration
}

// runFileStream drives one StreamFile transfer to completion, implementing
// every step and terminal status of spec.md §4.5, including the
// finally-cleanup flush on any non-ok outcome. Exactly one terminal
// progress event is emitted: completed on success, cancelled or failed
// (with the error, if any) otherwise.
func (d *Device) runFileStream(p streamFileParams) (total uint64, status StreamStatus, streamErr error) {
	seq := d.nextSequence()
	body := encodeASCIIName(p.name)

	ch := d.corr.registerStream()
	cleanupNeeded := true
	var lastProgress float64
	defer func() {
		d.corr.unregisterStream()
		if cleanupNeeded {
			d.transport.flushIn(2 * time.Second)
			if p.progress != nil {
				ev := ProgressEvent{OperationID: p.opID, Kind: OpDownload, Status: StatusFailed, Progress: lastProgress, BytesProcessed: total}
				if status == StreamCancelled {
					ev.Status = StatusCancelled
				}
				if streamErr != nil {
					ev.Err = asJensenErr(streamErr)
				}
				p.progress(ev)
			}
		}
	}()

	pkt := encodeFrame(uint16(CmdStreamFile), seq, body)
	d.stats.recordCommand()
	if err := d.transport.write(pkt, p.timeout); err != nil {
		return 0, StreamCommsError, err
	}

	if p.cancel.Cancelled() {
		return 0, StreamCancelled, nil
	}

	var received uint64
	declared := uint64(p.declaredLen)
	deadline := time.Now().Add(p.timeout)
	emptyRetries := 0

	for {
		if p.cancel.Cancelled() {
			return received, StreamCancelled, nil
		}
		if time.Now().After(deadline) {
			return received, StreamTimeout, newErr(ErrKindTransportTimeout, nil, "stream %q timed out after %v", p.name, p.timeout)
		}

		readTimeout := time.Until(deadline)
		if readTimeout > 200*time.Millisecond {
			readTimeout = 200 * time.Millisecond
		}
		if err := d.corr.pump(d.transport.maxPacketSize(), readTimeout); err != nil {
			return received, StreamCommsError, err
		}

		select {
		case frame, ok := <-ch:
			if !ok {
				return received, StreamDisconnected, newErr(ErrKindTransportIO, nil, "stream channel closed unexpectedly")
			}
			if CommandID(frame.CommandID) != CmdStreamFile {
				return received, StreamUnexpectedResponse, newErr(ErrKindUnexpectedResponse, nil, "unexpected command id %d during stream", frame.CommandID)
			}
			if len(frame.Body) == 0 {
				if received >= declared {
					cleanupNeeded = false
					d.emitTerminal(p, received, StatusCompleted, nil)
					return received, StreamOK, nil
				}
				emptyRetries++
				if emptyRetries > emptyChunkRetryLimit {
					return received, StreamTimeout, newErr(ErrKindTransportTimeout, nil, "too many empty chunks before declared length reached")
				}
				time.Sleep(emptyChunkRetryDelay)
				continue
			}
			emptyRetries = 0
			n, err := p.sink.Write(frame.Body)
			if err != nil {
				return received, StreamFileIO, newErr(ErrKindFileIO, err, "writing stream chunk to sink")
			}
			received += uint64(n)
			d.stats.recordResponse(n, 0)
			progress := 1.0
			if declared > 0 {
				progress = float64(received) / float64(declared)
				if progress > 1 {
					progress = 1
				}
			}
			lastProgress = progress
			if p.progress != nil {
				p.progress(ProgressEvent{
					OperationID:    p.opID,
					Kind:           OpDownload,
					Status:         StatusInProgress,
					Progress:       progress,
					BytesProcessed: received,
				})
			}
		default:
			// pump drained the transport but nothing new arrived yet;
			// loop back around to check cancellation/deadline.
		}
	}
}

func (d *Device) emitTerminal(p streamFileParams, bytesProcessed uint64, status OperationStatus, err *Error) {
	if p.progress == nil {
		return
	}
	p.progress(ProgressEvent{
		OperationID:    p.opID,
		Kind:           OpDownload,
		Status:         status,
		Progress:       1,
		BytesProcessed: bytesProcessed,
		Err:            err,
	})
}

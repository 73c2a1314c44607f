package jensen

import (
	"context"
	"time"
)

// GetFileCount returns the number of files the device reports, via the
// dedicated GetFileCount command (spec.md §4.3). An empty response body
// means zero.
func (d *Device) GetFileCount(ctx context.Context) (uint32, error) {
	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return 0, newErr(ErrKindTransportIO, nil, "not connected")
	}
	timeout := d.commandTimeout
	d.mu.Unlock()

	d.ioMu.Lock()
	seq := d.nextSequence()
	d.stats.recordCommand()
	start := time.Now()
	body, err := d.corr.sendAndReceive(uint16(CmdGetFileCount), seq, nil, timeout)
	d.ioMu.Unlock()
	if err != nil {
		d.stats.recordError(KindOf(err))
		return 0, err
	}
	d.stats.recordResponse(len(body), time.Since(start))
	return decodeFileCount(body)
}

// GetFileBlock fetches a bounded byte range of name via the single-response
// GetFileBlock command (spec.md §4.3), distinct from the chunked StreamFile
// transfer used by Download.
func (d *Device) GetFileBlock(ctx context.Context, name string, offset, length uint32) ([]byte, error) {
	d.mu.Lock()
	if d.transport == nil {
		d.mu.Unlock()
		return nil, newErr(ErrKindTransportIO, nil, "not connected")
	}
	timeout := d.commandTimeout
	d.mu.Unlock()

	opID := d.nextOpID(OpGetFileBlock)

	d.ioMu.Lock()
	seq := d.nextSequence()
	d.stats.recordCommand()
	start := time.Now()
	body, err := d.corr.sendAndReceive(uint16(CmdGetFileBlock), seq, encodeGetFileBlock(offset, length, name), timeout)
	d.ioMu.Unlock()
	if err != nil {
		d.stats.recordError(KindOf(err))
		return nil, withContext(err, opID, name)
	}
	d.stats.recordResponse(len(body), time.Since(start))
	if uint32(len(body)) > length {
		body = body[:length]
	}
	return body, nil
}

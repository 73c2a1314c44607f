package jensen

import (
	"fmt"
	"sync"
	"time"
)

// fakeTransport is the in-memory device simulator referenced by spec.md
// §8: it implements the transport interface so the protocol stack can be
// exercised without real USB hardware. Responses are either pre-seeded
// via queue, or produced reactively by an onWrite handler keyed off the
// frame the caller just sent.
type fakeTransport struct {
	mu sync.Mutex

	written    []Frame
	respChunks [][]byte
	onWrite    func(f Frame) [][]byte

	closed        bool
	writeErr      error
	packetSize    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{packetSize: 64}
}

func (t *fakeTransport) write(b []byte, timeout time.Duration) error {
	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	var dec decoder
	dec.feed(b)
	f, ok, _ := dec.next()
	if !ok {
		return fmt.Errorf("fakeTransport: wrote bytes did not decode to a full frame")
	}

	t.mu.Lock()
	t.written = append(t.written, f)
	handler := t.onWrite
	t.mu.Unlock()

	if handler != nil {
		chunks := handler(f)
		t.mu.Lock()
		t.respChunks = append(t.respChunks, chunks...)
		t.mu.Unlock()
	}
	return nil
}

func (t *fakeTransport) read(maxLen int, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.respChunks) == 0 {
		return nil, nil
	}
	chunk := t.respChunks[0]
	t.respChunks = t.respChunks[1:]
	return chunk, nil
}

func (t *fakeTransport) flushIn(deadline time.Duration) {}

func (t *fakeTransport) maxPacketSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packetSize
}

func (t *fakeTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) queueResponse(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.respChunks = append(t.respChunks, b)
}

func (t *fakeTransport) lastWritten() (Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.written) == 0 {
		return Frame{}, false
	}
	return t.written[len(t.written)-1], true
}

// newTestDevice wires a Device directly to ft, bypassing USB discovery and
// openTransport entirely, per spec.md §8's simulator-backed tests.
func newTestDevice(ft *fakeTransport) *Device {
	d := NewDevice()
	d.transport = ft
	d.corr = newCorrelator(ft, d.stats, false)
	d.lastDescriptor = DeviceDescriptor{Model: "H1"}
	d.cachedCapabilities = capabilitiesForModel("H1")
	d.openFn = func(desc DeviceDescriptor, forceReset bool) (transport, error) {
		return ft, nil
	}
	return d
}

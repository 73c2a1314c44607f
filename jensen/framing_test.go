package jensen

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	want := Frame{CommandID: 7, Sequence: 42, Body: []byte("hello")}
	raw := encodeFrame(want.CommandID, want.Sequence, want.Body)

	var dec decoder
	dec.feed(raw)
	got, ok, desynced := dec.next()
	if !ok {
		t.Fatalf("expected a decoded frame")
	}
	if desynced {
		t.Fatalf("did not expect desync on a clean frame")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoderResyncOnGarbage(t *testing.T) {
	want := Frame{CommandID: 3, Sequence: 1, Body: []byte("ok")}
	garbage := []byte{0x00, 0xAB, 0xCD, 0x12} // junk, then a stray 0x12 that isn't a real marker
	raw := append(garbage, encodeFrame(want.CommandID, want.Sequence, want.Body)...)

	var dec decoder
	dec.feed(raw)
	got, ok, desynced := dec.next()
	if !ok {
		t.Fatalf("expected decoder to recover a frame after discarding garbage")
	}
	if !desynced {
		t.Errorf("expected desynced=true when garbage preceded the marker")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recovered frame mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoderNeedsMoreData(t *testing.T) {
	raw := encodeFrame(1, 1, []byte("partial"))
	var dec decoder
	dec.feed(raw[:headerLen-1])
	_, ok, _ := dec.next()
	if ok {
		t.Fatalf("expected ok=false with a truncated header")
	}
}

func TestCorrelatorSendAndReceive(t *testing.T) {
	ft := newFakeTransport()
	stats := newConnectionStats()
	corr := newCorrelator(ft, stats, false)

	ft.onWrite = func(f Frame) [][]byte {
		return [][]byte{encodeFrame(f.CommandID, f.Sequence, []byte("pong"))}
	}

	body, err := corr.sendAndReceive(uint16(CmdGetDeviceInfo), 9, nil, time.Second)
	if err != nil {
		t.Fatalf("sendAndReceive: %v", err)
	}
	if string(body) != "pong" {
		t.Errorf("expected body %q, got %q", "pong", body)
	}
}

func TestCorrelatorSendAndReceiveTimeout(t *testing.T) {
	ft := newFakeTransport()
	stats := newConnectionStats()
	corr := newCorrelator(ft, stats, false)

	_, err := corr.sendAndReceive(uint16(CmdGetDeviceInfo), 1, nil, 30*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if KindOf(err) != ErrKindTransportTimeout {
		t.Errorf("expected ErrKindTransportTimeout, got %v", KindOf(err))
	}
}

func TestCorrelatorStreamDispatch(t *testing.T) {
	ft := newFakeTransport()
	stats := newConnectionStats()
	corr := newCorrelator(ft, stats, false)

	ch := corr.registerStream()
	ft.queueResponse(encodeFrame(uint16(CmdStreamFile), 5, []byte("chunk")))
	if err := corr.pump(64, 50*time.Millisecond); err != nil {
		t.Fatalf("pump: %v", err)
	}

	select {
	case f := <-ch:
		if string(f.Body) != "chunk" {
			t.Errorf("expected chunk body, got %q", f.Body)
		}
	default:
		t.Fatal("expected a frame to be waiting on the stream channel")
	}
	corr.unregisterStream()
}

func TestCorrelatorUnexpectedFrameRecordsError(t *testing.T) {
	ft := newFakeTransport()
	stats := newConnectionStats()
	corr := newCorrelator(ft, stats, false)

	ft.queueResponse(encodeFrame(uint16(CmdGetDeviceInfo), 99, []byte("nobody wants this")))
	if err := corr.pump(64, 50*time.Millisecond); err != nil {
		t.Fatalf("pump: %v", err)
	}

	snap := stats.Snapshot()
	if snap.ErrorCounts[ErrKindUnexpectedResponse] != 1 {
		t.Errorf("expected 1 unexpected_response error, got %d", snap.ErrorCounts[ErrKindUnexpectedResponse])
	}
}

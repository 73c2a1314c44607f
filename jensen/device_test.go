package jensen

import (
	"context"
	"testing"
	"time"
)

func TestDeviceGetDeviceInfoCaches(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)

	calls := 0
	ft.onWrite = func(f Frame) [][]byte {
		calls++
		return [][]byte{encodeFrame(f.CommandID, f.Sequence, append([]byte("SN123\x00"), 0, 0, 0, 7))}
	}

	info, err := d.GetDeviceInfo(context.Background())
	if err != nil {
		t.Fatalf("GetDeviceInfo: %v", err)
	}
	if info.Serial != "SN123" || info.FirmwareVersion != 7 {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := d.GetDeviceInfo(context.Background()); err != nil {
		t.Fatalf("second GetDeviceInfo: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the device to only be queried once (cached after), got %d calls", calls)
	}
}

func TestDeviceGetRecordingsRejectedWhileListStreamActive(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)
	d.listStreamActive.Store(true)

	_, err := d.GetRecordings(context.Background())
	if err == nil {
		t.Fatal("expected operation_in_progress error")
	}
	if KindOf(err) != ErrKindOperationInProgress {
		t.Errorf("expected ErrKindOperationInProgress, got %v", KindOf(err))
	}
}

func TestDeviceGetRecordingsEndToEnd(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)

	ft.onWrite = func(f Frame) [][]byte {
		if CommandID(f.CommandID) != CmdGetFileList {
			return nil
		}
		raw := append(encodeListHeader(1), encodeListRecord(1, "rec1.wav", 3200, 0x11)...)
		return [][]byte{
			encodeFrame(uint16(CmdGetFileList), f.Sequence, raw),
			encodeFrame(uint16(CmdGetFileList), f.Sequence, nil),
		}
	}

	records, err := d.GetRecordings(context.Background())
	if err != nil {
		t.Fatalf("GetRecordings: %v", err)
	}
	if len(records) != 1 || records[0].Name != "rec1.wav" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if d.listStreamActive.Load() {
		t.Error("expected listStreamActive to be cleared after completion")
	}
}

func TestDeviceDeleteRejectedWhileListStreamActive(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)
	d.listStreamActive.Store(true)

	err := d.Delete(context.Background(), "rec.wav", nil)
	if err == nil {
		t.Fatal("expected operation_in_progress error")
	}
	if KindOf(err) != ErrKindOperationInProgress {
		t.Errorf("expected ErrKindOperationInProgress, got %v", KindOf(err))
	}
}

func TestDeviceGetCurrentRecordingSuppressedWhileListStreamActive(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)
	d.listStreamActive.Store(true)

	name, err := d.GetCurrentRecordingFilename(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "" {
		t.Errorf("expected empty name while list stream is active, got %q", name)
	}
}

func TestDeviceGetStorageInfoFallbackWhileListStreamActive(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)
	d.listStreamActive.Store(true)

	info, err := d.GetStorageInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.TotalBytes != fallbackCapacityBytes || info.Health != "unknown" {
		t.Errorf("expected fallback storage info, got %+v", info)
	}
}

func TestDeviceDeleteResultCodes(t *testing.T) {
	cases := []struct {
		name     string
		result   byte
		wantKind ErrorKind
		wantNil  bool
	}{
		{"ok", byte(deleteOK), 0, true},
		{"not found", byte(deleteNotExists), ErrKindNotFound, false},
		{"device failed", byte(deleteFailed), ErrKindProtocolDeviceError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ft := newFakeTransport()
			d := newTestDevice(ft)
			ft.onWrite = func(f Frame) [][]byte {
				return [][]byte{encodeFrame(f.CommandID, f.Sequence, []byte{tc.result})}
			}
			err := d.Delete(context.Background(), "rec.wav", nil)
			if tc.wantNil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if KindOf(err) != tc.wantKind {
				t.Errorf("expected kind %v, got %v", tc.wantKind, KindOf(err))
			}
		})
	}
}

func TestDeviceHealthDerivation(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)

	for i := 0; i < 10; i++ {
		d.stats.recordCommand()
		d.stats.recordResponse(0, 0)
	}
	health := d.GetHealth()
	if health.Status != "healthy" {
		t.Fatalf("expected healthy with a zero error rate, got %s", health.Status)
	}

	for i := 0; i < 5; i++ {
		d.stats.recordCommand() // sent without a matching response, raising the error rate
	}
	health = d.GetHealth()
	if health.Status == "healthy" {
		t.Fatalf("expected a degraded status once commands outpace responses, got %s", health.Status)
	}
}

func TestWatchCurrentRecordingInvokesCallbackOnChange(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDevice(ft)

	names := []string{"a.wav", "a.wav", "b.wav"}
	idx := 0
	ft.onWrite = func(f Frame) [][]byte {
		n := names[idx]
		if idx < len(names)-1 {
			idx++
		}
		return [][]byte{encodeFrame(f.CommandID, f.Sequence, []byte(n))}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	var seen []string
	d.WatchCurrentRecording(ctx, 20*time.Millisecond, func(name string) {
		seen = append(seen, name)
	})

	if len(seen) < 2 {
		t.Fatalf("expected at least 2 callback invocations (first value + change), got %v", seen)
	}
	if seen[0] != "a.wav" {
		t.Errorf("expected first callback value %q, got %q", "a.wav", seen[0])
	}
	if seen[len(seen)-1] != "b.wav" {
		t.Errorf("expected callback to eventually report the changed value, got %v", seen)
	}
}

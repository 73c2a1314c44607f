package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.VendorID != Defaults().VendorID {
		t.Errorf("expected default VendorID, got %#x", c.VendorID)
	}
	if c.MaxOpenDevices != 4 {
		t.Errorf("expected default MaxOpenDevices=4, got %d", c.MaxOpenDevices)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hidockctl.yml")
	contents := `
commandtimeoutms: 9000
enableverboselogging: true
statusserver:
  enabled: true
  addr: ":9999"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CommandTimeoutMS != 9000 {
		t.Errorf("expected overlaid CommandTimeoutMS=9000, got %d", c.CommandTimeoutMS)
	}
	if !c.EnableVerboseLogging {
		t.Error("expected EnableVerboseLogging to be overlaid true")
	}
	if !c.StatusServer.Enabled || c.StatusServer.Addr != ":9999" {
		t.Errorf("expected overlaid StatusServer, got %+v", c.StatusServer)
	}
	// fields not present in the file should retain their defaults
	if c.AudioChunk.MaxWorkers != Defaults().AudioChunk.MaxWorkers {
		t.Errorf("expected un-overlaid AudioChunk.MaxWorkers to retain default, got %d", c.AudioChunk.MaxWorkers)
	}
}

func TestWriteDefaultThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hidockctl.yml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Defaults(), c); diff != "" {
		t.Errorf("round-tripped config differs from Defaults() (-want +got):\n%s", diff)
	}
}

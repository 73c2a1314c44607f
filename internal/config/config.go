// Package config loads hidockctl's layered configuration, following the
// cmd/multiserver and cmd/andorhttp2 setupconfig/mkconf/printconf idiom:
// typed defaults, then an optional YAML file overlaid on top, tolerating
// a missing file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)

// DefaultFileName is the config file looked for in the working
// directory, matching the teacher's ConfigFileName convention.
const DefaultFileName = "hidockctl.yml"

// Config holds every tunable of the CLI and the jensen/devicepool layers
// beneath it.
type Config struct {
	// VendorID and ProductIDs override jensen.VendorID and the built-in
	// known-PID set, for field units running non-stock firmware IDs.
	VendorID  uint16   `yaml:"vendorid" koanf:"vendorid"`
	ProductIDs []uint16 `yaml:"productids" koanf:"productids"`

	// CommandTimeoutMS and StreamTimeoutMS override jensen.Device's
	// default timeouts (spec.md §5).
	CommandTimeoutMS int `yaml:"commandtimeoutms" koanf:"commandtimeoutms"`
	StreamTimeoutMS  int `yaml:"streamtimeoutms" koanf:"streamtimeoutms"`

	// MaxOpenDevices bounds internal/devicepool.Pool's concurrently-open
	// façade count.
	MaxOpenDevices int `yaml:"maxopendevices" koanf:"maxopendevices"`
	// IdlePoolTimeoutMS is how long a returned, unleased device sits
	// open before the pool disconnects it.
	IdlePoolTimeoutMS int `yaml:"idlepooltimeoutms" koanf:"idlepooltimeoutms"`

	// EnableVerboseLogging turns on general operational logging;
	// EnableProtocolLogging additionally logs every frame sent/received.
	// The deprecated suppress_*_output flags from original_source are
	// not read by this port (spec.md Design Notes, §9).
	EnableVerboseLogging  bool `yaml:"enableverboselogging" koanf:"enableverboselogging"`
	EnableProtocolLogging bool `yaml:"enableprotocollogging" koanf:"enableprotocollogging"`

	// StatusServer configures the optional read-only HTTP introspection
	// surface. hidockctl's serve command reads Addr; Enabled is not read,
	// and serve starts the server regardless of it.
	StatusServer StatusServerConfig `yaml:"statusserver" koanf:"statusserver"`

	// AudioChunk holds the transcription-upload chunker's settings
	// (spec.md §4.9). hidockctl's chunk command reads OverlapMS and
	// MaxWorkers; MaxBytes is not read, since the command takes the byte
	// cap as an argument.
	AudioChunk AudioChunkConfig `yaml:"audiochunk" koanf:"audiochunk"`
}

// StatusServerConfig configures internal/statusserver.
type StatusServerConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Addr    string `yaml:"addr" koanf:"addr"`
}

// AudioChunkConfig configures internal/audiochunk.Planner defaults.
type AudioChunkConfig struct {
	MaxBytes   int64 `yaml:"maxbytes" koanf:"maxbytes"`
	OverlapMS  int64 `yaml:"overlapms" koanf:"overlapms"`
	MaxWorkers int   `yaml:"maxworkers" koanf:"maxworkers"`
}

// Defaults returns the configuration used before any file is loaded,
// matching the teacher's inline struct literal passed to
// structs.Provider in setupconfig.
func Defaults() Config {
	return Config{
		VendorID:          0x10D6,
		CommandTimeoutMS:  5_000,
		StreamTimeoutMS:   180_000,
		MaxOpenDevices:    4,
		IdlePoolTimeoutMS: 5 * 60_000,
		StatusServer: StatusServerConfig{
			Enabled: false,
			Addr:    ":8420",
		},
		AudioChunk: AudioChunkConfig{
			MaxBytes:   25 * 1024 * 1024,
			OverlapMS:  500,
			MaxWorkers: 4,
		},
	}
}

// Load layers path's YAML contents over Defaults(), the same
// structs.Provider + file.Provider(yaml.Parser()) sequence as
// cmd/multiserver.setupconfig, tolerating a missing file.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return c, nil
}

// WriteDefault writes Defaults() to path as YAML, matching the
// teacher's mkconf command.
func WriteDefault(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(Defaults()); err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}
	return nil
}

// Dump writes c as YAML to w, matching the teacher's printconf command.
func (c Config) Dump(w *os.File) error {
	if err := yml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

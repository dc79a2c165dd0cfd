// Package config loads a bus.Config from TOML, the teacher's declared
// configuration format (katzenpost's go.mod carries BurntSushi/toml
// though the retrieved client2 subset doesn't exercise it directly).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ibapi-go/tws/bus"
)

// File is the on-disk shape of a TOML config file (spec.md §6: dial
// endpoint, client id, version range, buffer sizes, timeouts,
// recording directory override).
type File struct {
	Endpoint string `toml:"endpoint"`
	ClientID int32  `toml:"client_id"`

	VersionMin int `toml:"version_min"`
	VersionMax int `toml:"version_max"`

	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
	DeliveryTimeoutSeconds  int `toml:"delivery_timeout_seconds"`
	ChannelCapacity         int `toml:"channel_capacity"`
	MaxFrameSize            int `toml:"max_frame_size"`
	MaxReconnectAttempts    int `toml:"max_reconnect_attempts"`
	MaxBackoffSeconds       int `toml:"max_backoff_seconds"`

	RecordingDir         string `toml:"recording_dir"`
	OptionalCapabilities string `toml:"optional_capabilities"`
}

// Load reads and parses a TOML file at path into a bus.Config. Zero
// fields are left zero for the constructors (tws.New, bus.New) to
// default. IBAPI_RECORDING_DIR, when set, overrides File.RecordingDir
// (spec.md §6), matching the override client2's on-disk config allows
// via environment for secrets-adjacent paths.
func Load(path string) (bus.Config, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return bus.Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return f.toBusConfig(), nil
}

// LoadBytes parses raw TOML content, for callers that already have the
// file in memory (tests, embedded configs).
func LoadBytes(data []byte) (bus.Config, error) {
	var f File
	if _, err := toml.Decode(string(data), &f); err != nil {
		return bus.Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return f.toBusConfig(), nil
}

func (f File) toBusConfig() bus.Config {
	recordingDir := f.RecordingDir
	if env := os.Getenv("IBAPI_RECORDING_DIR"); env != "" {
		recordingDir = env
	}
	return bus.Config{
		Endpoint:             f.Endpoint,
		ClientID:             f.ClientID,
		VersionMin:           f.VersionMin,
		VersionMax:           f.VersionMax,
		HandshakeTimeout:     time.Duration(f.HandshakeTimeoutSeconds) * time.Second,
		DeliveryTimeout:      time.Duration(f.DeliveryTimeoutSeconds) * time.Second,
		ChannelCapacity:      f.ChannelCapacity,
		MaxFrameSize:         f.MaxFrameSize,
		MaxReconnectAttempts: f.MaxReconnectAttempts,
		MaxBackoff:           time.Duration(f.MaxBackoffSeconds) * time.Second,
		RecordingDir:         recordingDir,
		OptionalCapabilities: f.OptionalCapabilities,
	}
}

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the mutemed daemon.
//
// The config file is the primary configuration surface; flags exist for small
// overrides. Defaults and validation are centralized here so the rest of the
// code can assume a well-formed config.
//
// TOML is the native format (mutemed.toml); YAML is accepted for files with a
// .yaml/.yml extension. Unknown keys are rejected in both, which catches
// typos before they silently do nothing.
type Config struct {
	Device  DeviceConfig  `toml:"device" yaml:"device"`
	Button  ButtonConfig  `toml:"button" yaml:"button"`
	Audio   AudioConfig   `toml:"audio" yaml:"audio"`
	LED     LEDConfig     `toml:"led" yaml:"led"`
	Status  StatusConfig  `toml:"status" yaml:"status"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

type DeviceConfig struct {
	VID uint16 `toml:"vid" yaml:"vid"`
	PID uint16 `toml:"pid" yaml:"pid"`

	// Path pins an explicit HID path and skips discovery.
	Path string `toml:"path" yaml:"path"`

	ReadTimeoutMS    int    `toml:"read_timeout_ms" yaml:"read_timeout_ms"`
	ReportFormat     string `toml:"report_format" yaml:"report_format"`
	UseFeatureReport bool   `toml:"use_feature_report" yaml:"use_feature_report"`
}

type ButtonConfig struct {
	DebounceMS int `toml:"debounce_ms" yaml:"debounce_ms"`
}

type AudioConfig struct {
	Backend string `toml:"backend" yaml:"backend"`

	// Sink selects the PulseAudio sink by name; empty means server default.
	Sink string `toml:"sink" yaml:"sink"`

	// PollIntervalMS is how often the backend mute state is re-read to pick
	// up external changes. 0 disables polling.
	PollIntervalMS   int `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	CommandTimeoutMS int `toml:"command_timeout_ms" yaml:"command_timeout_ms"`
}

type LEDConfig struct {
	MutedColor   string `toml:"muted_color" yaml:"muted_color"`
	UnmutedColor string `toml:"unmuted_color" yaml:"unmuted_color"`
	Dim          bool   `toml:"dim" yaml:"dim"`
}

type StatusConfig struct {
	// Addr is the host:port of the status WebSocket server; empty disables it.
	Addr string `toml:"addr" yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go and the config init template.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			VID:           defaultVendorID,
			PID:           defaultProductID,
			ReadTimeoutMS: defaultReadTimeoutMS,
			ReportFormat:  string(reportFormatReportID0),
		},
		Button: ButtonConfig{
			DebounceMS: defaultDebounceMS,
		},
		Audio: AudioConfig{
			Backend:          "pulseaudio",
			PollIntervalMS:   defaultPollIntervalMS,
			CommandTimeoutMS: defaultCommandTimeoutMS,
		},
		LED: LEDConfig{
			MutedColor:   "red",
			UnmutedColor: "green",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a config file. The extension picks the
// format: .yaml/.yml decode as YAML, everything else as TOML.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config yaml: %w", err)
		}
		// Only whitespace/comments may follow the document.
		if err := dec.Decode(&struct{}{}); err == nil {
			return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
		}
	default:
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.Strict(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config toml: %w", err)
		}
	}

	return cfg, nil
}

// configSearchPaths returns the locations probed when --config is not given,
// in priority order.
func configSearchPaths() []string {
	paths := []string{"mutemed.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mutemed", "mutemed.toml"))
	}
	paths = append(paths, "/etc/mutemed/mutemed.toml")
	return paths
}

// loadConfig resolves and loads the configuration. An explicitly given path
// that does not exist is a hard error; an empty search result just means
// defaults.
func loadConfig(explicit string) (Config, string, error) {
	if explicit != "" {
		cfg, err := LoadConfigFile(explicit)
		if err != nil {
			return Config{}, "", err
		}
		return cfg, explicit, nil
	}
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cfg, err := LoadConfigFile(p)
		if err != nil {
			return Config{}, "", err
		}
		return cfg, p, nil
	}
	return DefaultConfig(), "", nil
}

// FlagOverrides carries flag values to merge on top of a loaded config.
// A nil pointer means the flag was not set.
type FlagOverrides struct {
	LogLevel   *string
	Sink       *string
	StatusAddr *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is
// ignored; a non-nil pointer is applied even if it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.Sink != nil {
		cfg.Audio.Sink = *o.Sink
	}
	if o.StatusAddr != nil {
		cfg.Status.Addr = *o.StatusAddr
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Device
	if c.Device.ReadTimeoutMS < 50 || c.Device.ReadTimeoutMS > 60000 {
		return errors.New("device.read_timeout_ms must be between 50 and 60000")
	}
	if _, err := parseReportFormat(c.Device.ReportFormat); err != nil {
		return fmt.Errorf("device.report_format: %w", err)
	}

	// Button
	if c.Button.DebounceMS < 0 || c.Button.DebounceMS > 1000 {
		return errors.New("button.debounce_ms must be between 0 and 1000")
	}

	// Audio
	if c.Audio.Backend != "pulseaudio" {
		return fmt.Errorf("audio.backend must be \"pulseaudio\" (got %q)", c.Audio.Backend)
	}
	if c.Audio.PollIntervalMS != 0 && (c.Audio.PollIntervalMS < 100 || c.Audio.PollIntervalMS > 60000) {
		return errors.New("audio.poll_interval_ms must be 0 (disabled) or between 100 and 60000")
	}
	if c.Audio.CommandTimeoutMS <= 0 || c.Audio.CommandTimeoutMS > 60000 {
		return errors.New("audio.command_timeout_ms must be between 1 and 60000")
	}

	// LED
	if _, err := ParseLEDColor(c.LED.MutedColor); err != nil {
		return fmt.Errorf("led.muted_color: %w", err)
	}
	if _, err := ParseLEDColor(c.LED.UnmutedColor); err != nil {
		return fmt.Errorf("led.unmuted_color: %w", err)
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := parseLogFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a commented default configuration file."`
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration as TOML."`
}

// defaultConfigTOML is the commented starter config written by config init.
// It must stay in sync with DefaultConfig; a test checks that it parses back
// to exactly those defaults.
const defaultConfigTOML = `# mutemed configuration.
# Values shown are the defaults; every key is optional.

[device]
# USB ids of the button. MuteMe is 0x20a0, MuteMe Mini is 0x3603.
vid = 0x20a0
pid = 0x42da
# Pin an explicit HID path and skip discovery.
path = ""
# Blocking HID read timeout; also bounds how long shutdown can take.
read_timeout_ms = 250
# LED report layout: report_id_0, standard, no_report_id, report_id_2, padded.
report_format = "report_id_0"
use_feature_report = false

[button]
# A press shorter than this is treated as contact bounce.
debounce_ms = 10

[audio]
backend = "pulseaudio"
# PulseAudio sink name; empty means the server default sink.
sink = ""
# How often the sink mute state is re-read to catch external changes.
# 0 disables polling.
poll_interval_ms = 1000
command_timeout_ms = 5000

[led]
muted_color = "red"
unmuted_color = "green"
dim = false

[status]
# host:port of the observe-only status WebSocket; empty disables it.
addr = ""

[logging]
# error, warn, info, or debug
level = "info"
# text or json
format = "text"
`

type ConfigInitCmd struct {
	Path  string `help:"Destination path." default:"mutemed.toml"`
	Force bool   `help:"Overwrite an existing file."`
}

func (c *ConfigInitCmd) Run() error {
	path := ExpandPath(c.Path)
	if !c.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", c.Path)
		}
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigTOML), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", c.Path)
	return nil
}

type ConfigShowCmd struct {
	Config string `help:"Path to the configuration file." type:"path"`
}

func (c *ConfigShowCmd) Run() error {
	cfg, path, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if path != "" {
		fmt.Printf("# loaded from %s\n", path)
	} else {
		fmt.Println("# built-in defaults (no config file found)")
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = os.Stdout.Write(b)
	return err
}

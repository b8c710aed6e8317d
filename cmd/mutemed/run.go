package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sstallion/go-hid"
)

type RunCmd struct {
	Config     string  `help:"Path to the configuration file." type:"path"`
	LogLevel   *string `help:"Override logging.level (error, warn, info, debug)."`
	Sink       *string `help:"Override audio.sink (PulseAudio sink name)."`
	StatusAddr *string `help:"Override status.addr (host:port of the status WebSocket)."`
}

func (r *RunCmd) Run() error {
	cfg, cfgPath, err := loadConfig(r.Config)
	if err != nil {
		return err
	}

	overrides := FlagOverrides{
		LogLevel:   r.LogLevel,
		Sink:       r.Sink,
		StatusAddr: r.StatusAddr,
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate guarantees these parse.
	level, _ := parseLogLevel(cfg.Logging.Level)
	format, _ := parseLogFormat(cfg.Logging.Format)
	logger := setupLogger(level, format)

	logger.Info("mutemed starting", "version", version)
	if cfgPath != "" {
		logger.Info("loaded configuration", "path", cfgPath)
	} else {
		logger.Info("no configuration file found, using defaults")
	}
	logger.Debug("configuration",
		"device_vid", fmt.Sprintf("%04x", cfg.Device.VID),
		"device_pid", fmt.Sprintf("%04x", cfg.Device.PID),
		"device_path", cfg.Device.Path,
		"read_timeout_ms", cfg.Device.ReadTimeoutMS,
		"report_format", cfg.Device.ReportFormat,
		"use_feature_report", cfg.Device.UseFeatureReport,
		"debounce_ms", cfg.Button.DebounceMS,
		"sink", cfg.Audio.Sink,
		"poll_interval_ms", cfg.Audio.PollIntervalMS,
		"command_timeout_ms", cfg.Audio.CommandTimeoutMS,
		"muted_color", cfg.LED.MutedColor,
		"unmuted_color", cfg.LED.UnmutedColor,
		"dim", cfg.LED.Dim,
		"status_addr", cfg.Status.Addr,
		"log_level", cfg.Logging.Level,
		"log_format", cfg.Logging.Format,
	)

	if err := hid.Init(); err != nil {
		return fmt.Errorf("initialize hidapi: %w", err)
	}
	defer hid.Exit()

	dev, err := OpenDevice(cfg.Device, logger)
	if err != nil {
		logDeviceOpenError(logger, err)
		return err
	}

	info := dev.Info()
	model, _ := matchSupported(info.VendorID, info.ProductID)
	deviceDesc := fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID)
	if model.name != "" {
		deviceDesc = model.name + " " + deviceDesc
	}
	logger.Info("device opened",
		"device", deviceDesc,
		"product", info.ProductStr,
		"path", info.Path,
	)

	audio := NewPulseControl(cfg.Audio.Sink, time.Duration(cfg.Audio.CommandTimeoutMS)*time.Millisecond, logger)

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The status feed runs on its own context so it keeps serving frames
	// while the daemon drains; it is torn down after.
	var hub *Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	srvErr := make(chan error, 1)
	statusEnabled := cfg.Status.Addr != ""
	if statusEnabled {
		srv := newStatusServer(cfg.Status.Addr, logger)
		ln, err := srv.Listen()
		if err != nil {
			dev.Close()
			return err
		}
		hub = srv.Hub()
		go hub.Run(hubCtx)
		go func() {
			srvErr <- srv.Serve(hubCtx, ln)
		}()
	}

	daemon, err := NewDaemon(cfg, dev, audio, hub, logger)
	if err != nil {
		dev.Close()
		return err
	}
	daemon.deviceDesc = deviceDesc

	runErr := daemon.Run(ctx)

	if statusEnabled {
		stopHub()
		if err := <-srvErr; err != nil {
			logger.Warn("status server error", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("daemon exited with error", "error", runErr)
		return runErr
	}
	logger.Info("mutemed stopped")
	return nil
}

func logDeviceOpenError(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, errDeviceNotFound):
		logger.Error("no MuteMe device found", "error", err,
			"tip", "run 'mutemed check-device' to diagnose")
	case errors.Is(err, errDevicePermission):
		logger.Error("cannot access MuteMe device", "error", err,
			"tip", "run 'mutemed check-device --verbose' for fix suggestions")
	case errors.Is(err, errDeviceBusy):
		logger.Error("MuteMe device is busy", "error", err,
			"tip", "another process may already have the device open")
	default:
		logger.Error("cannot open MuteMe device", "error", err)
	}
}

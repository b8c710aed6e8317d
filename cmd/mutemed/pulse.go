package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// commandRunner executes one external command and returns its stdout.
// Injectable so tests can script pactl without a PulseAudio server.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

// PulseControl implements AudioController by shelling out to pactl.
//
// Each invocation gets its own timeout so a wedged PulseAudio server cannot
// stall the daemon loop indefinitely.
type PulseControl struct {
	run     commandRunner
	sink    string // configured sink name; empty means server default
	timeout time.Duration
	logger  *slog.Logger
}

func NewPulseControl(sink string, timeout time.Duration, logger *slog.Logger) *PulseControl {
	return &PulseControl{
		run:     execRunner,
		sink:    sink,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *PulseControl) pactl(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	out, err := p.run(ctx, "pactl", args...)
	if err != nil {
		return "", classifyPactlError(err)
	}
	p.logger.Debug("pactl", "args", strings.Join(args, " "))
	return out, nil
}

// classifyPactlError maps pactl failures onto the two error classes callers
// care about. Anything unrecognized passes through wrapped.
func classifyPactlError(err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: pactl not installed: %v", errBackendUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: pactl timed out: %v", errBackendUnavailable, err)
	case strings.Contains(msg, "Connection refused"),
		strings.Contains(msg, "Connection failure"),
		strings.Contains(msg, "Connection terminated"):
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	case strings.Contains(msg, "No such entity"):
		return fmt.Errorf("%w: %v", errNoMatchingSink, err)
	default:
		return fmt.Errorf("pactl: %w", err)
	}
}

// resolveSink picks the sink to operate on: explicit argument, then the
// configured sink, then the server default.
func (p *PulseControl) resolveSink(sink string) (string, error) {
	if sink == "" {
		sink = p.sink
	}
	if sink != "" {
		return sink, nil
	}
	out, err := p.pactl("get-default-sink")
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return "", fmt.Errorf("%w: server reported no default sink", errNoMatchingSink)
	}
	return name, nil
}

func (p *PulseControl) IsMuted(sink string) (bool, error) {
	name, err := p.resolveSink(sink)
	if err != nil {
		return false, err
	}
	out, err := p.pactl("get-sink-mute", name)
	if err != nil {
		return false, p.withSinkContext(err, name)
	}
	switch s := strings.TrimSpace(out); {
	case strings.HasSuffix(s, "yes"):
		return true, nil
	case strings.HasSuffix(s, "no"):
		return false, nil
	default:
		return false, fmt.Errorf("unexpected pactl get-sink-mute output %q", s)
	}
}

func (p *PulseControl) SetMute(sink string, muted bool) error {
	name, err := p.resolveSink(sink)
	if err != nil {
		return err
	}
	flag := "0"
	if muted {
		flag = "1"
	}
	if _, err := p.pactl("set-sink-mute", name, flag); err != nil {
		return p.withSinkContext(err, name)
	}
	return nil
}

// withSinkContext enriches a no-such-sink failure with the list of sinks the
// server actually has, which is what the operator needs to fix the config.
func (p *PulseControl) withSinkContext(err error, name string) error {
	if !errors.Is(err, errNoMatchingSink) {
		return err
	}
	sinks, listErr := p.Sinks()
	if listErr != nil || len(sinks) == 0 {
		return fmt.Errorf("sink %q: %w", name, err)
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name)
	}
	return fmt.Errorf("sink %q: %w (available: %s)", name, err, strings.Join(names, ", "))
}

func (p *PulseControl) Sinks() ([]Sink, error) {
	out, err := p.pactl("list", "short", "sinks")
	if err != nil {
		return nil, err
	}
	var sinks []Sink
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		sinks = append(sinks, Sink{Index: idx, Name: fields[1]})
	}
	return sinks, nil
}

// Close is part of AudioController. pactl is stateless, nothing to release.
func (p *PulseControl) Close() error { return nil }

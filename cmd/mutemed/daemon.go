package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// ButtonDevice is the transport surface the daemon needs. *Device implements
// it; tests substitute a scripted fake.
type ButtonDevice interface {
	ReadEvent(timeout time.Duration) (ButtonEvent, error)
	WriteLED(v byte) error
	Close() error
}

type daemonPhase int

const (
	phaseStarting daemonPhase = iota
	phaseRunning
	phaseDraining
	phaseStopped
)

func (p daemonPhase) String() string {
	switch p {
	case phaseStarting:
		return "starting"
	case phaseRunning:
		return "running"
	case phaseDraining:
		return "draining"
	case phaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// statusData is the JSON payload of a "status" frame on the status feed.
type statusData struct {
	Muted     bool       `json:"muted"`
	MuteKnown bool       `json:"mute_known"`
	MuteAt    *time.Time `json:"mute_at,omitempty"`
	Sink      string     `json:"sink,omitempty"`
	Button    string     `json:"button"`
	Phase     string     `json:"phase"`
	Device    string     `json:"device,omitempty"`
}

// Daemon owns the bridge between the button and the audio backend.
//
// All mute and button state lives here and is touched only by the Run
// goroutine (single-owner). The reader goroutine communicates through
// channels; the status hub receives serialized snapshot copies.
type Daemon struct {
	cfg    Config
	logger *slog.Logger

	dev   ButtonDevice
	audio AudioController
	hub   *Hub // nil when the status feed is disabled

	button *ButtonStateMachine
	led    *ledFeedback

	muted     bool
	muteKnown bool
	muteAt    time.Time

	phase      daemonPhase
	deviceDesc string
}

func NewDaemon(cfg Config, dev ButtonDevice, audio AudioController, hub *Hub, logger *slog.Logger) (*Daemon, error) {
	led, err := newLEDFeedback(dev, cfg.LED, logger)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:    cfg,
		logger: logger,
		dev:    dev,
		audio:  audio,
		hub:    hub,
		button: NewButtonStateMachine(time.Duration(cfg.Button.DebounceMS)*time.Millisecond, logger),
		led:    led,
	}, nil
}

// Run drives the daemon through its lifecycle: starting, running, draining,
// stopped. It returns nil on a signal-initiated shutdown and the read error
// when the device disconnects.
func (d *Daemon) Run(ctx context.Context) error {
	d.setPhase(phaseStarting)

	// Initial mute sync. Failure is not fatal: the daemon starts with the
	// mute state unknown and leaves the LED alone until audio recovers.
	if muted, err := d.audio.IsMuted(d.cfg.Audio.Sink); err != nil {
		d.logger.Warn("initial mute state query failed", "error", err)
	} else {
		d.muted = muted
		d.muteKnown = true
		d.muteAt = time.Now()
		d.reconcileLED()
	}

	readTimeout := time.Duration(d.cfg.Device.ReadTimeoutMS) * time.Millisecond

	events := make(chan ButtonEvent, eventQueueCap)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		readButtonEvents(d.dev, readTimeout, events, readErr, stop, d.logger)
	}()

	ticker := time.NewTicker(debounceTickInterval)
	defer ticker.Stop()

	pollInterval := time.Duration(d.cfg.Audio.PollIntervalMS) * time.Millisecond
	lastPoll := time.Now()

	d.setPhase(phaseRunning)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutdown requested")
			break loop

		case err := <-readErr:
			d.logger.Error("device read failed", "error", err)
			runErr = err
			break loop

		case ev := <-events:
			d.handleButtonEvent(ev)

		case now := <-ticker.C:
			prev := d.button.State()
			d.button.Tick(now)
			if d.button.State() != prev {
				d.publishStatus()
			}
			if pollInterval > 0 && now.Sub(lastPoll) >= pollInterval {
				lastPoll = now
				d.resyncMute(now)
			}
		}
	}

	// ========================================================================
	// Drain
	// ========================================================================

	d.setPhase(phaseDraining)

	// One best-effort LED-off write so the button does not stay lit.
	if err := d.led.ForceOff(); err != nil {
		d.logger.Warn("could not turn LED off during shutdown", "error", err)
	}

	close(stop)
	select {
	case <-readerDone:
	case <-time.After(readTimeout + drainJoinGrace):
		d.logger.Warn("reader did not exit in time, abandoning it")
	}

	d.button.Reset()

	if err := d.dev.Close(); err != nil {
		d.logger.Warn("device close failed", "error", err)
	}
	if err := d.audio.Close(); err != nil {
		d.logger.Warn("audio close failed", "error", err)
	}

	d.setPhase(phaseStopped)
	return runErr
}

func (d *Daemon) handleButtonEvent(ev ButtonEvent) {
	prev := d.button.State()
	actions := d.button.HandleEvent(ev)
	if d.button.State() != prev {
		d.publishStatus()
	}
	for _, act := range actions {
		d.runAction(act)
	}
}

func (d *Daemon) runAction(act MuteAction) {
	switch act.(type) {
	case ToggleMute:
		d.toggleMute()
	default:
		d.logger.Warn("unhandled action", "action", act.String())
	}
}

func (d *Daemon) toggleMute() {
	// Re-read the backend first: the cached value goes stale whenever
	// something else changes the mute between polls.
	muted, err := d.audio.IsMuted(d.cfg.Audio.Sink)
	if err != nil {
		d.muteKnown = false
		d.logger.Warn("mute toggle skipped, cannot read current state", "error", err)
		d.publishStatus()
		return
	}
	target := !muted
	if err := d.audio.SetMute(d.cfg.Audio.Sink, target); err != nil {
		d.muteKnown = false
		d.logger.Warn("mute toggle failed", "error", err)
		d.publishStatus()
		return
	}
	d.muted = target
	d.muteKnown = true
	d.muteAt = time.Now()
	d.logger.Info("toggled mute", "muted", target)
	d.reconcileLED()
	d.publishStatus()
}

// resyncMute re-reads the backend mute state so external changes (pavucontrol,
// another client) show up on the LED. Runs at the configured poll interval.
func (d *Daemon) resyncMute(now time.Time) {
	muted, err := d.audio.IsMuted(d.cfg.Audio.Sink)
	if err != nil {
		wasKnown := d.muteKnown
		d.muteKnown = false
		if wasKnown {
			d.logger.Warn("mute state query failed, marking unknown", "error", err)
			d.publishStatus()
		} else {
			d.logger.Debug("mute state query still failing", "error", err)
		}
		return
	}
	wasKnown := d.muteKnown
	changed := !wasKnown || d.muted != muted
	d.muted = muted
	d.muteKnown = true
	if !changed {
		return
	}
	d.muteAt = now
	if wasKnown {
		d.logger.Info("mute state changed externally", "muted", muted)
	} else {
		d.logger.Info("mute state recovered", "muted", muted)
	}
	d.reconcileLED()
	d.publishStatus()
}

// reconcileLED drives the LED toward the cached mute state. Skipped entirely
// while the state is unknown so the LED never shows a guess.
func (d *Daemon) reconcileLED() {
	if !d.muteKnown {
		return
	}
	if err := d.led.Reconcile(d.muted); err != nil {
		d.logger.Warn("LED update failed", "error", err)
	}
}

func (d *Daemon) setPhase(p daemonPhase) {
	d.phase = p
	d.logger.Info("daemon phase changed", "phase", p.String())
	d.publishStatus()
}

func (d *Daemon) statusSnapshot() statusData {
	s := statusData{
		Muted:     d.muted,
		MuteKnown: d.muteKnown,
		Sink:      d.cfg.Audio.Sink,
		Button:    d.button.State().String(),
		Phase:     d.phase.String(),
		Device:    d.deviceDesc,
	}
	if !d.muteAt.IsZero() {
		at := d.muteAt.UTC()
		s.MuteAt = &at
	}
	return s
}

func (d *Daemon) publishStatus() {
	if d.hub == nil {
		return
	}
	now := time.Now().UTC()
	msg, err := json.Marshal(envelope{Type: "status", Ts: &now, Data: d.statusSnapshot()})
	if err != nil {
		d.logger.Warn("status frame marshal failed", "error", err)
		return
	}
	d.hub.BroadcastBytes(msg)
}

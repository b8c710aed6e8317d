package main

import (
	"log/slog"
	"time"
)

type buttonState int

const (
	buttonIdle buttonState = iota
	buttonPressedPending
	buttonPressed
)

func (s buttonState) String() string {
	switch s {
	case buttonIdle:
		return "idle"
	case buttonPressedPending:
		return "pressed_pending"
	case buttonPressed:
		return "pressed"
	default:
		return "unknown"
	}
}

// ButtonStateMachine debounces raw press/release reports into mute actions.
//
// A press only counts once it has outlasted the debounce window; a release
// inside the window is treated as contact bounce and discarded. The window
// check runs both on the next event and on explicit Tick calls, so a held
// press is confirmed even when no further reports arrive.
//
// Intended to be called only by the daemon goroutine (single-owner).
// Malformed sequences are logged and ignored; the machine never panics.
type ButtonStateMachine struct {
	logger *slog.Logger
	window time.Duration

	state     buttonState
	pressedAt time.Time
}

func NewButtonStateMachine(window time.Duration, logger *slog.Logger) *ButtonStateMachine {
	return &ButtonStateMachine{
		logger: logger,
		window: window,
		state:  buttonIdle,
	}
}

// State reports the current debounce state.
func (m *ButtonStateMachine) State() buttonState { return m.state }

// Tick confirms a pending press whose debounce window has elapsed.
func (m *ButtonStateMachine) Tick(now time.Time) {
	if m.state == buttonPressedPending && now.Sub(m.pressedAt) >= m.window {
		m.state = buttonPressed
	}
}

// HandleEvent advances the machine by one event and returns the actions to
// run, in order. Today a completed press/release cycle yields one ToggleMute.
func (m *ButtonStateMachine) HandleEvent(ev ButtonEvent) []MuteAction {
	// An event arrival is also a clock edge: confirm a pending press whose
	// window has already elapsed before dispatching on the new state.
	m.Tick(ev.At)

	switch m.state {
	case buttonIdle:
		if !ev.Pressed {
			m.logger.Debug("ignoring release without a press")
			return nil
		}
		m.state = buttonPressedPending
		m.pressedAt = ev.At
		return nil

	case buttonPressedPending:
		if ev.Pressed {
			m.logger.Debug("ignoring repeated press report")
			return nil
		}
		// A release here is still inside the window: contact bounce.
		m.logger.Debug("discarding bounced press", "held", ev.At.Sub(m.pressedAt))
		m.state = buttonIdle
		return nil

	case buttonPressed:
		if ev.Pressed {
			m.logger.Debug("ignoring repeated press report")
			return nil
		}
		m.state = buttonIdle
		return []MuteAction{ToggleMute{}}
	}
	return nil
}

// Reset drops any in-flight press. Used during shutdown.
func (m *ButtonStateMachine) Reset() {
	m.state = buttonIdle
	m.pressedAt = time.Time{}
}

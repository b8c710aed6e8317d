package main

import (
	"errors"
	"fmt"
	"time"
)

// ButtonEvent is one decoded press or release report from the device.
type ButtonEvent struct {
	Pressed bool
	At      time.Time
}

func (e ButtonEvent) String() string {
	if e.Pressed {
		return "press"
	}
	return "release"
}

// MuteAction is something the daemon should do to the audio backend.
// Implementations are small value types so they can travel by value.
type MuteAction interface {
	muteActionMarker()
	String() string
}

// ToggleMute flips the current mute state of the configured sink.
type ToggleMute struct{}

func (ToggleMute) muteActionMarker() {}
func (ToggleMute) String() string    { return "ToggleMute" }

var errUnknownFrame = errors.New("unrecognized HID report")

// decodeFrame interprets one interrupt report from the button endpoint.
// It is pure: no state, no I/O. Reports shorter than the expected layout
// are rejected; anything else decodes to a press or a release.
func decodeFrame(frame []byte, at time.Time) (ButtonEvent, error) {
	if len(frame) < buttonReportLen {
		return ButtonEvent{}, fmt.Errorf("%w: %d bytes", errUnknownFrame, len(frame))
	}
	return ButtonEvent{
		Pressed: frame[buttonStateIndex] == buttonPressValue,
		At:      at,
	}, nil
}

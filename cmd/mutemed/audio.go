package main

import "errors"

// Sink is one PulseAudio output as reported by the backend.
type Sink struct {
	Index int
	Name  string
}

// AudioController is the mute surface the daemon drives. The sink argument
// is a sink name; empty means the configured sink, and an empty configured
// sink means the server default.
//
// Audio failures are never fatal to the daemon: it marks the mute state
// unknown and keeps running.
type AudioController interface {
	IsMuted(sink string) (bool, error)
	SetMute(sink string, muted bool) error
	Sinks() ([]Sink, error)
	Close() error
}

var (
	errBackendUnavailable = errors.New("audio backend unavailable")
	errNoMatchingSink     = errors.New("no matching audio sink")
)

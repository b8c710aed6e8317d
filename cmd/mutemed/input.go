package main

import (
	"errors"
	"log/slog"
	"time"
)

// readButtonEvents reads interrupt reports from the device and forwards the
// decoded events to the daemon. It exits when stop is closed or when a read
// fails for a reason other than a timeout; that failure goes to readErr.
//
// The events send blocks when the queue is full: if the daemon falls behind,
// reports wait here instead of being dropped. The select against stop keeps
// shutdown from ever being stuck on that send.
func readButtonEvents(dev ButtonDevice, timeout time.Duration, events chan<- ButtonEvent, readErr chan<- error, stop <-chan struct{}, logger *slog.Logger) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		ev, err := dev.ReadEvent(timeout)
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				continue
			}
			if errors.Is(err, errUnknownFrame) {
				logger.Debug("discarding report", "error", err)
				continue
			}
			select {
			case readErr <- err:
			case <-stop:
			}
			return
		}

		logger.Debug("button report", "event", ev.String())

		select {
		case events <- ev:
		case <-stop:
			return
		}
	}
}

package main

import "time"

// MuteMe button report layout. The device sends 4-byte interrupt reports;
// the press flag lives in the last byte.
const (
	buttonReportLen  = 4
	buttonStateIndex = 3
	buttonPressValue = 0x01 // value while the button is held down
)

// Software flash animation. The hardware flash modifier (0x40) misfires on
// every unit tested, so flashing is emulated with timed writes.
const (
	flashCycles  = 20
	flashOnTime  = 150 * time.Millisecond
	flashOffTime = 45 * time.Millisecond
)

// Daemon loop timing
const (
	debounceTickInterval = 25 * time.Millisecond // bounds press-confirm latency between events
	drainJoinGrace       = 250 * time.Millisecond
	eventQueueCap        = 64
)

// Configuration defaults
const (
	defaultVendorID  = 0x20A0
	defaultProductID = 0x42DA

	defaultReadTimeoutMS    = 250  // blocking HID read timeout (ms); also bounds shutdown
	defaultDebounceMS       = 10   // press must outlast this to count (ms)
	defaultPollIntervalMS   = 1000 // external mute-change detection period (ms)
	defaultCommandTimeoutMS = 5000 // per pactl invocation (ms)
)

// test-device pacing
const (
	testHoldTime       = 300 * time.Millisecond
	testTransitionTime = 100 * time.Millisecond
	testVisibleTime    = 500 * time.Millisecond
	testBrightnessTime = 3 * time.Second

	testButtonPollInterval = 100 * time.Millisecond
	testButtonWaitPolls    = 100 // 10s total
	testButtonHoldTime     = 3 * time.Second
)

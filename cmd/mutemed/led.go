package main

import (
	"fmt"
	"log/slog"
	"strings"
)

// LEDColor is the low-nibble color value of a MuteMe LED report.
type LEDColor byte

const (
	LEDOff    LEDColor = 0x00
	LEDRed    LEDColor = 0x01
	LEDGreen  LEDColor = 0x02
	LEDYellow LEDColor = 0x03
	LEDBlue   LEDColor = 0x04
	LEDPurple LEDColor = 0x05
	LEDCyan   LEDColor = 0x06
	LEDWhite  LEDColor = 0x07
)

var ledColorNames = map[string]LEDColor{
	"nocolor": LEDOff,
	"off":     LEDOff,
	"red":     LEDRed,
	"green":   LEDGreen,
	"yellow":  LEDYellow,
	"blue":    LEDBlue,
	"purple":  LEDPurple,
	"cyan":    LEDCyan,
	"white":   LEDWhite,
}

func ParseLEDColor(name string) (LEDColor, error) {
	c, ok := ledColorNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown LED color %q (must be red, green, yellow, blue, purple, cyan, white, or nocolor)", name)
	}
	return c, nil
}

func (c LEDColor) String() string {
	switch c {
	case LEDOff:
		return "nocolor"
	case LEDRed:
		return "red"
	case LEDGreen:
		return "green"
	case LEDYellow:
		return "yellow"
	case LEDBlue:
		return "blue"
	case LEDPurple:
		return "purple"
	case LEDCyan:
		return "cyan"
	case LEDWhite:
		return "white"
	default:
		return fmt.Sprintf("color(0x%02x)", byte(c))
	}
}

// Brightness is the high-nibble modifier ORed into the LED color value.
// brightnessFlash is not a real hardware modifier; it selects the software
// flash animation.
type Brightness byte

const (
	brightnessNormal    Brightness = 0x00
	brightnessDim       Brightness = 0x10
	brightnessFastPulse Brightness = 0x20
	brightnessSlowPulse Brightness = 0x30
	brightnessFlash     Brightness = 0x40
)

func ParseBrightness(name string) (Brightness, error) {
	switch strings.ToLower(name) {
	case "normal":
		return brightnessNormal, nil
	case "dim":
		return brightnessDim, nil
	case "fast_pulse":
		return brightnessFastPulse, nil
	case "slow_pulse":
		return brightnessSlowPulse, nil
	case "flashing":
		return brightnessFlash, nil
	default:
		return 0, fmt.Errorf("unknown brightness %q (must be normal, dim, flashing, fast_pulse, or slow_pulse)", name)
	}
}

func (b Brightness) String() string {
	switch b {
	case brightnessNormal:
		return "normal"
	case brightnessDim:
		return "dim"
	case brightnessFastPulse:
		return "fast_pulse"
	case brightnessSlowPulse:
		return "slow_pulse"
	case brightnessFlash:
		return "flashing"
	default:
		return fmt.Sprintf("brightness(0x%02x)", byte(b))
	}
}

// ledByte combines color and brightness into the wire value. The flash
// pseudo-brightness contributes nothing here; the animation handles it.
func ledByte(c LEDColor, b Brightness) byte {
	if b == brightnessFlash {
		return byte(c)
	}
	return byte(c) | byte(b)
}

// ReportFormat names the byte layout of an LED report. Different firmware
// revisions want the value at different offsets; report_id_0 is the one
// that works on all units tested and is the default.
type ReportFormat string

const (
	reportFormatStandard   ReportFormat = "standard"     // [0x01, v]
	reportFormatNoReportID ReportFormat = "no_report_id" // [v]
	reportFormatReportID0  ReportFormat = "report_id_0"  // [0x00, v]
	reportFormatReportID2  ReportFormat = "report_id_2"  // [0x02, v]
	reportFormatPadded     ReportFormat = "padded"       // [0x01, v, 0, 0, 0, 0, 0, 0]
)

func parseReportFormat(name string) (ReportFormat, error) {
	switch ReportFormat(strings.ToLower(name)) {
	case reportFormatStandard, reportFormatNoReportID, reportFormatReportID0,
		reportFormatReportID2, reportFormatPadded:
		return ReportFormat(strings.ToLower(name)), nil
	default:
		return "", fmt.Errorf("unknown report format %q (must be standard, no_report_id, report_id_0, report_id_2, or padded)", name)
	}
}

func buildLEDReport(f ReportFormat, v byte) []byte {
	switch f {
	case reportFormatStandard:
		return []byte{0x01, v}
	case reportFormatNoReportID:
		return []byte{v}
	case reportFormatReportID2:
		return []byte{0x02, v}
	case reportFormatPadded:
		return []byte{0x01, v, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	default:
		return []byte{0x00, v}
	}
}

// ledWriter is the single write the feedback layer needs from the device.
type ledWriter interface {
	WriteLED(v byte) error
}

// ledFeedback mirrors the mute state onto the button LED.
//
// It remembers the last value written and skips the write when the target
// equals it, so a reconcile is at most one report. A failed write leaves the
// cache untouched and the next reconcile retries.
type ledFeedback struct {
	w      ledWriter
	logger *slog.Logger

	mutedColor   LEDColor
	unmutedColor LEDColor
	dim          bool

	lastRaw byte
	haveRaw bool
}

func newLEDFeedback(w ledWriter, cfg LEDConfig, logger *slog.Logger) (*ledFeedback, error) {
	muted, err := ParseLEDColor(cfg.MutedColor)
	if err != nil {
		return nil, fmt.Errorf("led.muted_color: %w", err)
	}
	unmuted, err := ParseLEDColor(cfg.UnmutedColor)
	if err != nil {
		return nil, fmt.Errorf("led.unmuted_color: %w", err)
	}
	return &ledFeedback{
		w:            w,
		logger:       logger,
		mutedColor:   muted,
		unmutedColor: unmuted,
		dim:          cfg.Dim,
	}, nil
}

func (l *ledFeedback) target(muted bool) byte {
	c := l.unmutedColor
	if muted {
		c = l.mutedColor
	}
	if l.dim && c != LEDOff {
		return ledByte(c, brightnessDim)
	}
	return byte(c)
}

// Reconcile drives the LED to the color for the given mute state.
func (l *ledFeedback) Reconcile(muted bool) error {
	v := l.target(muted)
	if l.haveRaw && l.lastRaw == v {
		return nil
	}
	if err := l.w.WriteLED(v); err != nil {
		return err
	}
	l.logger.Debug("LED updated", "value", fmt.Sprintf("0x%02x", v), "muted", muted)
	l.lastRaw = v
	l.haveRaw = true
	return nil
}

// ForceOff writes the off value unconditionally. Used once during drain.
func (l *ledFeedback) ForceOff() error {
	if err := l.w.WriteLED(byte(LEDOff)); err != nil {
		return err
	}
	l.lastRaw = byte(LEDOff)
	l.haveRaw = true
	return nil
}

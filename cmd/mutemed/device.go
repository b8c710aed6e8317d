package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sstallion/go-hid"
)

// Device transport failure classes. The daemon treats any read failure after
// a successful open as a disconnect; there is no reconnect policy, so finer
// IO-error distinctions would not change behavior.
var (
	errDeviceNotFound     = errors.New("no MuteMe device found")
	errDevicePermission   = errors.New("permission denied opening MuteMe device")
	errDeviceBusy         = errors.New("MuteMe device is busy")
	errDeviceDisconnected = errors.New("MuteMe device disconnected")
	errDeviceClosed       = errors.New("MuteMe device is closed")
	errReadTimeout        = errors.New("read timed out")
)

// Device is an open MuteMe button.
//
// Reads happen on the reader goroutine and writes on the daemon goroutine;
// hidapi allows that concurrency, but writes are additionally serialized so
// the flash animation cannot interleave with a reconcile.
type Device struct {
	dev  *hid.Device
	info hid.DeviceInfo

	format     ReportFormat
	useFeature bool

	mu     sync.Mutex // guards writes and the closed flag
	closed bool
}

// Info returns the enumeration record the device was opened from.
func (d *Device) Info() hid.DeviceInfo { return d.info }

// ReadEvent performs one blocking read with a timeout and decodes the report.
// A timeout surfaces as errReadTimeout; any other read failure means the
// device is gone.
func (d *Device) ReadEvent(timeout time.Duration) (ButtonEvent, error) {
	buf := make([]byte, 8)
	n, err := d.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return ButtonEvent{}, fmt.Errorf("%w: %v", errDeviceDisconnected, err)
	}
	if n == 0 {
		return ButtonEvent{}, errReadTimeout
	}
	return decodeFrame(buf[:n], time.Now())
}

// WriteLED sends one LED report carrying the given color/brightness value.
func (d *Device) WriteLED(v byte) error {
	report := buildLEDReport(d.format, v)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDeviceClosed
	}

	var err error
	if d.useFeature {
		_, err = d.dev.SendFeatureReport(report)
	} else {
		_, err = d.dev.Write(report)
	}
	if err != nil {
		return fmt.Errorf("write LED report: %w", err)
	}
	return nil
}

// FlashLED runs the software flash animation for the given color and leaves
// the color lit afterwards. Blocks for the duration of the animation; only
// the diagnostic commands use it.
func (d *Device) FlashLED(c LEDColor) error {
	for i := 0; i < flashCycles; i++ {
		if err := d.WriteLED(byte(c)); err != nil {
			return err
		}
		time.Sleep(flashOnTime)
		if err := d.WriteLED(byte(LEDOff)); err != nil {
			return err
		}
		time.Sleep(flashOffTime)
	}
	return d.WriteLED(byte(c))
}

// Close releases the HID handle. Safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.dev.Close(); err != nil {
		return fmt.Errorf("close device: %w", err)
	}
	return nil
}

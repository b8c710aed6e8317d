package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sstallion/go-hid"
)

type TestDeviceCmd struct {
	Config      string `help:"Path to the configuration file." type:"path"`
	LogLevel    string `help:"Override logging.level (error, warn, info, debug)."`
	Interactive bool   `help:"Pause for ENTER between test steps."`
	Color       string `help:"Test a single color and exit (red, green, yellow, blue, purple, cyan, white, nocolor)."`
	Brightness  string `help:"Brightness for --color (normal, dim, flashing, fast_pulse, slow_pulse)."`
}

// Run exercises the LED and the button so an operator can verify the device
// end to end without touching the audio stack.
func (t *TestDeviceCmd) Run() error {
	if t.Brightness != "" && t.Color == "" {
		return errors.New("--brightness requires --color")
	}

	cfg, _, err := loadConfig(t.Config)
	if err != nil {
		return err
	}
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, _ := parseLogLevel(cfg.Logging.Level)
	format, _ := parseLogFormat(cfg.Logging.Format)
	logger := setupLogger(level, format)

	if err := hid.Init(); err != nil {
		return fmt.Errorf("initialize hidapi: %w", err)
	}
	defer hid.Exit()

	dev, err := OpenDevice(cfg.Device, logger)
	if err != nil {
		logDeviceOpenError(logger, err)
		return err
	}
	defer dev.Close()

	info := dev.Info()
	model, _ := matchSupported(info.VendorID, info.ProductID)
	fmt.Printf("MuteMe device test: %s %04x:%04x\n", model.name, info.VendorID, info.ProductID)

	tester := &ledTester{dev: dev}

	if t.Color != "" {
		return t.runSingle(tester)
	}
	return t.runSequence(tester)
}

// runSingle drives one color/brightness combination, holds it, and clears.
func (t *TestDeviceCmd) runSingle(tester *ledTester) error {
	color, err := ParseLEDColor(t.Color)
	if err != nil {
		return err
	}
	bright := brightnessNormal
	if t.Brightness != "" {
		bright, err = ParseBrightness(t.Brightness)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Setting LED to %s (%s)\n", color, bright)
	if bright == brightnessFlash {
		tester.flash(color)
	} else {
		tester.set(ledByte(color, bright))
		time.Sleep(testBrightnessTime)
	}
	tester.set(byte(LEDOff))
	return tester.result()
}

func (t *TestDeviceCmd) runSequence(tester *ledTester) error {
	stdin := bufio.NewReader(os.Stdin)
	pause := func() {
		if !t.Interactive {
			return
		}
		fmt.Print("  press ENTER to continue... ")
		_, _ = stdin.ReadString('\n')
	}

	fmt.Println()
	fmt.Println("Step 1: color sweep")
	tester.rgbSweep()
	pause()

	fmt.Println("Step 2: all colors")
	for _, c := range []LEDColor{LEDRed, LEDGreen, LEDYellow, LEDBlue, LEDPurple, LEDCyan, LEDWhite, LEDOff} {
		fmt.Printf("  %s\n", c)
		tester.set(byte(c))
		time.Sleep(testVisibleTime)
	}
	pause()

	fmt.Println("Step 3: brightness levels (white)")
	for _, b := range []Brightness{brightnessDim, brightnessNormal, brightnessFlash, brightnessFastPulse, brightnessSlowPulse} {
		fmt.Printf("  %s\n", b)
		if b == brightnessFlash {
			tester.flash(LEDWhite)
		} else {
			tester.set(ledByte(LEDWhite, b))
			time.Sleep(testBrightnessTime)
		}
	}
	pause()

	fmt.Println("Step 4: button input")
	if err := t.waitForPress(tester); err != nil {
		return err
	}

	fmt.Println()
	if tester.failed > 0 {
		fmt.Printf("Summary: %d LED write(s) failed\n", tester.failed)
	} else {
		fmt.Println("Summary: all LED writes succeeded")
	}

	tester.rgbSweep()
	tester.set(byte(LEDOff))
	return tester.result()
}

// waitForPress arms the LED and polls the button endpoint directly.
func (t *TestDeviceCmd) waitForPress(tester *ledTester) error {
	total := time.Duration(testButtonWaitPolls) * testButtonPollInterval
	fmt.Printf("  press the button within %s...\n", total)
	tester.set(ledByte(LEDRed, brightnessSlowPulse))

	pressed := false
	for i := 0; i < testButtonWaitPolls; i++ {
		ev, err := tester.dev.ReadEvent(testButtonPollInterval)
		if err != nil {
			if errors.Is(err, errReadTimeout) || errors.Is(err, errUnknownFrame) {
				continue
			}
			return err
		}
		if ev.Pressed {
			pressed = true
			break
		}
	}

	if pressed {
		fmt.Println("  button press detected!")
		tester.set(ledByte(LEDGreen, brightnessFastPulse))
		time.Sleep(testButtonHoldTime)
	} else {
		fmt.Println("  no button press detected")
	}
	return nil
}

// ledTester tallies LED write failures so the command can report them all
// instead of aborting on the first one.
type ledTester struct {
	dev    *Device
	failed int
}

func (lt *ledTester) set(v byte) {
	if err := lt.dev.WriteLED(v); err != nil {
		fmt.Printf("  LED write failed: %v\n", err)
		lt.failed++
	}
}

func (lt *ledTester) flash(c LEDColor) {
	if err := lt.dev.FlashLED(c); err != nil {
		fmt.Printf("  LED flash failed: %v\n", err)
		lt.failed++
	}
}

func (lt *ledTester) rgbSweep() {
	for _, c := range []LEDColor{LEDRed, LEDGreen, LEDBlue} {
		lt.set(ledByte(c, brightnessDim))
		time.Sleep(testHoldTime)
		lt.set(byte(LEDOff))
		time.Sleep(testTransitionTime)
	}
	lt.set(ledByte(LEDWhite, brightnessDim))
	time.Sleep(testHoldTime)
	lt.set(byte(LEDOff))
}

func (lt *ledTester) result() error {
	if lt.failed > 0 {
		return fmt.Errorf("%d LED write(s) failed", lt.failed)
	}
	return nil
}

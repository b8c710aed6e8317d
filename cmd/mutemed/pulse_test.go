package main

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"
)

// pactlCall scripts one expected pactl invocation.
type pactlCall struct {
	args []string
	out  string
	err  error
}

func scriptedPulse(t *testing.T, sink string, calls []pactlCall) *PulseControl {
	t.Helper()
	p := NewPulseControl(sink, time.Second, testLogger())
	i := 0
	p.run = func(_ context.Context, name string, args ...string) (string, error) {
		if name != "pactl" {
			t.Fatalf("unexpected command %q", name)
		}
		if i >= len(calls) {
			t.Fatalf("unexpected pactl call %v", args)
		}
		c := calls[i]
		i++
		if !reflect.DeepEqual(args, c.args) {
			t.Fatalf("pactl call %d: got args %v, want %v", i, args, c.args)
		}
		return c.out, c.err
	}
	t.Cleanup(func() {
		if i != len(calls) {
			t.Errorf("pactl called %d times, scripted %d", i, len(calls))
		}
	})
	return p
}

func TestIsMutedUsesDefaultSink(t *testing.T) {
	p := scriptedPulse(t, "", []pactlCall{
		{args: []string{"get-default-sink"}, out: "alsa_output.pci-0000.analog-stereo\n"},
		{args: []string{"get-sink-mute", "alsa_output.pci-0000.analog-stereo"}, out: "Mute: yes\n"},
	})

	muted, err := p.IsMuted("")
	if err != nil {
		t.Fatalf("IsMuted: %v", err)
	}
	if !muted {
		t.Error("IsMuted = false, want true")
	}
}

func TestIsMutedConfiguredSinkSkipsDefaultLookup(t *testing.T) {
	p := scriptedPulse(t, "headset", []pactlCall{
		{args: []string{"get-sink-mute", "headset"}, out: "Mute: no\n"},
	})

	muted, err := p.IsMuted("")
	if err != nil {
		t.Fatalf("IsMuted: %v", err)
	}
	if muted {
		t.Error("IsMuted = true, want false")
	}
}

func TestIsMutedExplicitSinkWinsOverConfigured(t *testing.T) {
	p := scriptedPulse(t, "configured", []pactlCall{
		{args: []string{"get-sink-mute", "explicit"}, out: "Mute: no\n"},
	})

	if _, err := p.IsMuted("explicit"); err != nil {
		t.Fatalf("IsMuted: %v", err)
	}
}

func TestIsMutedUnexpectedOutput(t *testing.T) {
	p := scriptedPulse(t, "headset", []pactlCall{
		{args: []string{"get-sink-mute", "headset"}, out: "Mute: maybe\n"},
	})

	if _, err := p.IsMuted(""); err == nil {
		t.Fatal("expected error for unparseable output")
	}
}

func TestSetMuteFlags(t *testing.T) {
	p := scriptedPulse(t, "headset", []pactlCall{
		{args: []string{"set-sink-mute", "headset", "1"}},
		{args: []string{"set-sink-mute", "headset", "0"}},
	})

	if err := p.SetMute("", true); err != nil {
		t.Fatalf("SetMute(true): %v", err)
	}
	if err := p.SetMute("", false); err != nil {
		t.Fatalf("SetMute(false): %v", err)
	}
}

func TestPactlMissingIsBackendUnavailable(t *testing.T) {
	p := scriptedPulse(t, "headset", []pactlCall{
		{args: []string{"get-sink-mute", "headset"}, err: &exec.Error{Name: "pactl", Err: exec.ErrNotFound}},
	})

	_, err := p.IsMuted("")
	if !errors.Is(err, errBackendUnavailable) {
		t.Fatalf("error = %v, want errBackendUnavailable", err)
	}
}

func TestPactlConnectionRefusedIsBackendUnavailable(t *testing.T) {
	p := scriptedPulse(t, "headset", []pactlCall{
		{args: []string{"set-sink-mute", "headset", "1"}, err: errors.New("exit status 1: Connection refused")},
	})

	err := p.SetMute("", true)
	if !errors.Is(err, errBackendUnavailable) {
		t.Fatalf("error = %v, want errBackendUnavailable", err)
	}
}

func TestUnknownSinkListsAvailableSinks(t *testing.T) {
	p := scriptedPulse(t, "typo-sink", []pactlCall{
		{args: []string{"get-sink-mute", "typo-sink"}, err: errors.New("exit status 1: Failure: No such entity")},
		{args: []string{"list", "short", "sinks"}, out: "0\talsa_output.pci\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tRUNNING\n"},
	})

	_, err := p.IsMuted("")
	if !errors.Is(err, errNoMatchingSink) {
		t.Fatalf("error = %v, want errNoMatchingSink", err)
	}
	if !strings.Contains(err.Error(), "alsa_output.pci") {
		t.Errorf("error %q does not list available sinks", err)
	}
}

func TestSinksParsesShortListing(t *testing.T) {
	p := scriptedPulse(t, "", []pactlCall{
		{args: []string{"list", "short", "sinks"}, out: "0\talsa_output.pci\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tIDLE\n5\tbluez_sink.aa_bb\tmodule-bluez5-device.c\ts16le 2ch 48000Hz\tRUNNING\n\n"},
	})

	sinks, err := p.Sinks()
	if err != nil {
		t.Fatalf("Sinks: %v", err)
	}
	want := []Sink{
		{Index: 0, Name: "alsa_output.pci"},
		{Index: 5, Name: "bluez_sink.aa_bb"},
	}
	if !reflect.DeepEqual(sinks, want) {
		t.Fatalf("Sinks = %+v, want %+v", sinks, want)
	}
}

func TestNoDefaultSinkReported(t *testing.T) {
	p := scriptedPulse(t, "", []pactlCall{
		{args: []string{"get-default-sink"}, out: "\n"},
	})

	_, err := p.IsMuted("")
	if !errors.Is(err, errNoMatchingSink) {
		t.Fatalf("error = %v, want errNoMatchingSink", err)
	}
}

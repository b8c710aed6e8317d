package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeButtonDevice scripts a MuteMe over a channel. Closing events with
// failErr set simulates a disconnect; closing it with failErr nil leaves a
// silent device that only times out.
type fakeButtonDevice struct {
	events  chan ButtonEvent
	failErr error

	mu     sync.Mutex
	writes []byte
	closed bool
}

func newFakeButtonDevice() *fakeButtonDevice {
	return &fakeButtonDevice{events: make(chan ButtonEvent, 16)}
}

func (f *fakeButtonDevice) ReadEvent(timeout time.Duration) (ButtonEvent, error) {
	select {
	case ev, ok := <-f.events:
		if !ok {
			if f.failErr != nil {
				return ButtonEvent{}, f.failErr
			}
			time.Sleep(timeout)
			return ButtonEvent{}, errReadTimeout
		}
		return ev, nil
	case <-time.After(timeout):
		return ButtonEvent{}, errReadTimeout
	}
}

func (f *fakeButtonDevice) WriteLED(v byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeButtonDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeButtonDevice) writesSnapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.writes...)
}

func (f *fakeButtonDevice) closedState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeAudio struct {
	mu       sync.Mutex
	muted    bool
	queryErr error
	setErr   error
	isCalls  int
	setCalls int
	closed   bool
}

func (f *fakeAudio) IsMuted(sink string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isCalls++
	if f.queryErr != nil {
		return false, f.queryErr
	}
	return f.muted, nil
}

func (f *fakeAudio) SetMute(sink string, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	f.muted = muted
	return nil
}

func (f *fakeAudio) Sinks() ([]Sink, error) { return nil, nil }

func (f *fakeAudio) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAudio) setMutedState(m bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = m
}

func (f *fakeAudio) setQueryErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryErr = err
}

func (f *fakeAudio) counts() (isCalls, setCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isCalls, f.setCalls
}

func (f *fakeAudio) mutedState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *fakeAudio) closedState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// testDaemonConfig shrinks the timing knobs so lifecycle tests run fast.
func testDaemonConfig() Config {
	cfg := DefaultConfig()
	cfg.Device.ReadTimeoutMS = 50
	cfg.Button.DebounceMS = 10
	cfg.Audio.PollIntervalMS = 100
	return cfg
}

type daemonHarness struct {
	daemon *Daemon
	cancel context.CancelFunc
	done   chan error
}

func startTestDaemon(t *testing.T, cfg Config, dev ButtonDevice, audio AudioController, hub *Hub) *daemonHarness {
	t.Helper()
	d, err := NewDaemon(cfg, dev, audio, hub, testLogger())
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return &daemonHarness{daemon: d, cancel: cancel, done: done}
}

// wait blocks until Run returns.
func (h *daemonHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop in time")
		return nil
	}
}

// stop cancels the run context and waits for Run to return.
func (h *daemonHarness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	return h.wait(t)
}

func TestDaemon_PressReleaseTogglesMute(t *testing.T) {
	dev := newFakeButtonDevice()
	audio := &fakeAudio{}
	base := time.Now()
	dev.events <- ButtonEvent{Pressed: true, At: base}
	dev.events <- ButtonEvent{Pressed: false, At: base.Add(50 * time.Millisecond)}

	h := startTestDaemon(t, testDaemonConfig(), dev, audio, nil)

	waitUntil(t, time.Second, func() bool {
		_, set := audio.counts()
		return set == 1 && audio.mutedState()
	}, "mute toggle not applied")

	if err := h.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	// Green on startup sync, red after the toggle, off during drain.
	want := []byte{byte(LEDGreen), byte(LEDRed), byte(LEDOff)}
	if got := dev.writesSnapshot(); !bytes.Equal(got, want) {
		t.Fatalf("LED writes = %#v, want %#v", got, want)
	}
	if !dev.closedState() {
		t.Error("device not closed")
	}
	if !audio.closedState() {
		t.Error("audio backend not closed")
	}
}

func TestDaemon_BouncedPressDoesNotToggle(t *testing.T) {
	dev := newFakeButtonDevice()
	audio := &fakeAudio{}
	base := time.Now()
	dev.events <- ButtonEvent{Pressed: true, At: base}
	dev.events <- ButtonEvent{Pressed: false, At: base.Add(3 * time.Millisecond)}

	// A wide window keeps the debounce ticker from confirming the press
	// before the queued release is handled, however slow the test host.
	cfg := testDaemonConfig()
	cfg.Button.DebounceMS = 500
	h := startTestDaemon(t, cfg, dev, audio, nil)

	// A poll cycle passing means the events were long since consumed.
	waitUntil(t, time.Second, func() bool {
		is, _ := audio.counts()
		return is >= 2
	}, "poll cycle did not run")

	if err := h.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	if _, set := audio.counts(); set != 0 {
		t.Errorf("SetMute called %d times, want 0", set)
	}
	want := []byte{byte(LEDGreen), byte(LEDOff)}
	if got := dev.writesSnapshot(); !bytes.Equal(got, want) {
		t.Fatalf("LED writes = %#v, want %#v", got, want)
	}
}

func TestDaemon_TwoCyclesToggleTwiceAlternating(t *testing.T) {
	dev := newFakeButtonDevice()
	audio := &fakeAudio{}
	base := time.Now()
	dev.events <- ButtonEvent{Pressed: true, At: base}
	dev.events <- ButtonEvent{Pressed: false, At: base.Add(50 * time.Millisecond)}
	dev.events <- ButtonEvent{Pressed: true, At: base.Add(100 * time.Millisecond)}
	dev.events <- ButtonEvent{Pressed: false, At: base.Add(150 * time.Millisecond)}

	h := startTestDaemon(t, testDaemonConfig(), dev, audio, nil)

	waitUntil(t, time.Second, func() bool {
		_, set := audio.counts()
		return set == 2
	}, "second toggle not applied")

	if audio.mutedState() {
		t.Error("mute state = true after two toggles, want false")
	}
	if err := h.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	want := []byte{byte(LEDGreen), byte(LEDRed), byte(LEDGreen), byte(LEDOff)}
	if got := dev.writesSnapshot(); !bytes.Equal(got, want) {
		t.Fatalf("LED writes = %#v, want %#v", got, want)
	}
}

func TestDaemon_StartsWithUnknownMuteWhenAudioDown(t *testing.T) {
	dev := newFakeButtonDevice()
	audio := &fakeAudio{queryErr: errors.New("connection refused")}

	h := startTestDaemon(t, testDaemonConfig(), dev, audio, nil)

	waitUntil(t, time.Second, func() bool {
		is, _ := audio.counts()
		return is >= 2
	}, "audio backend not polled")

	// LED untouched while the mute state is unknown.
	if got := dev.writesSnapshot(); len(got) != 0 {
		t.Fatalf("LED writes while unknown = %#v, want none", got)
	}

	// Backend comes back muted; the next poll must light the LED.
	audio.setMutedState(true)
	audio.setQueryErr(nil)
	waitUntil(t, time.Second, func() bool {
		return bytes.IndexByte(dev.writesSnapshot(), byte(LEDRed)) >= 0
	}, "LED not reconciled after audio recovery")

	if err := h.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	want := []byte{byte(LEDRed), byte(LEDOff)}
	if got := dev.writesSnapshot(); !bytes.Equal(got, want) {
		t.Fatalf("LED writes = %#v, want %#v", got, want)
	}
}

func TestDaemon_ToggleSkippedWhileAudioUnavailable(t *testing.T) {
	dev := newFakeButtonDevice()
	audio := &fakeAudio{}
	cfg := testDaemonConfig()
	cfg.Audio.PollIntervalMS = 0 // isCalls then only moves on toggle attempts

	h := startTestDaemon(t, cfg, dev, audio, nil)

	waitUntil(t, time.Second, func() bool {
		return bytes.IndexByte(dev.writesSnapshot(), byte(LEDGreen)) >= 0
	}, "initial LED sync did not happen")

	audio.setQueryErr(errors.New("server terminated"))

	base := time.Now()
	dev.events <- ButtonEvent{Pressed: true, At: base}
	dev.events <- ButtonEvent{Pressed: false, At: base.Add(50 * time.Millisecond)}

	waitUntil(t, time.Second, func() bool {
		is, _ := audio.counts()
		return is == 2
	}, "toggle attempt did not reach the audio backend")

	if err := h.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	if _, set := audio.counts(); set != 0 {
		t.Errorf("SetMute called %d times, want 0", set)
	}
	// The failed toggle must not move the LED.
	want := []byte{byte(LEDGreen), byte(LEDOff)}
	if got := dev.writesSnapshot(); !bytes.Equal(got, want) {
		t.Fatalf("LED writes = %#v, want %#v", got, want)
	}
}

func TestDaemon_PollPicksUpExternalMuteChange(t *testing.T) {
	dev := newFakeButtonDevice()
	audio := &fakeAudio{}

	h := startTestDaemon(t, testDaemonConfig(), dev, audio, nil)

	waitUntil(t, time.Second, func() bool {
		return bytes.IndexByte(dev.writesSnapshot(), byte(LEDGreen)) >= 0
	}, "initial LED sync did not happen")

	// Someone mutes the sink behind the daemon's back.
	audio.setMutedState(true)

	waitUntil(t, time.Second, func() bool {
		return bytes.IndexByte(dev.writesSnapshot(), byte(LEDRed)) >= 0
	}, "external mute change not reflected on LED")

	if err := h.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestDaemon_DeviceDisconnectIsFatal(t *testing.T) {
	dev := newFakeButtonDevice()
	dev.failErr = errDeviceDisconnected
	close(dev.events)
	audio := &fakeAudio{}

	h := startTestDaemon(t, testDaemonConfig(), dev, audio, nil)

	err := h.wait(t)
	if !errors.Is(err, errDeviceDisconnected) {
		t.Fatalf("Run returned %v, want errDeviceDisconnected", err)
	}

	writes := dev.writesSnapshot()
	if len(writes) == 0 || writes[len(writes)-1] != byte(LEDOff) {
		t.Errorf("LED writes = %#v, want final off write", writes)
	}
	if !dev.closedState() {
		t.Error("device not closed")
	}
	if !audio.closedState() {
		t.Error("audio backend not closed")
	}
}

func TestDaemon_ShutdownWhileReaderBlocked(t *testing.T) {
	// No events ever arrive; the reader sits in its timeout loop.
	dev := newFakeButtonDevice()
	audio := &fakeAudio{}

	h := startTestDaemon(t, testDaemonConfig(), dev, audio, nil)

	waitUntil(t, time.Second, func() bool {
		return bytes.IndexByte(dev.writesSnapshot(), byte(LEDGreen)) >= 0
	}, "initial LED sync did not happen")

	if err := h.stop(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	writes := dev.writesSnapshot()
	if writes[len(writes)-1] != byte(LEDOff) {
		t.Errorf("LED writes = %#v, want final off write", writes)
	}
	if !dev.closedState() {
		t.Error("device not closed")
	}
}

func TestDaemon_PublishesStatusFrames(t *testing.T) {
	hub := NewHub(testLogger(), HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := NewClient(hub, nil, "test", testLogger())
	hub.register <- c
	waitUntil(t, time.Second, func() bool { return hubClientCount(hub) == 1 }, "client not registered")

	dev := newFakeButtonDevice()
	audio := &fakeAudio{muted: true}
	h := startTestDaemon(t, testDaemonConfig(), dev, audio, hub)
	defer h.stop(t)

	var frame []byte
	select {
	case frame = <-c.send:
	case <-time.After(time.Second):
		t.Fatal("no status frame received")
	}

	var env struct {
		Type string     `json:"type"`
		Ts   *time.Time `json:"ts"`
		Data statusData `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal status frame: %v", err)
	}
	if env.Type != "status" {
		t.Errorf("frame type = %q, want status", env.Type)
	}
	if env.Ts == nil {
		t.Error("frame has no timestamp")
	}
	if env.Data.Phase == "" {
		t.Error("frame has no phase")
	}
}

func TestReadButtonEvents_ForwardsDecodedEvents(t *testing.T) {
	dev := newFakeButtonDevice()
	dev.events <- ButtonEvent{Pressed: true, At: time.Now()}

	out := make(chan ButtonEvent, 1)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		readButtonEvents(dev, 20*time.Millisecond, out, readErr, stop, testLogger())
	}()

	select {
	case ev := <-out:
		if !ev.Pressed {
			t.Error("forwarded event is not a press")
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	select {
	case err := <-readErr:
		t.Fatalf("unexpected read error: %v", err)
	default:
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not exit after stop")
	}
}

func TestReadButtonEvents_StopUnblocksFullQueue(t *testing.T) {
	dev := newFakeButtonDevice()
	dev.events <- ButtonEvent{Pressed: true, At: time.Now()}
	dev.events <- ButtonEvent{Pressed: false, At: time.Now()}

	// Nobody reads from out, so the reader must block on the send rather
	// than drop the event.
	out := make(chan ButtonEvent)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		readButtonEvents(dev, 20*time.Millisecond, out, readErr, stop, testLogger())
	}()

	// Give the reader time to park on the blocked send.
	time.Sleep(50 * time.Millisecond)

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not exit while blocked on send")
	}
}

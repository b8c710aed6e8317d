package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// mutemed-watch subscribes to a mutemed status feed and prints state changes.
// Handy for checking what the daemon thinks is going on without reading logs.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type statusData struct {
	Muted     bool   `json:"muted"`
	MuteKnown bool   `json:"mute_known"`
	Sink      string `json:"sink"`
	Button    string `json:"button"`
	Phase     string `json:"phase"`
	Device    string `json:"device"`
}

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8787", "mutemed status server address (host:port)")
		wsPath  = flag.String("path", "/ws", "status WebSocket path")
		timeout = flag.Duration("timeout", 5*time.Second, "connection handshake timeout")
	)
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: *wsPath}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: *timeout,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to the websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Ping ticker keeps the connection alive across idle stretches.
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	// Track the previous frame for change detection.
	var last *statusData

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			var env envelope
			if err := json.Unmarshal(message, &env); err != nil {
				fmt.Printf("[TEXT] %s\n", string(message))
				continue
			}
			if env.Type != "status" {
				fmt.Printf("[%s] %s\n", env.Type, string(env.Data))
				continue
			}

			var st statusData
			if err := json.Unmarshal(env.Data, &st); err != nil {
				log.Printf("bad status frame: %v", err)
				continue
			}
			printChanges(last, &st)
			last = &st
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func muteLabel(st *statusData) string {
	if !st.MuteKnown {
		return "UNKNOWN"
	}
	if st.Muted {
		return "MUTED"
	}
	return "UNMUTED"
}

// printChanges prints one line per field that differs from the last frame.
// The first frame prints everything.
func printChanges(last, st *statusData) {
	if last == nil && st.Device != "" {
		fmt.Printf("[DEVICE] %s\n", st.Device)
	}
	if last == nil && st.Sink != "" {
		fmt.Printf("[SINK] %s\n", st.Sink)
	}
	if last == nil || muteLabel(last) != muteLabel(st) {
		fmt.Printf("[MUTE] %s\n", muteLabel(st))
	}
	if last == nil || last.Button != st.Button {
		fmt.Printf("[BUTTON] %s\n", st.Button)
	}
	if last == nil || last.Phase != st.Phase {
		fmt.Printf("[PHASE] %s\n", st.Phase)
	}
}

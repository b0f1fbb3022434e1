// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kwdetect/internal/bus"
	"kwdetect/internal/params"
)

const (
	testAudioTopic   = "/test/audio"
	testCommandTopic = "/test/event_in"
)

func newTestServer(t *testing.T) (*WebSocketTransport, *bus.Bus, *params.Store, string) {
	t.Helper()
	b := bus.New()
	store := params.NewStore()
	wst := NewWebSocketTransport(WebSocketOptions{
		Addr:             "127.0.0.1:0",
		AudioTopic:       testAudioTopic,
		CommandTopic:     testCommandTopic,
		FrameLengthParam: "frame_length",
		RecordingParam:   "recording",
	}, b, store)
	srv := httptest.NewServer(wst.Handler())
	t.Cleanup(func() {
		wst.Close()
		srv.Close()
		b.Close()
	})
	return wst, b, store, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebSocketAudioProducer(t *testing.T) {
	_, b, store, base := newTestServer(t)

	got := make(chan []byte, 1)
	if _, err := b.Subscribe(testAudioTopic, 4, func(m bus.Message) { got <- m.Data }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn := dial(t, base+"/audio?frame_length=256&recording=true")
	eventually(t, func() bool { return b.Publishers(testAudioTopic) == 1 }, "producer advertised")

	if n, ok := store.Int("frame_length"); !ok || n != 256 {
		t.Errorf("frame_length param = %d, %v; want 256", n, ok)
	}
	if rec, ok := store.Bool("recording"); !ok || !rec {
		t.Errorf("recording param = %v, %v; want true", rec, ok)
	}

	payload := []byte{1, 0, 2, 0}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case data := <-got:
		if string(data) != string(payload) {
			t.Errorf("published %v, want %v", data, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not published")
	}

	conn.Close()
	eventually(t, func() bool { return b.Publishers(testAudioTopic) == 0 }, "producer withdrawn")
	eventually(t, func() bool {
		rec, ok := store.Bool("recording")
		return ok && !rec
	}, "recording cleared")
}

func TestWebSocketRecordingClearedByLastProducer(t *testing.T) {
	wst, b, store, base := newTestServer(t)

	first := dial(t, base+"/audio?recording=true")
	second := dial(t, base+"/audio?recording=true")
	eventually(t, func() bool { return b.Publishers(testAudioTopic) == 2 }, "both producers advertised")
	if n := wst.Producers(); n != 2 {
		t.Errorf("producers = %d, want 2", n)
	}

	first.Close()
	eventually(t, func() bool { return b.Publishers(testAudioTopic) == 1 }, "first producer withdrawn")
	if rec, ok := store.Bool("recording"); !ok || !rec {
		t.Errorf("recording = %v, %v; want true while a producer remains", rec, ok)
	}

	second.Close()
	eventually(t, func() bool {
		rec, ok := store.Bool("recording")
		return ok && !rec
	}, "recording cleared")
}

func TestCloseDisconnectsAudioProducers(t *testing.T) {
	wst, b, _, base := newTestServer(t)

	conn := dial(t, base+"/audio")
	eventually(t, func() bool { return wst.Producers() == 1 }, "producer registered")

	if err := wst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	eventually(t, func() bool { return b.Publishers(testAudioTopic) == 0 }, "producer withdrawn")
	eventually(t, func() bool { return wst.Producers() == 0 }, "producer untracked")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("producer connection still open after Close")
	}
}

func TestWebSocketCommandsAndBroadcast(t *testing.T) {
	wst, b, _, base := newTestServer(t)

	commands := make(chan string, 1)
	if _, err := b.Subscribe(testCommandTopic, 4, func(m bus.Message) { commands <- string(m.Data) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn := dial(t, base+"/events")
	eventually(t, func() bool { return wst.Clients() == 1 }, "client registered")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("e_start")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cmd := <-commands:
		if cmd != "e_start" {
			t.Errorf("command = %q, want e_start", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not published")
	}

	if err := wst.Send(map[string]any{"keyword_index": 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg["keyword_index"] != float64(1) {
		t.Errorf("broadcast = %v", msg)
	}
}

func TestSendCommand(t *testing.T) {
	_, b, _, base := newTestServer(t)

	commands := make(chan string, 1)
	if _, err := b.Subscribe(testCommandTopic, 4, func(m bus.Message) { commands <- string(m.Data) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := SendCommand(ctx, base+"/events", "e_stop"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	select {
	case cmd := <-commands:
		if cmd != "e_stop" {
			t.Errorf("command = %q, want e_stop", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not published")
	}
}

func TestSendCommandDialError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := SendCommand(ctx, "ws://127.0.0.1:1/events", "e_start"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSendAfterCloseDoesNotBlock(t *testing.T) {
	wst, _, _, _ := newTestServer(t)
	wst.Close()
	for i := 0; i < 300; i++ {
		if err := wst.Send(i); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	if err := lt.Send(map[string]int{"a": 1}); err != nil {
		t.Errorf("Send: %v", err)
	}
	if err := lt.Send(make(chan int)); err != nil {
		t.Errorf("Send unmarshalable: %v", err)
	}
	if err := lt.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

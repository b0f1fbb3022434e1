// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kwdetect/internal/bus"
	applog "kwdetect/internal/log"
	"kwdetect/internal/params"
)

// WebSocketOptions wires the WebSocket server to the bus.
type WebSocketOptions struct {
	Addr             string
	AudioTopic       string
	CommandTopic     string
	FrameLengthParam string
	RecordingParam   string
}

// WebSocketTransport bridges remote peers onto the bus.
//
// Endpoints:
//   - /audio: a remote audio producer. The connection is advertised on the
//     audio topic for its lifetime and every binary message is published as
//     one frame. Query parameters frame_length and recording are written to
//     the parameter store.
//   - /events: text messages are published on the command topic; detection
//     events passed to Send are broadcast to every connected client as JSON.
type WebSocketTransport struct {
	opts     WebSocketOptions
	bus      *bus.Bus
	params   *params.Store
	upgrader websocket.Upgrader
	log      *applog.Logger

	clients   map[*websocket.Conn]bool
	producers map[*websocket.Conn]bool
	clientsMu sync.Mutex // Guards clients and producers
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once

	server *http.Server
}

// NewWebSocketTransport creates the transport and starts its broadcast loop.
// Call Start to begin accepting connections.
func NewWebSocketTransport(opts WebSocketOptions, b *bus.Bus, store *params.Store) *WebSocketTransport {
	wst := &WebSocketTransport{
		opts:   opts,
		bus:    b,
		params: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:       applog.With("WebSocketTransport"),
		clients:   make(map[*websocket.Conn]bool),
		producers: make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		done:      make(chan struct{}),
	}
	wst.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           wst.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go wst.handleBroadcasts()
	return wst
}

// Handler returns the HTTP handler serving both endpoints.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio", wst.handleAudio)
	mux.HandleFunc("/events", wst.handleEvents)
	return mux
}

// Start serves until Close. It returns http.ErrServerClosed after Close.
func (wst *WebSocketTransport) Start() error {
	wst.log.Infof("Starting WebSocket server on %s", wst.opts.Addr)
	return wst.server.ListenAndServe()
}

// handleAudio accepts a remote audio producer.
func (wst *WebSocketTransport) handleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Errorf("Upgrade error: %v", err)
		return
	}
	if !wst.track(wst.producers, conn) {
		conn.Close()
		return
	}
	defer wst.untrack(wst.producers, conn)

	query := r.URL.Query()
	if v := query.Get("frame_length"); v != "" {
		wst.params.Set(wst.opts.FrameLengthParam, v)
	}
	recording := query.Get("recording")
	if recording != "" {
		wst.params.Set(wst.opts.RecordingParam, recording)
	}

	pub, err := wst.bus.Advertise(wst.opts.AudioTopic)
	if err != nil {
		wst.log.Errorf("Cannot advertise audio producer: %v", err)
		return
	}
	defer func() {
		pub.Close()
		// Other producers keep their recording status.
		if recording != "" && wst.bus.Publishers(wst.opts.AudioTopic) == 0 {
			wst.params.Set(wst.opts.RecordingParam, false)
		}
	}()
	wst.log.Infof("Audio producer connected from %s on %s", r.RemoteAddr, pub.Topic())

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			wst.log.Infof("Audio producer %s disconnected", r.RemoteAddr)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := pub.Publish(data); err != nil {
			return
		}
	}
}

// handleEvents accepts a command/event client.
func (wst *WebSocketTransport) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Errorf("Upgrade error: %v", err)
		return
	}

	if !wst.track(wst.clients, conn) {
		conn.Close()
		return
	}
	wst.log.Infof("Client connected, total: %d", wst.Clients())
	defer wst.untrack(wst.clients, conn)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := wst.bus.Publish(wst.opts.CommandTopic, data); err != nil {
			return
		}
	}
}

// track registers conn in set. It reports false once the transport is closed.
func (wst *WebSocketTransport) track(set map[*websocket.Conn]bool, conn *websocket.Conn) bool {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	select {
	case <-wst.done:
		return false
	default:
	}
	set[conn] = true
	return true
}

func (wst *WebSocketTransport) untrack(set map[*websocket.Conn]bool, conn *websocket.Conn) {
	wst.clientsMu.Lock()
	delete(set, conn)
	wst.clientsMu.Unlock()
	conn.Close()
}

// handleBroadcasts sends queued events to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				if err := client.WriteJSON(data); err != nil {
					wst.log.Errorf("Error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		case <-wst.done:
			return
		}
	}
}

// Send queues data for broadcast. A full queue drops the message.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case wst.broadcast <- data:
	default:
		wst.log.Warnf("Broadcast queue full, event dropped")
	}
	return nil
}

// Clients returns the number of connected /events clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Producers returns the number of connected /audio producers.
func (wst *WebSocketTransport) Producers() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.producers)
}

// Close shuts down the server and disconnects every client and producer.
// http.Server.Close leaves hijacked connections open.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		wst.clientsMu.Lock()
		close(wst.done)
		for client := range wst.clients {
			client.Close()
		}
		for producer := range wst.producers {
			producer.Close()
		}
		wst.clientsMu.Unlock()

		err = wst.server.Close()
	})
	return err
}

// SendCommand dials the /events endpoint at url and sends a single command.
func SendCommand(ctx context.Context, url, command string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(command)); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)

// Package server streams live telemetry to websocket clients and accepts
// flight commands from them.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/quadsim/internal/core/events/bus"
	"github.com/zeusync/quadsim/internal/core/flight"
	"github.com/zeusync/quadsim/internal/core/observability/log"
	"github.com/zeusync/quadsim/internal/core/telemetry"
)

// Envelope types.
const (
	TypeHello    = "hello"
	TypeSnapshot = "snapshot"
	TypeEvent    = "event"
	TypeAck      = "ack"
	TypeError    = "error"
)

// Config holds server configuration
type Config struct {
	// SendBuffer is the per-client outbound queue. A client whose queue is
	// full is disconnected.
	SendBuffer int
	// CommandBuffer bounds commands waiting for the simulation loop.
	CommandBuffer int
	// PublishEvery forwards one snapshot in n; 1 forwards all of them.
	PublishEvery   int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		CommandBuffer:  16,
		PublishEvery:   1,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Envelope is the JSON frame exchanged with clients.
type Envelope struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// EventPayload carries a bus event to clients.
type EventPayload struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Server is a websocket hub. Snapshots and events are broadcast to every
// client; inbound frames are parsed as commands and queued on Commands.
type Server struct {
	config   Config
	logger   log.Log
	upgrader websocket.Upgrader
	commands chan flight.Command

	mu      sync.RWMutex
	clients map[*client]struct{}

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	published  atomic.Uint64
	wg         sync.WaitGroup
}

func NewServer(config Config, logger log.Log) *Server {
	defaults := DefaultConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.CommandBuffer <= 0 {
		config.CommandBuffer = defaults.CommandBuffer
	}
	if config.PublishEvery <= 0 {
		config.PublishEvery = defaults.PublishEvery
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Server{
		config: config,
		logger: logger.With(log.String("component", "server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		commands: make(chan flight.Command, config.CommandBuffer),
		clients:  make(map[*client]struct{}),
	}
}

// Handler serves /ws and /healthz. It can be mounted without calling Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Wrapf(err, "listen %s", addr)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Telemetry server stopped", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	if !s.running.Load() || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down and disconnects every client.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}

	err := s.httpServer.Shutdown(ctx)
	s.disconnectAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.logger.Info("Server stopped")
	return err
}

// Commands yields commands received from clients. It is never closed.
func (s *Server) Commands() <-chan flight.Command { return s.commands }

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Publish broadcasts a snapshot, honouring PublishEvery.
func (s *Server) Publish(snapshot telemetry.Snapshot) {
	n := s.published.Add(1)
	if (n-1)%uint64(s.config.PublishEvery) != 0 {
		return
	}
	s.broadcast(Envelope{Type: TypeSnapshot, Data: snapshot})
}

// PublishEvent is a bus.EventHandler that forwards events to clients.
func (s *Server) PublishEvent(event bus.Event) error {
	if event == nil {
		return ErrInvalidMessage
	}
	s.broadcast(Envelope{Type: TypeEvent, Data: EventPayload{
		Type:      event.Type(),
		Source:    event.Source(),
		Timestamp: event.Timestamp(),
		Data:      event.Data(),
	}})
	return nil
}

// Recorder adapts the server to telemetry.Recorder. Closing it leaves the
// server running.
func (s *Server) Recorder() telemetry.Recorder { return recorder{s} }

type recorder struct{ s *Server }

func (r recorder) Record(snapshot telemetry.Snapshot) error {
	r.s.Publish(snapshot)
	return nil
}

func (recorder) Close() error { return nil }

// ParseCommand decodes a JSON command such as
// {"action":"move_to","position":{"x":1,"y":2,"z":3}}.
func ParseCommand(data []byte) (flight.Command, error) {
	var spec flight.CommandSpec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.Wrapf(ErrInvalidMessage, "decode command: %v", err)
	}
	return spec.Command()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.config.SendBuffer),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("Client connected",
		log.String("client_id", c.id),
		log.String("remote_addr", conn.RemoteAddr().String()))

	s.reply(c, Envelope{Type: TypeHello, Data: map[string]string{"client_id": c.id}})

	s.wg.Add(2)
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	c.conn.SetReadLimit(s.config.MaxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Client read failed", log.String("client_id", c.id), log.Error(err))
			}
			return
		}
		s.handleMessage(c, data)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		s.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(c *client, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		s.reply(c, Envelope{Type: TypeError, Error: err.Error()})
		return
	}

	select {
	case s.commands <- cmd:
		s.reply(c, Envelope{Type: TypeAck, Data: map[string]string{"command": cmd.Name()}})
	default:
		s.reply(c, Envelope{Type: TypeError, Error: ErrCommandQueueFull.Error()})
	}
}

func (s *Server) reply(c *client, env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("Failed to encode reply", log.Error(err))
		return
	}

	s.mu.RLock()
	_, ok := s.clients[c]
	full := false
	if ok {
		select {
		case c.send <- msg:
		default:
			full = true
		}
	}
	s.mu.RUnlock()

	if full {
		s.removeClient(c)
	}
}

func (s *Server) broadcast(env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("Failed to encode broadcast", log.String("type", env.Type), log.Error(err))
		return
	}

	var slow []*client
	s.mu.RLock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Warn("Dropping slow client", log.String("client_id", c.id))
		s.removeClient(c)
	}
}

// removeClient is the only place a send channel is closed; it runs under the
// write lock so broadcasts never see a closed channel.
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func (s *Server) disconnectAll() {
	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

// Package monitor provides a real-time WebSocket feed of reconciliation
// activity.
//
// The daemon broadcasts applied changes, reconciliation failures and drain
// summaries to connected clients, so a browser extension popup or a
// debugging session can watch sync activity live. The monitor implements
// reconciler.Notifier; when it is not running, notifications fall through
// to the engine's no-op path.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/marksync/marksync/internal/reconciler"
)

// MessageType tags a monitor broadcast.
type MessageType string

const (
	// MessageTypeChange reports one applied canonical change.
	MessageTypeChange MessageType = "change_applied"

	// MessageTypeFailure reports one failed reconciliation.
	MessageTypeFailure MessageType = "reconcile_failed"

	// MessageTypeDrain reports a completed drain of the event queue.
	MessageTypeDrain MessageType = "drain_complete"
)

// Message is one monitor broadcast.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChangeData describes an applied change.
type ChangeData struct {
	Kind     string `json:"kind"` // add, modify, move, remove, reorder
	SyncedID int    `json:"syncedId,omitempty"`
	ParentID int    `json:"parentId,omitempty"`
	Title    string `json:"title,omitempty"`
}

// FailureData describes a failed reconciliation.
type FailureData struct {
	Error string `json:"error"`
	Fatal bool   `json:"fatal"`
}

// DrainData summarizes one drain.
type DrainData struct {
	Events     int    `json:"events"`
	Applied    int    `json:"applied"`
	Dropped    int    `json:"dropped"`
	Failed     int    `json:"failed"`
	SyncError  string `json:"syncError,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Server manages WebSocket connections and broadcasts monitor messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8485). The monitor carries
	// bookmark titles, so it binds to loopback unless told otherwise.
	Addr string

	// Logger for server activity (default: the standard logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8485",
		Logger: log.Default(),
	}
}

// NewServer creates a monitor server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      config.Addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("monitor listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("monitor server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "monitor shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("monitor shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ChangeApplied implements reconciler.Notifier.
func (s *Server) ChangeApplied(c reconciler.Change) {
	data := ChangeData{}
	switch ch := c.(type) {
	case reconciler.Add:
		data.Kind = "add"
		data.ParentID = ch.ParentID
		if ch.Node != nil {
			data.Title = ch.Node.Title
		}
	case reconciler.Modify:
		data.Kind = "modify"
		data.SyncedID = ch.SyncedID
		data.Title = ch.Title
	case reconciler.Move:
		data.Kind = "move"
		data.SyncedID = ch.SyncedID
		data.ParentID = ch.ParentID
	case reconciler.Remove:
		data.Kind = "remove"
		data.SyncedID = ch.SyncedID
	case reconciler.Reorder:
		data.Kind = "reorder"
		data.ParentID = ch.ParentID
	default:
		data.Kind = fmt.Sprintf("%T", c)
	}
	s.send(MessageTypeChange, data)
}

// ReconcileFailed implements reconciler.Notifier.
func (s *Server) ReconcileFailed(err error) {
	s.send(MessageTypeFailure, FailureData{Error: err.Error(), Fatal: reconciler.IsFatal(err)})
}

// DrainComplete implements reconciler.Notifier.
func (s *Server) DrainComplete(stats reconciler.DrainStats) {
	data := DrainData{
		Events:     stats.Events,
		Applied:    stats.Applied,
		Dropped:    stats.Dropped,
		Failed:     stats.Failed,
		DurationMs: stats.Duration.Milliseconds(),
	}
	if stats.SyncErr != nil {
		data.SyncError = stats.SyncErr.Error()
	}
	s.send(MessageTypeDrain, data)
}

func (s *Server) send(typ MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("monitor: failed to marshal %s payload: %v", typ, err)
		return
	}
	msg := Message{Type: typ, Timestamp: time.Now(), Data: data}
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("monitor: broadcast channel full, dropping %s", typ)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("monitor: failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Writes happen outside the lock so a slow client cannot
			// block new registrations.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("monitor: failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("monitor: upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("monitor: client connected (total: %d)", count)

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects disconnects. Client
// messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("monitor: client disconnected (total: %d)", count)
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

var _ reconciler.Notifier = (*Server)(nil)

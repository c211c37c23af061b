package hmr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pcf-tools/pcf-dev-proxy/internal/runtimejs"
)

// ErrAddrInUse marks a bind failure caused by another process holding the port.
var ErrAddrInUse = errors.New("address already in use")

// Server is the control-plane HTTP + WebSocket listener.
//
// It binds 127.0.0.1 only: reloads are a local developer loop, never remote
// input.
type Server struct {
	// port is the listener port.
	port int

	// fallbackControl is used for reload requests without a controlName.
	fallbackControl string

	// dispatcher owns queue and last-ack state.
	dispatcher *Dispatcher

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	clients  map[*wsClient]struct{}
	closed   bool
}

// NewServer creates the control plane.
//
// Parameters:
//   - port: Listener port
//   - fallbackControl: Default control name for reload requests
//
// Returns:
//   - *Server: A new server instance
func NewServer(port int, fallbackControl string) *Server {
	s := &Server{
		port:            port,
		fallbackControl: fallbackControl,
		clients:         make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Pages on any MITM'd origin must be able to connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.dispatcher = NewDispatcher(s.broadcast)
	return s
}

// Dispatcher exposes the queue for the watcher and tests.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Start binds the listener and serves in the background until Close.
//
// Returns:
//   - error: ErrAddrInUse (wrapped) on a bind conflict, otherwise any
//     listener setup error. Serve errors after a successful bind are
//     logged, not returned.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use") {
			return fmt.Errorf("%w: port %d", ErrAddrInUse, s.port)
		}
		return fmt.Errorf("failed to bind control plane: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Control plane stopped", "err", err)
		}
	}()

	log.Debug("Control plane listening", "addr", addr)
	return nil
}

// Close shuts the control plane down: outstanding timeouts are cleared,
// every client socket is closed, then the HTTP listener is released. It
// returns once the listener socket is free. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()

	s.dispatcher.Close()

	for _, c := range clients {
		close(c.send)
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// routes builds the chi router with the CORS policy applied everywhere.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/runtime.js", s.handleRuntime)
	r.Get("/last-ack", s.handleLastAck)
	r.Post("/reload", s.handleReload)
	r.Post("/ack", s.handleAck)
	r.Get("/ws", s.handleWS)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})

	return r
}

// corsMiddleware applies the control plane's permissive CORS policy and
// answers preflights with 204.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"type":   "pcf-dev-proxy-hmr",
	})
}

// handleRuntime serves the in-page runtime for transports that load it out
// of band (e.g. a browser-extension bridge) instead of via bundle injection.
func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(runtimejs.Source() + "\n"))
}

func (s *Server) handleLastAck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.LastAcks())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	req := ToReloadRequest(body, s.fallbackControl)
	msg := s.dispatcher.EnqueueReload(req)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": true,
		"id":       msg.Id,
	})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	ack, err := ToReloadAck(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.dispatcher.CompleteAck(ack)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleWS upgrades a runtime connection and reads ack frames until the
// socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("WebSocket upgrade failed", "err", err)
		return
	}

	client := newWSClient(uuid.NewString(), conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	log.Debug("Runtime connected", "client", client.id, "total", count)
	go client.writePump()

	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		conn.Close()
		log.Debug("Runtime disconnected", "client", client.id)
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(raw)
	}
}

// handleFrame processes one inbound WebSocket frame. Only ack frames exist;
// malformed frames are silently ignored.
func (s *Server) handleFrame(raw []byte) {
	var frame struct {
		Type    string      `json:"type"`
		Payload interface{} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	if frame.Type != AckFrameType {
		return
	}
	ack, err := ToReloadAck(frame.Payload)
	if err != nil {
		log.Debug("Malformed ack frame dropped", "err", err)
		return
	}
	s.dispatcher.CompleteAck(ack)
}

// broadcast fans one reload out to every connected client. Clients whose
// send buffer is full are skipped; the latest-wins queue re-dispatches
// anyway once they drain or reconnect.
func (s *Server) broadcast(msg ReloadMessage) int {
	frame, err := json.Marshal(map[string]interface{}{
		"type":    ReloadFrameType,
		"payload": msg,
	})
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receivers := 0
	for client := range s.clients {
		select {
		case client.send <- frame:
			receivers++
		default:
			log.Warn("Client send buffer full, skipping", "client", client.id)
		}
	}
	return receivers
}

// writeJSON writes a JSON response body with status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug("Response write failed", "err", err)
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"shopbot/pkg/bus"
	"shopbot/pkg/cron"
	"shopbot/pkg/logger"
	"shopbot/pkg/messaging"
	"shopbot/pkg/session"
)

const eventWriteTimeout = 5 * time.Second

// SessionView is the read side of the session manager the gateway exposes.
type SessionView interface {
	Snapshot() session.Snapshot
	PairingCode() string
}

type JobView interface {
	Status() cron.Status
}

type Options struct {
	Host    string
	Port    int
	Session SessionView
	Jobs    JobView
	Bus     *bus.MessageBus
}

type StatusResponse struct {
	Session    session.Snapshot            `json:"session"`
	Reminders  *cron.Status                `json:"reminders,omitempty"`
	LastEvents map[bus.EventType]bus.Event `json:"lastEvents,omitempty"`
	Time       time.Time                   `json:"time"`
}

type Server struct {
	server   *http.Server
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/qr.png", s.handleQR)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/", s.handleRoot)
	return s.withCORS(mux)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.InfoCF("server", "Starting HTTP server", map[string]interface{}{
		"addr": addr,
	})

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("server", "HTTP server failed", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		logger.InfoC("server", "Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	state := messaging.StateDisconnected
	if s.opts.Session != nil {
		state = s.opts.Session.Snapshot().State
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Shopbot Gateway Running\nSession: %s\nTime: %s", state, time.Now().Format(time.RFC3339))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{Time: time.Now().UTC()}
	if s.opts.Session != nil {
		resp.Session = s.opts.Session.Snapshot()
	} else {
		resp.Session.State = messaging.StateDisconnected
	}
	if s.opts.Jobs != nil {
		st := s.opts.Jobs.Status()
		resp.Reminders = &st
	}
	if s.opts.Bus != nil {
		resp.LastEvents = map[bus.EventType]bus.Event{}
		for _, t := range []bus.EventType{bus.EventStatus, bus.EventReady, bus.EventDisconnected, bus.EventInitFailed} {
			if ev, ok := s.opts.Bus.LastEvent(t); ok {
				resp.LastEvents[t] = ev
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.WarnCF("server", "Failed to write status", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
}

// handleQR renders the pending pairing code. 404 means the device is paired
// or no code has been issued yet.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	code := ""
	if s.opts.Session != nil {
		code = s.opts.Session.PairingCode()
	}
	if code == "" {
		http.Error(w, "no pairing code pending", http.StatusNotFound)
		return
	}
	png, err := messaging.QRPNG(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

// handleEvents streams session events over a websocket. The latest status
// event, if any, is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Bus == nil {
		http.Error(w, "events unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("server", "Websocket upgrade failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return
	}
	defer conn.Close()

	events, cancel := s.opts.Bus.SubscribeEvents()
	defer cancel()

	// drain client frames so close and ping are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if ev, ok := s.opts.Bus.LastEvent(bus.EventStatus); ok {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				logger.DebugCF("server", "Event stream closed", map[string]interface{}{
					logger.FieldError: err.Error(),
				})
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev bus.Event) error {
	conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return conn.WriteJSON(ev)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultTelemetryInterval = 100 * time.Millisecond
	DefaultPingPeriod        = 15 * time.Second

	writeWait = 10 * time.Second
)

var sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "snapvault_sessions_active",
	Help: "Number of connected control sessions",
})

// MemoryInfo reports the process heap in use against memory obtained from
// the OS, e.g. "12 MB / 40 MB".
func MemoryInfo() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf("%d MB / %d MB", m.HeapAlloc>>20, m.Sys>>20)
}

// Options configures a Server.
type Options struct {
	// TelemetryInterval is the MEMORY push period.
	TelemetryInterval time.Duration
	// PingPeriod is the keepalive period. A peer silent for two periods is
	// dropped.
	PingPeriod time.Duration
	// Memory produces the MEMORY payload. Defaults to MemoryInfo.
	Memory func() string
	Logger *slog.Logger
}

// Server is an http.Handler serving control sessions over websockets.
type Server struct {
	handler  *Handler
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*conn
}

func NewServer(handler *Handler, opts Options) *Server {
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = DefaultTelemetryInterval
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	if opts.Memory == nil {
		opts.Memory = MemoryInfo
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		opts:    opts,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*conn),
	}
}

// conn is one control session. Writes are serialized; the telemetry
// goroutine and the command loop share the connection.
type conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	wmu    sync.Mutex
}

func (c *conn) write(msg string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &conn{id: uuid.New().String(), remote: r.RemoteAddr, ws: ws}
	logger := s.logger.With("session", c.id, "remote", c.remote)

	s.register(c)
	defer s.unregister(c)
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	telemetryDone := make(chan struct{})
	go func() {
		defer close(telemetryDone)
		s.telemetry(ctx, c, logger)
	}()
	defer func() {
		cancel()
		<-telemetryDone
	}()

	logger.Info("client connected")

	timeout := 2 * s.opts.PingPeriod
	ws.SetReadDeadline(time.Now().Add(timeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("client connection lost", "error", err)
			} else {
				logger.Info("client disconnected")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg := string(data)
		logger.Debug("command received", "message", msg)
		for _, reply := range s.handler.Handle(ctx, msg) {
			if err := c.write(reply); err != nil {
				logger.Warn("failed to write reply", "error", err)
				return
			}
		}
		// Pongs are not read while a command runs.
		ws.SetReadDeadline(time.Now().Add(timeout))
	}
}

// telemetry pushes MEMORY frames and pings until ctx ends or a write fails.
func (s *Server) telemetry(ctx context.Context, c *conn, logger *slog.Logger) {
	memory := time.NewTicker(s.opts.TelemetryInterval)
	defer memory.Stop()
	ping := time.NewTicker(s.opts.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-memory.C:
			if err := c.write(PrefixMemory + s.opts.Memory()); err != nil {
				logger.Debug("telemetry stopped", "error", err)
				c.ws.Close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("ping failed", "error", err)
				c.ws.Close()
				return
			}
		}
	}
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	sessionsActive.Inc()
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	sessionsActive.Dec()
}

// ConnectedClients maps the remote address of each live session to its id.
func (s *Server) ConnectedClients() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.clients))
	for id, c := range s.clients {
		out[c.remote] = id
	}
	return out
}

// Close drops every live session. http.Server.Shutdown does not track
// hijacked websocket connections.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.wmu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		c.ws.Close()
	}
}

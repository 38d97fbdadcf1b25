// Package websocket pushes render events to local viewers. Each connection
// first receives a welcome frame carrying the rendered board, then every
// render event in sequence order. A viewer drops any event whose sequence
// is not above the welcome's.
package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxConnections  int

	// AllowedOrigins lists the origins a browser viewer may connect from.
	// Empty allows same-host requests only; "*" allows any origin.
	AllowedOrigins []string
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		MaxConnections:  64,
	}
}

// Server upgrades viewer requests and hands the connections to the hub.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	max      int
	logger   *zap.Logger
}

// NewServer creates a server for hub.
func NewServer(hub *Hub, config ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
		max:    config.MaxConnections,
		logger: logger.Named("websocket"),
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.max > 0 && s.hub.ClientCount() >= s.max {
		s.logger.Warn("Connection limit exceeded",
			zap.Int("connections", s.hub.ClientCount()),
			zap.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Warn("Failed to upgrade connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(s.hub, conn, s.logger)
	client.Start()

	s.logger.Info("Viewer connected",
		zap.String("connection_id", client.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	anyOrigin := false
	for _, o := range allowed {
		if o == "*" {
			anyOrigin = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		if set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/lguibr/lockstep/bollywood"
	"github.com/lguibr/lockstep/utils"
	"golang.org/x/net/websocket"
)

// Server is the websocket entry point: it accepts connections, enforces the
// origin policy, and spawns one ConnectionActor per socket.
type Server struct {
	engine    *bollywood.Engine
	log       *slog.Logger
	cfg       utils.Config
	serverPID *bollywood.PID
}

// New creates a Server in front of the given server actor.
func New(engine *bollywood.Engine, log *slog.Logger, cfg utils.Config, serverPID *bollywood.PID) *Server {
	return &Server{
		engine:    engine,
		log:       log,
		cfg:       cfg,
		serverPID: serverPID,
	}
}

// WebsocketServer builds the handler with the origin handshake wired in.
func (s *Server) WebsocketServer() websocket.Server {
	return websocket.Server{
		Handshake: s.checkOrigin,
		Handler:   s.handleConnection,
	}
}

// checkOrigin enforces the Origin header when TLS is enabled. Loopback peers
// bypass the check so local tooling keeps working.
func (s *Server) checkOrigin(config *websocket.Config, req *http.Request) error {
	if s.cfg.TLSCert == "" {
		return nil
	}

	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return nil
		}
	}

	origin := req.Header.Get("Origin")
	if origin == "" {
		return fmt.Errorf("missing origin header")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("bad origin header %q", origin)
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(u.Hostname(), allowed) {
			return nil
		}
	}
	s.log.Warn("rejected websocket origin",
		slog.String("origin", origin),
		slog.String("remote", req.RemoteAddr))
	return fmt.Errorf("origin %q not allowed", origin)
}

// handleConnection runs for the lifetime of one websocket. The actor owns
// the socket; the handler just blocks until the actor is done so the
// websocket package does not close the connection early.
func (s *Server) handleConnection(ws *websocket.Conn) {
	ws.MaxPayloadBytes = utils.MaxMessageBytes

	done := make(chan struct{})
	pid := s.engine.Spawn(bollywood.NewProps(NewConnectionProducer(ConnectionArgs{
		Conn:      ws,
		Engine:    s.engine,
		Log:       s.log,
		ServerPID: s.serverPID,
		Done:      done,
	})))
	if pid == nil {
		_ = ws.Close()
		return
	}
	<-done
}

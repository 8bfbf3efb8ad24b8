// Package server implements the loopback protocol server: it accepts
// websocket connections from local processes, runs the
// authentication-then-operation state machine for each, and surfaces two
// events to the host application — an authorization decision request and
// a validated menu-display request with reply callbacks.
package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orbitmenu/orbit/internal/menu"
	"github.com/orbitmenu/orbit/internal/protocol"
	"github.com/orbitmenu/orbit/internal/trust"
)

// Decision is the host application's answer to an authorization request.
type Decision int

const (
	// DecisionAccept grants the requested permissions and issues a token.
	DecisionAccept Decision = iota
	// DecisionDecline refuses and blocks the identity permanently (until
	// the host unblocks it).
	DecisionDecline
	// DecisionCancel dismisses the request without blocking; the client
	// may ask again.
	DecisionCancel
)

// MenuCallbacks are the reply handles handed to the host application
// alongside a menu-display request. Each invocation serializes exactly
// one outbound message on the originating connection; invocations after
// the connection closed are dropped.
type MenuCallbacks struct {
	Select func(menu.Path)
	Hover  func(menu.Path)
	Close  func()
}

// Handler carries the host application's callbacks, injected at
// construction. OnAuthRequest receives a one-shot respond function; the
// connection stays suspended until it is invoked. OnShowMenu receives
// the validated menu tree and its reply callbacks.
type Handler struct {
	OnAuthRequest func(identity string, perms []protocol.Permission, respond func(Decision))
	OnShowMenu    func(root menu.Item, callbacks MenuCallbacks)
}

// Server binds a loopback socket and relays between connected clients
// and the host application. It never interprets menu trees itself.
type Server struct {
	store    *trust.Store
	handler  Handler
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	conns    map[*conn]struct{}
	closed   bool
}

// New creates a server backed by the given trust store and host handler.
func New(store *trust.Store, handler Handler) *Server {
	return &Server{
		store:   store,
		handler: handler,
		conns:   make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			// The trust boundary is the local machine; browser pages
			// carry an Origin header and are not local processes.
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == ""
			},
		},
	}
}

// Listen binds 127.0.0.1 on the given port (0 picks an ephemeral one)
// and starts serving connections. It returns the bound port.
func (s *Server) Listen(port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("server: already closed")
	}
	if s.listener != nil {
		return 0, errors.New("server: already listening")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return 0, fmt.Errorf("server: bind loopback: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] serve: %v", err)
		}
	}()

	boundPort := listener.Addr().(*net.TCPAddr).Port
	log.Printf("[Server] listening on 127.0.0.1:%d", boundPort)
	return boundPort, nil
}

// Port returns the bound port, or 0 when not listening.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops the listener and tears down every connection. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	httpSrv := s.httpSrv
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if httpSrv != nil {
		err = httpSrv.Close()
	}
	// Closing an http.Server does not reach hijacked websocket
	// connections; close them explicitly.
	for _, c := range conns {
		c.closeSocket()
	}
	return err
}

// handleWebSocket upgrades an HTTP request and starts the connection's
// pump goroutines.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] websocket upgrade: %v", err)
		return
	}

	c := &conn{
		id:      uuid.NewString(),
		ws:      ws,
		server:  s,
		inbound: make(chan []byte, 16),
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	go c.writePump()
	go c.processLoop()
	go c.readPump()
}

// removeConn forgets a finished connection.
func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

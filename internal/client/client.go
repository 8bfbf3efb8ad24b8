// Package client is the reference protocol client: it locates the
// daemon through the discovery file, performs the handshake (token reuse
// or fresh authorization request), and exposes a small show-menu API
// with selection, hover, and cancel events.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbitmenu/orbit/internal/config"
	"github.com/orbitmenu/orbit/internal/discovery"
	"github.com/orbitmenu/orbit/internal/menu"
	"github.com/orbitmenu/orbit/internal/protocol"
)

const handshakeTimeout = 10 * time.Second

var (
	// ErrVersionMismatch means the daemon speaks a different protocol
	// version; there is no negotiation, the client must not connect.
	ErrVersionMismatch = errors.New("client: protocol version mismatch")
	// ErrNotAuthenticated is returned by ShowMenu before a successful Init.
	ErrNotAuthenticated = errors.New("client: not authenticated")
	// ErrClosed is returned when the connection has been closed.
	ErrClosed = errors.New("client: connection closed")
)

// DeclineError carries the server's enumerated reason for refusing
// authentication.
type DeclineError struct {
	Reason protocol.DeclineReason
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("client: authentication declined: %s", e.Reason)
}

// Options configures a Client. Identity is the free-form display name
// used as the trust key; Token, when set, switches the handshake from a
// fresh authorization request to token reuse. The event callbacks fire
// from the read goroutine once authenticated.
type Options struct {
	Identity      string
	Token         string
	DiscoveryPath string // defaults to the default instance's discovery file

	OnSelect func(path menu.Path)
	OnHover  func(path menu.Path)
	OnCancel func()
}

type authResult struct {
	token string
	perms []protocol.Permission
	err   error
}

// Client is a connection to the daemon. Init must succeed before
// ShowMenu is usable.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu            sync.Mutex
	ws            *websocket.Conn
	authenticated bool
	closed        bool
	token         string
	perms         []protocol.Permission

	writeMu sync.Mutex

	authOnce sync.Once
	authCh   chan authResult
}

// New creates a client; it does not connect until Init.
func New(opts Options) *Client {
	if opts.DiscoveryPath == "" {
		opts.DiscoveryPath = config.GetInstancePaths(config.DefaultInstance).Discovery
	}
	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		authCh: make(chan authResult, 1),
	}
}

// Init reads the discovery file, connects, and performs the handshake.
// It is a one-shot operation: once it has returned, further protocol
// traffic is routed to the event callbacks. On success it returns the
// (possibly freshly issued) token and the granted permissions.
func (c *Client) Init(ctx context.Context) (string, []protocol.Permission, error) {
	rec, err := discovery.Read(c.opts.DiscoveryPath)
	if err != nil {
		return "", nil, err
	}
	if rec.APIVersion != protocol.APIVersion {
		return "", nil, fmt.Errorf("%w: daemon speaks version %d, this client speaks %d",
			ErrVersionMismatch, rec.APIVersion, protocol.APIVersion)
	}

	ws, _, err := c.dialer.DialContext(ctx, fmt.Sprintf("ws://127.0.0.1:%d/", rec.Port), nil)
	if err != nil {
		return "", nil, fmt.Errorf("client: dial daemon on port %d: %w", rec.Port, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return "", nil, ErrClosed
	}
	c.ws = ws
	c.mu.Unlock()

	var handshake protocol.Message
	if c.opts.Token != "" {
		handshake = protocol.NewAuth(c.opts.Identity, c.opts.Token)
	} else {
		handshake = protocol.NewAuthRequest(c.opts.Identity, []protocol.Permission{protocol.PermissionShowMenu})
	}
	if err := c.writeMessage(handshake); err != nil {
		c.Close()
		return "", nil, err
	}

	go c.readLoop()

	select {
	case result := <-c.authCh:
		if result.err != nil {
			c.Close()
			return "", nil, result.err
		}
		c.mu.Lock()
		c.authenticated = true
		c.token = result.token
		c.perms = result.perms
		c.mu.Unlock()
		return result.token, result.perms, nil
	case <-ctx.Done():
		c.Close()
		return "", nil, ctx.Err()
	}
}

// ShowMenu asks the daemon to display the given tree. Fire-and-forget:
// outcomes arrive later through the event callbacks.
func (c *Client) ShowMenu(root menu.Item) error {
	c.mu.Lock()
	authenticated := c.authenticated
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !authenticated {
		return ErrNotAuthenticated
	}

	if err := menu.Validate(root); err != nil {
		return err
	}
	return c.writeMessage(protocol.NewShowMenu(root))
}

// Token returns the token established by Init.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Permissions returns the permissions granted during Init.
func (c *Client) Permissions() []protocol.Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Permission(nil), c.perms...)
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.deliverAuthResult(authResult{err: ErrClosed})
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// readLoop dispatches inbound traffic. Before authentication only the
// handshake response is acted on; everything else is ignored.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			c.deliverAuthResult(authResult{err: fmt.Errorf("client: connection lost: %w", err)})
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[Client] discarding undecodable message: %v", err)
			continue
		}

		c.mu.Lock()
		authenticated := c.authenticated
		c.mu.Unlock()

		if !authenticated {
			switch m := msg.(type) {
			case protocol.AuthAccepted:
				c.deliverAuthResult(authResult{token: m.Token, perms: m.Permissions})
			case protocol.AuthDeclined:
				c.deliverAuthResult(authResult{err: &DeclineError{Reason: m.Reason}})
			}
			continue
		}

		switch m := msg.(type) {
		case protocol.SelectItem:
			if c.opts.OnSelect != nil {
				c.opts.OnSelect(m.Path)
			}
		case protocol.HoverItem:
			if c.opts.OnHover != nil {
				c.opts.OnHover(m.Path)
			}
		case protocol.CloseMenu:
			if c.opts.OnCancel != nil {
				c.opts.OnCancel()
			}
		case protocol.ErrorMessage:
			log.Printf("[Client] server error: %s", m.Error)
		}
	}
}

// deliverAuthResult resolves the one-shot Init handshake.
func (c *Client) deliverAuthResult(result authResult) {
	c.authOnce.Do(func() { c.authCh <- result })
}

// writeMessage serializes one message onto the socket. gorilla/websocket
// allows a single concurrent writer, hence the write lock.
func (c *Client) writeMessage(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("client: send %s: %w", m.MessageType(), err)
	}
	return nil
}

package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbitmenu/orbit/internal/menu"
	"github.com/orbitmenu/orbit/internal/protocol"
)

type connState int

const (
	stateUnauthenticated connState = iota
	statePendingAuth
	stateAuthenticated
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// conn is one client connection, served by three goroutines: readPump
// moves frames off the socket, processLoop runs the state machine, and
// writePump drains the send channel. Keeping the socket reader separate
// from processing means a peer disconnect is noticed even while the
// state machine is suspended on a pending authorization decision.
// State and identity are only touched from processLoop, so the state
// machine itself needs no lock.
type conn struct {
	id     string
	ws     *websocket.Conn
	server *Server

	inbound chan []byte
	send    chan []byte

	done      chan struct{}
	closeOnce sync.Once

	state    connState
	identity string
}

// closeSocket tears the connection down exactly once, from whichever
// side notices first.
func (c *conn) closeSocket() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readPump moves text frames from the socket into the inbound channel.
// A read error, including the peer closing, tears the connection down.
func (c *conn) readPump() {
	defer c.closeSocket()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Server] connection %s: %v", c.id, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		select {
		case c.inbound <- data:
		case <-c.done:
			return
		}
	}
}

// processLoop drives the state machine. One inbound message produces at
// most one outbound message or one upward event before the next message
// is handled; during a pending authorization decision no further
// messages are processed at all (they wait in the inbound channel).
func (c *conn) processLoop() {
	defer func() {
		c.server.removeConn(c)
		c.closeSocket()
	}()

	for {
		select {
		case data := <-c.inbound:
			c.handleData(data)
		case <-c.done:
			return
		}
	}
}

// writePump drains the send channel onto the socket and pings the peer
// so dead connections surface as write errors.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) handleData(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidJSON) {
			c.sendError("Invalid JSON")
		} else {
			c.sendError("Unknown or malformed message")
		}
		return
	}

	switch c.state {
	case stateUnauthenticated:
		switch m := msg.(type) {
		case protocol.Auth:
			c.handleAuth(m)
		case protocol.AuthRequest:
			c.handleAuthRequest(m)
		default:
			c.sendError("Not authenticated")
		}
	case stateAuthenticated:
		switch m := msg.(type) {
		case protocol.ShowMenu:
			c.handleShowMenu(m)
		case protocol.Auth, protocol.AuthRequest:
			// Authentication is monotonic per connection;
			// re-authentication requires a new connection.
			c.sendError("Already authenticated")
		default:
			c.sendError("Unexpected message")
		}
	}
}

// handleAuth authenticates a returning client against its stored token.
func (c *conn) handleAuth(m protocol.Auth) {
	if m.APIVersion != protocol.APIVersion {
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonVersionNotSupported))
		return
	}

	ok, reason := c.server.store.Authenticate(m.ClientName, m.Token)
	if !ok {
		c.sendMessage(protocol.NewAuthDeclined(reason))
		return
	}

	c.identity = m.ClientName
	c.state = stateAuthenticated
	log.Printf("[Server] client %q authenticated (connection %s)", c.identity, c.id)
	c.sendMessage(protocol.NewAuthAccepted(m.Token, c.server.store.Permissions(m.ClientName)))
}

// handleAuthRequest runs the one asynchronous, externally paced step of
// the protocol: it hands the request to the host application and
// suspends this connection until the host answers. The respond function
// is one-shot; if the socket closes while the decision is pending, the
// eventual answer is dropped without touching the trust store.
func (c *conn) handleAuthRequest(m protocol.AuthRequest) {
	if m.APIVersion != protocol.APIVersion {
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonVersionNotSupported))
		return
	}
	if c.server.store.IsClientBlocked(m.ClientName) {
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonClientBlocked))
		return
	}
	// An identity goes through the request flow at most once; after that
	// it must reuse its issued token.
	if c.server.store.IsKnownClient(m.ClientName) {
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonAlreadyAuthenticated))
		return
	}
	if !protocol.ValidPermissions(m.Permissions) {
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonInvalidPermissions))
		return
	}
	if c.server.handler.OnAuthRequest == nil {
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonCanceled))
		return
	}

	c.state = statePendingAuth
	decisionCh := make(chan Decision, 1)
	var once sync.Once
	respond := func(d Decision) {
		once.Do(func() { decisionCh <- d })
	}

	c.server.handler.OnAuthRequest(m.ClientName, m.Permissions, respond)

	select {
	case decision := <-decisionCh:
		c.finishAuthRequest(m, decision)
	case <-c.done:
		log.Printf("[Server] connection %s closed while authorization for %q was pending", c.id, m.ClientName)
	}
}

func (c *conn) finishAuthRequest(m protocol.AuthRequest, decision Decision) {
	switch decision {
	case DecisionAccept:
		token, err := c.server.store.AcceptAuth(m.ClientName, m.Permissions)
		if err != nil {
			// The grant holds in memory but may not survive a restart.
			log.Printf("[Server] accept auth for %q: %v", m.ClientName, err)
		}
		if token == "" {
			c.state = stateUnauthenticated
			c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonCanceled))
			return
		}
		c.identity = m.ClientName
		c.state = stateAuthenticated
		log.Printf("[Server] client %q authorized with permissions %v (connection %s)", c.identity, m.Permissions, c.id)
		c.sendMessage(protocol.NewAuthAccepted(token, m.Permissions))

	case DecisionDecline:
		if err := c.server.store.BlockClient(m.ClientName); err != nil {
			log.Printf("[Server] block %q: %v", m.ClientName, err)
		}
		c.state = stateUnauthenticated
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonClientBlocked))

	case DecisionCancel:
		c.state = stateUnauthenticated
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonCanceled))

	default:
		log.Printf("[Server] unknown decision %d for %q, treating as cancel", decision, m.ClientName)
		c.state = stateUnauthenticated
		c.sendMessage(protocol.NewAuthDeclined(protocol.ReasonCanceled))
	}
}

// handleShowMenu relays a validated menu tree upward. The server keeps
// no copy of the tree; the callbacks are the only link back to this
// connection.
func (c *conn) handleShowMenu(m protocol.ShowMenu) {
	if c.server.handler.OnShowMenu == nil {
		c.sendError("Menu display unavailable")
		return
	}

	callbacks := MenuCallbacks{
		Select: func(p menu.Path) { c.sendMessage(protocol.NewSelectItem(p)) },
		Hover:  func(p menu.Path) { c.sendMessage(protocol.NewHoverItem(p)) },
		Close:  func() { c.sendMessage(protocol.NewCloseMenu()) },
	}
	c.server.handler.OnShowMenu(m.Menu, callbacks)
}

// sendMessage queues an outbound message, giving up when the connection
// is gone.
func (c *conn) sendMessage(m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		log.Printf("[Server] encode %s: %v", m.MessageType(), err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *conn) sendError(text string) {
	c.sendMessage(protocol.NewError(text))
}

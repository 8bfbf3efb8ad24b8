package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orbitmenu/orbit/internal/discovery"
	"github.com/orbitmenu/orbit/internal/menu"
	"github.com/orbitmenu/orbit/internal/protocol"
	"github.com/orbitmenu/orbit/internal/server"
	"github.com/orbitmenu/orbit/internal/trust"
)

const eventTimeout = 2 * time.Second

type backend struct {
	store         *trust.Store
	srv           *server.Server
	discoveryPath string
}

func startBackend(t *testing.T, handler server.Handler) *backend {
	t.Helper()
	dir := t.TempDir()

	store, err := trust.Open(filepath.Join(dir, "trust.json"))
	if err != nil {
		t.Fatalf("open trust store: %v", err)
	}

	srv := server.New(store, handler)
	port, err := srv.Listen(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	discoveryPath := filepath.Join(dir, "discovery.json")
	if err := discovery.Write(discoveryPath, port); err != nil {
		t.Fatalf("write discovery file: %v", err)
	}

	return &backend{store: store, srv: srv, discoveryPath: discoveryPath}
}

func acceptAll() server.Handler {
	return server.Handler{
		OnAuthRequest: func(identity string, perms []protocol.Permission, respond func(server.Decision)) {
			respond(server.DecisionAccept)
		},
	}
}

// writeDiscoveryWithVersion fabricates a discovery file for a daemon
// speaking an arbitrary protocol version.
func writeDiscoveryWithVersion(path string, port, version int) error {
	data := fmt.Sprintf(`{"port":%d,"apiVersion":%d}`, port, version)
	return os.WriteFile(path, []byte(data), 0o644)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestInitFreshAuthorization(t *testing.T) {
	b := startBackend(t, acceptAll())

	c := New(Options{Identity: "Agent", DiscoveryPath: b.discoveryPath})
	defer c.Close()

	token, perms, err := c.Init(testCtx(t))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64-char token, got %d chars", len(token))
	}
	if len(perms) != 1 || perms[0] != protocol.PermissionShowMenu {
		t.Fatalf("unexpected permissions: %v", perms)
	}
	if c.Token() != token {
		t.Fatal("Token() should report the established token")
	}
}

func TestInitTokenReuse(t *testing.T) {
	b := startBackend(t, server.Handler{
		OnAuthRequest: func(identity string, perms []protocol.Permission, respond func(server.Decision)) {
			t.Error("token reuse must not consult the host")
			respond(server.DecisionCancel)
		},
	})

	seeded, err := b.store.AcceptAuth("Agent", []protocol.Permission{protocol.PermissionShowMenu})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	c := New(Options{Identity: "Agent", Token: seeded, DiscoveryPath: b.discoveryPath})
	defer c.Close()

	token, _, err := c.Init(testCtx(t))
	if err != nil {
		t.Fatalf("init with token: %v", err)
	}
	if token != seeded {
		t.Fatal("server should echo the reused token")
	}
}

func TestInitDeclined(t *testing.T) {
	b := startBackend(t, server.Handler{
		OnAuthRequest: func(identity string, perms []protocol.Permission, respond func(server.Decision)) {
			respond(server.DecisionDecline)
		},
	})

	c := New(Options{Identity: "Hostile", DiscoveryPath: b.discoveryPath})
	defer c.Close()

	_, _, err := c.Init(testCtx(t))
	var declined *DeclineError
	if !errors.As(err, &declined) {
		t.Fatalf("expected DeclineError, got %v", err)
	}
	if declined.Reason != protocol.ReasonClientBlocked {
		t.Fatalf("expected client-blocked, got %s", declined.Reason)
	}
}

func TestInitVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.json")
	if err := writeDiscoveryWithVersion(path, 12345, protocol.APIVersion+1); err != nil {
		t.Fatalf("write discovery fixture: %v", err)
	}

	c := New(Options{Identity: "Agent", DiscoveryPath: path})
	defer c.Close()

	_, _, err := c.Init(testCtx(t))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestInitWithoutDaemon(t *testing.T) {
	c := New(Options{Identity: "Agent", DiscoveryPath: filepath.Join(t.TempDir(), "absent.json")})
	defer c.Close()

	_, _, err := c.Init(testCtx(t))
	if !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestShowMenuRequiresInit(t *testing.T) {
	c := New(Options{Identity: "Agent", DiscoveryPath: filepath.Join(t.TempDir(), "absent.json")})
	defer c.Close()

	err := c.ShowMenu(menu.Item{Type: "submenu", Name: "TestMenu", Icon: "icon", IconTheme: "iconTheme"})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestMenuEventRoundTrip(t *testing.T) {
	type shown struct {
		root      menu.Item
		callbacks server.MenuCallbacks
	}
	shownCh := make(chan shown, 1)

	handler := acceptAll()
	handler.OnShowMenu = func(root menu.Item, callbacks server.MenuCallbacks) {
		shownCh <- shown{root: root, callbacks: callbacks}
	}
	b := startBackend(t, handler)

	selects := make(chan menu.Path, 1)
	hovers := make(chan menu.Path, 1)
	cancels := make(chan struct{}, 1)

	c := New(Options{
		Identity:      "Agent",
		DiscoveryPath: b.discoveryPath,
		OnSelect:      func(p menu.Path) { selects <- p },
		OnHover:       func(p menu.Path) { hovers <- p },
		OnCancel:      func() { cancels <- struct{}{} },
	})
	defer c.Close()

	if _, _, err := c.Init(testCtx(t)); err != nil {
		t.Fatalf("init: %v", err)
	}

	root := menu.Item{
		Type: "submenu", Name: "TestMenu", Icon: "icon", IconTheme: "iconTheme",
		Children: []menu.Item{
			{Type: "command", Name: "A", Icon: "a", IconTheme: "iconTheme"},
			{
				Type: "submenu", Name: "B", Icon: "b", IconTheme: "iconTheme",
				Children: []menu.Item{
					{Type: "command", Name: "B0", Icon: "b0", IconTheme: "iconTheme"},
					{Type: "command", Name: "B1", Icon: "b1", IconTheme: "iconTheme"},
				},
			},
		},
	}
	if err := c.ShowMenu(root); err != nil {
		t.Fatalf("show menu: %v", err)
	}

	var event shown
	select {
	case event = <-shownCh:
	case <-time.After(eventTimeout):
		t.Fatal("host never received the menu")
	}
	if event.root.Name != "TestMenu" {
		t.Fatalf("expected TestMenu, got %q", event.root.Name)
	}

	event.callbacks.Hover(menu.Path{1, 0})
	select {
	case p := <-hovers:
		if !p.Equal(menu.Path{1, 0}) {
			t.Fatalf("expected hover [1 0], got %v", p)
		}
	case <-time.After(eventTimeout):
		t.Fatal("hover event never arrived")
	}

	event.callbacks.Select(menu.Path{0, 1})
	select {
	case p := <-selects:
		if !p.Equal(menu.Path{0, 1}) {
			t.Fatalf("expected select [0 1], got %v", p)
		}
	case <-time.After(eventTimeout):
		t.Fatal("select event never arrived")
	}

	event.callbacks.Close()
	select {
	case <-cancels:
	case <-time.After(eventTimeout):
		t.Fatal("cancel event never arrived")
	}
}

func TestShowMenuValidatesTree(t *testing.T) {
	b := startBackend(t, acceptAll())

	c := New(Options{Identity: "Agent", DiscoveryPath: b.discoveryPath})
	defer c.Close()

	if _, _, err := c.Init(testCtx(t)); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := c.ShowMenu(menu.Item{Type: "command"}); err == nil {
		t.Fatal("nameless menu should be rejected locally")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := startBackend(t, acceptAll())

	c := New(Options{Identity: "Agent", DiscoveryPath: b.discoveryPath})
	if _, _, err := c.Init(testCtx(t)); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := c.ShowMenu(menu.Item{Type: "command", Name: "X"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

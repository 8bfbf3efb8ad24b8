// Package daemon wires the trust store, the protocol server, and the
// discovery file into one lifecycle, and owns the lock file that keeps a
// second daemon from starting for the same instance.
package daemon

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/orbitmenu/orbit/internal/config"
	"github.com/orbitmenu/orbit/internal/discovery"
	"github.com/orbitmenu/orbit/internal/menu"
	"github.com/orbitmenu/orbit/internal/protocol"
	"github.com/orbitmenu/orbit/internal/server"
	"github.com/orbitmenu/orbit/internal/trust"
)

// Options groups the dependencies needed to construct a Daemon. Handler
// is the host application's upward interface; callbacks left nil fall
// back to headless behavior (auth requests are canceled, menus are
// closed immediately), since a daemon without a UI cannot prompt anyone.
type Options struct {
	Instance string
	Port     int // 0 picks an ephemeral port
	Handler  server.Handler
}

// Daemon is the composition root for one running instance.
type Daemon struct {
	paths  config.InstancePaths
	store  *trust.Store
	server *server.Server
	port   int
	opts   Options
}

// New prepares the instance directories, loads the trust store, and
// constructs the protocol server. Nothing listens until Start.
func New(opts Options) (*Daemon, error) {
	paths, err := config.EnsureInstanceDirs(opts.Instance)
	if err != nil {
		return nil, fmt.Errorf("daemon: prepare instance directories: %w", err)
	}

	store, err := trust.Open(paths.Trust)
	if err != nil {
		return nil, fmt.Errorf("daemon: open trust store: %w", err)
	}

	handler := opts.Handler
	if handler.OnAuthRequest == nil {
		handler.OnAuthRequest = headlessAuthRequest
	}
	if handler.OnShowMenu == nil {
		handler.OnShowMenu = headlessShowMenu
	}

	return &Daemon{
		paths:  paths,
		store:  store,
		server: server.New(store, handler),
		opts:   opts,
	}, nil
}

// Start binds the listener, writes the lock file, and advertises the
// bound port through the discovery file. A discovery write failure is
// logged but not fatal: clients that already know the port still work.
func (d *Daemon) Start() error {
	port, err := d.server.Listen(d.opts.Port)
	if err != nil {
		return err
	}
	d.port = port

	if err := writePIDFile(d.paths.Lock); err != nil {
		d.server.Close()
		return fmt.Errorf("daemon: write lock file: %w", err)
	}

	if err := discovery.Write(d.paths.Discovery, port); err != nil {
		log.Printf("[Daemon] %v (clients must be told the port out of band)", err)
	}

	return nil
}

// Shutdown tears the daemon down: listener, discovery file, lock file.
func (d *Daemon) Shutdown() error {
	err := d.server.Close()
	if rmErr := discovery.Remove(d.paths.Discovery); rmErr != nil {
		log.Printf("[Daemon] %v", rmErr)
	}
	if rmErr := os.Remove(d.paths.Lock); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Printf("[Daemon] remove lock file: %v", rmErr)
	}
	return err
}

// Port returns the bound port after Start.
func (d *Daemon) Port() int { return d.port }

// Store exposes the trust store to the embedding host application.
func (d *Daemon) Store() *trust.Store { return d.store }

// IsRunning reports whether a daemon already runs for the instance,
// based on the lock file's PID. Stale lock files are removed.
func IsRunning(instance string) bool {
	paths := config.GetInstancePaths(instance)

	data, err := os.ReadFile(paths.Lock)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(paths.Lock)
		return false
	}

	if !processAlive(pid) {
		os.Remove(paths.Lock)
		return false
	}
	return true
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func headlessAuthRequest(identity string, perms []protocol.Permission, respond func(server.Decision)) {
	log.Printf("[Daemon] no host UI attached, canceling authorization request from %q for %v", identity, perms)
	respond(server.DecisionCancel)
}

func headlessShowMenu(root menu.Item, callbacks server.MenuCallbacks) {
	log.Printf("[Daemon] no host UI attached, closing menu %q immediately", root.Name)
	callbacks.Close()
}

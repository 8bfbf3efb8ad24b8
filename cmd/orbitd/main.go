package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orbitmenu/orbit/internal/config"
	"github.com/orbitmenu/orbit/internal/daemon"
	orbitversion "github.com/orbitmenu/orbit/internal/version"
)

var (
	flagInstance string
	flagPort     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "orbitd",
		Short:         "Orbit daemon - hosts the menu IPC protocol on loopback",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Flags().StringVar(&flagInstance, "instance", config.DefaultInstance, "instance name")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "listen port (0 picks an ephemeral port)")
	rootCmd.Version = orbitversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := setupLogging(flagInstance); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if daemon.IsRunning(flagInstance) {
		return fmt.Errorf("daemon is already running for instance %q", flagInstance)
	}

	d, err := daemon.New(daemon.Options{
		Instance: flagInstance,
		Port:     flagPort,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	paths := config.GetInstancePaths(flagInstance)
	log.Printf("Orbit daemon started (PID: %d, port: %d)", os.Getpid(), d.Port())
	log.Printf("Discovery file: %s", paths.Discovery)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal %s, shutting down...", sig)
	if err := d.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Daemon stopped")
	return nil
}

func setupLogging(instance string) error {
	paths, err := config.EnsureInstanceDirs(instance)
	if err != nil {
		return fmt.Errorf("initialise instance directories: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== Orbit Daemon Starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}

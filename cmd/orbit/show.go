package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orbitmenu/orbit/internal/client"
	"github.com/orbitmenu/orbit/internal/config"
	"github.com/orbitmenu/orbit/internal/menu"
)

const tokenCacheFile = "cli-tokens.json"

func newShowCmd() *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "show <menu.json>",
		Short: "Display a menu through the daemon and print the user's interaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, identity, args[0])
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "orbit-cli", "client identity to authenticate as")
	return cmd
}

func runShow(cmd *cobra.Command, identity, menuPath string) error {
	data, err := os.ReadFile(menuPath)
	if err != nil {
		return fmt.Errorf("read menu file: %w", err)
	}

	var root menu.Item
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("decode menu file: %w", err)
	}
	if err := menu.Validate(root); err != nil {
		return err
	}

	paths := config.GetInstancePaths(flagInstance)
	tokens, err := loadTokenCache(paths.Home)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	c := client.New(client.Options{
		Identity:      identity,
		Token:         tokens[identity],
		DiscoveryPath: paths.Discovery,
		OnSelect: func(p menu.Path) {
			if item, err := menu.At(root, p); err == nil {
				fmt.Printf("selected %v (%s)\n", p, item.Name)
			} else {
				fmt.Printf("selected %v\n", p)
			}
			close(done)
		},
		OnHover: func(p menu.Path) {
			fmt.Printf("hovering %v\n", p)
		},
		OnCancel: func() {
			fmt.Println("menu closed without selection")
			close(done)
		},
	})
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	token, perms, err := c.Init(ctx)
	if err != nil {
		var declined *client.DeclineError
		if errors.As(err, &declined) {
			return fmt.Errorf("daemon declined authentication: %s", declined.Reason)
		}
		return err
	}
	fmt.Printf("authenticated as %q with permissions %v\n", identity, perms)

	if tokens[identity] != token {
		tokens[identity] = token
		if err := saveTokenCache(paths.Home, tokens); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	if err := c.ShowMenu(root); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadTokenCache reads the CLI's identity->token map. A missing file is
// an empty cache.
func loadTokenCache(home string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(home, tokenCacheFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read token cache: %w", err)
	}

	tokens := make(map[string]string)
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode token cache: %w", err)
	}
	return tokens, nil
}

func saveTokenCache(home string, tokens map[string]string) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token cache: %w", err)
	}
	if err := os.WriteFile(filepath.Join(home, tokenCacheFile), data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	return nil
}

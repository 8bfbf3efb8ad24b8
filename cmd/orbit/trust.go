package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orbitmenu/orbit/internal/config"
	"github.com/orbitmenu/orbit/internal/daemon"
	"github.com/orbitmenu/orbit/internal/trust"
)

func newTrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and manage the client trust store",
	}
	cmd.AddCommand(newTrustListCmd())
	cmd.AddCommand(newTrustBlockCmd(true))
	cmd.AddCommand(newTrustBlockCmd(false))
	return cmd
}

func newTrustListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known client identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := config.GetInstancePaths(flagInstance)
			records, err := trust.Snapshot(paths.Trust)
			if err != nil {
				return err
			}

			type entry struct {
				Identity    string   `json:"identity"`
				Permissions []string `json:"permissions"`
				Blocked     bool     `json:"blocked"`
			}
			entries := make([]entry, 0, len(records))
			for _, id := range sortedKeys(records) {
				rec := records[id]
				perms := make([]string, len(rec.Permissions))
				for i, p := range rec.Permissions {
					perms[i] = string(p)
				}
				entries = append(entries, entry{Identity: id, Permissions: perms, Blocked: rec.Blocked})
			}

			formatter := newOutputFormatter(cmd)
			return formatter.Print(entries, func() {
				if len(entries) == 0 {
					fmt.Println("No known clients.")
					return
				}
				for _, e := range entries {
					status := "trusted"
					if e.Blocked {
						status = "blocked"
					}
					fmt.Printf("%-30s %-8s %s\n", e.Identity, status, strings.Join(e.Permissions, ","))
				}
			})
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func newTrustBlockCmd(block bool) *cobra.Command {
	use, short := "block <identity>", "Block a client identity"
	if !block {
		use, short = "unblock <identity>", "Unblock a client identity"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The daemon is the sole writer of the trust store while it
			// runs; mutating underneath it would be lost on its next save.
			if daemon.IsRunning(flagInstance) {
				return fmt.Errorf("daemon is running; stop it before editing the trust store")
			}

			paths := config.GetInstancePaths(flagInstance)
			store, err := trust.Open(paths.Trust)
			if err != nil {
				return err
			}

			identity := args[0]
			if block {
				if err := store.BlockClient(identity); err != nil {
					return err
				}
				fmt.Printf("Blocked %q.\n", identity)
				return nil
			}
			if err := store.UnblockClient(identity); err != nil {
				return err
			}
			fmt.Printf("Unblocked %q.\n", identity)
			return nil
		},
	}
}

func sortedKeys(records map[string]trust.Record) []string {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbitmenu/orbit/internal/config"
	"github.com/orbitmenu/orbit/internal/discovery"
	"github.com/orbitmenu/orbit/internal/protocol"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where the daemon is listening",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := config.GetInstancePaths(flagInstance)
			rec, err := discovery.Read(paths.Discovery)
			if err != nil {
				return err
			}

			formatter := newOutputFormatter(cmd)
			return formatter.Print(rec, func() {
				fmt.Printf("Port:        %d\n", rec.Port)
				fmt.Printf("API version: %d\n", rec.APIVersion)
				if rec.APIVersion != protocol.APIVersion {
					fmt.Printf("WARNING: this CLI speaks version %d; clients will be refused\n", protocol.APIVersion)
				}
			})
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

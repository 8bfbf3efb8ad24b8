package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orbitmenu/orbit/internal/config"
	orbitversion "github.com/orbitmenu/orbit/internal/version"
)

var (
	rootCmd      *cobra.Command
	flagInstance string
)

func main() {
	rootCmd = &cobra.Command{
		Use:           "orbit",
		Short:         "Orbit CLI - talk to the menu daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagInstance, "instance", config.DefaultInstance, "instance name")
	rootCmd.Version = orbitversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newTrustCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// OutputFormatter handles output in JSON or human-readable format.
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a formatter based on the command's --json flag.
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print emits data as indented JSON in JSON mode, otherwise runs the
// human-readable fallback.
func (f *OutputFormatter) Print(data interface{}, human func()) error {
	if f.jsonMode {
		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		fmt.Println(string(encoded))
		return nil
	}
	human()
	return nil
}

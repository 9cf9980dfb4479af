// Package cli holds the cobra commands behind modelforge and modelforge-server.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	Server     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultServer is the API address client commands use without --server.
const DefaultServer = "http://localhost:8000"

// NewRootCommand creates the modelforge command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "modelforge",
		Short: "modelforge - asynchronous model builds",
		Long: `Submit model build jobs to a modelforge server and follow their progress.

A job turns a natural-language prompt into a validated architecture
specification and a built model configuration.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	server := os.Getenv("MODELFORGE_SERVER")
	if server == "" {
		server = DefaultServer
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "API server base URL")

	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewArtifactCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// NewServerCommand creates the modelforge-server command, which runs the API
// server and scheduler until interrupted.
func NewServerCommand() *cobra.Command {
	opts := &RootOptions{Format: "text"}

	cmd := &cobra.Command{
		Use:           "modelforge-server",
		Short:         "Run the modelforge API server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts, cmd)
		},
	}
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to YAML configuration file")
	return cmd
}

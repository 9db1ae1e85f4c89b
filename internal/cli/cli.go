// Package cli hosts the myndhyve command tree: the relay lifecycle group,
// the developer harness group, and the output conventions shared by both
// (--json and --quiet flags, {code, message, suggestion} errors, exit
// codes).
package cli

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/auth"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/config"
)

// Exit codes of the CLI surface.
const (
	ExitOK           = 0
	ExitGeneral      = 1
	ExitUsage        = 2
	ExitNotFound     = 3
	ExitUnauthorized = 4
	ExitInterrupt    = 130
)

// App carries the collaborators every command shares.
type App struct {
	Version  string
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *channel.Registry
	Auth     *auth.Store

	jsonOut bool
	quiet   bool
	out     io.Writer
	errOut  io.Writer
}

// NewApp wires the shared command state. Output writers default to the
// process streams and are swappable for tests.
func NewApp(version string, cfg *config.Config, registry *channel.Registry, authStore *auth.Store, logger zerolog.Logger) *App {
	return &App{
		Version:  version,
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Auth:     authStore,
		out:      os.Stdout,
		errOut:   os.Stderr,
	}
}

// RootCmd builds the full command tree.
func (a *App) RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "myndhyve",
		Short:         "Personal messaging relay agent",
		Long:          "Bridges personal messaging channels (iMessage, Slack) to the MyndHyve cloud.",
		Version:       a.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "emit machine-readable JSON output")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "suppress non-essential output")

	root.AddCommand(a.relayCmd())
	root.AddCommand(a.devCmd())
	return root
}

// Execute runs the command tree and maps the outcome to an exit code.
func (a *App) Execute(args []string) int {
	root := a.RootCmd()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		cliErr := asCLIError(err)
		a.printError(cliErr)
		return cliErr.Exit
	}
	return ExitOK
}

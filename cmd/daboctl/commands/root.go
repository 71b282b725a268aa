// Package commands implements the daboctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xfxf/dabo/pkg/client"
)

const defaultServer = "http://localhost:8080"

// CLI holds the root command and the state shared by subcommands.
type CLI struct {
	rootCmd *cobra.Command

	server  string
	verbose bool
	log     *zap.Logger
}

// New builds the command tree.
func New(version string) *CLI {
	c := &CLI{log: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:           "daboctl",
		Short:         "Client for a Dabo application server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initLogger(cmd.ErrOrStderr())
		},
	}
	server := os.Getenv("DABO_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&c.server, "server", "s", server, "Server base URL")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log requests and retries")

	rootCmd.AddCommand(
		c.newManifestCmd(),
		c.newDiffCmd(),
		c.newUpdateCmd(),
		c.newQueryCmd(),
		newConnCmd(),
		newVersionCmd(),
	)
	c.rootCmd = rootCmd
	return c
}

// Execute runs the root command.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	defer func() { _ = c.log.Sync() }()
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error writers for the root command.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

func (c *CLI) initLogger(w io.Writer) error {
	level := zapcore.WarnLevel
	if c.verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	c.log = zap.New(core)
	return nil
}

func (c *CLI) client() *client.Client {
	return client.New(client.Config{BaseURL: c.server, Logger: c.log})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xfxf/dabo/pkg/client"
)

func (c *CLI) newManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest APP",
		Short: "Print the server manifest of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.client().FetchManifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func (c *CLI) newDiffCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "diff APP",
		Short: "Show which files differ from the recorded state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := client.LoadState(state)
			if err != nil {
				return err
			}
			dr, err := c.client().Diff(cmd.Context(), args[0], current)
			if err != nil {
				return err
			}
			if dr == nil {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "up to date")
				return err
			}
			return printJSON(cmd.OutOrStdout(), dr)
		},
	}
	cmd.Flags().StringVar(&state, "state", ".dabo-state.json", "File holding the last applied manifest")
	return cmd
}

func (c *CLI) newUpdateCmd() *cobra.Command {
	var dir, state string
	cmd := &cobra.Command{
		Use:   "update APP",
		Short: "Download changed files into a directory and record the new state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := client.LoadState(state)
			if err != nil {
				return err
			}
			res, err := c.client().Update(cmd.Context(), args[0], dir, current)
			if err != nil {
				return err
			}
			if err := client.SaveState(state, res.Manifest); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range res.Written {
				fmt.Fprintf(out, "U %s\n", p)
			}
			for _, p := range res.Deleted {
				fmt.Fprintf(out, "D %s\n", p)
			}
			_, err = fmt.Fprintf(out, "%d written, %d deleted\n", len(res.Written), len(res.Deleted))
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to update")
	cmd.Flags().StringVar(&state, "state", ".dabo-state.json", "File holding the last applied manifest")
	return cmd
}

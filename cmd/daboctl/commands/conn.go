package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xfxf/dabo/pkg/conndef"
)

func newConnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conn",
		Short: "Inspect and edit connection definition files",
	}
	cmd.AddCommand(newConnListCmd(), newConnAddCmd())
	return cmd
}

func newConnListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list FILE",
		Short: "List the connections in a definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := conndef.Load(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDBTYPE\tHOST\tPORT\tDATABASE")
			for _, d := range conndef.Sorted(defs) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Key(), d.DBType, d.Host, d.Port, d.Database)
			}
			return tw.Flush()
		},
	}
}

func newConnAddCmd() *cobra.Command {
	var def conndef.ConnectionDef
	cmd := &cobra.Command{
		Use:   "add FILE",
		Short: "Add or replace a connection in a definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			defs := map[string]conndef.ConnectionDef{}
			if _, err := os.Stat(path); err == nil {
				if defs, err = conndef.Load(path); err != nil {
					return err
				}
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if _, _, err := def.DSN(); err != nil {
				return err
			}
			defs[def.Key()] = def

			data, err := conndef.Generate(conndef.Sorted(defs)...)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", def.Key())
			return err
		},
	}
	cmd.Flags().StringVar(&def.DBType, "dbtype", "postgres", "Database type (postgres, sqlite3)")
	cmd.Flags().StringVar(&def.Host, "host", "localhost", "Database host")
	cmd.Flags().StringVar(&def.Database, "database", "", "Database name or sqlite file")
	cmd.Flags().StringVar(&def.User, "user", "", "Database user")
	cmd.Flags().StringVar(&def.Password, "password", "", "Database password")
	cmd.Flags().StringVar(&def.Port, "port", "", "Database port")
	return cmd
}

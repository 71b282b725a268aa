package commands

import (
	"github.com/spf13/cobra"

	"github.com/xfxf/dabo/pkg/models"
)

type queryOutput struct {
	Types models.DataTypes `json:"types"`
	Data  models.DataSet   `json:"data"`
}

func (c *CLI) newQueryCmd() *cobra.Command {
	var sql, key string
	cmd := &cobra.Command{
		Use:   "query DATASOURCE",
		Short: "Requery a remote bizobj and print its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			biz := c.client().Bizobj(args[0])
			if err := biz.Requery(cmd.Context(), sql, key); err != nil {
				return err
			}
			data := biz.DataSet()
			if data == nil {
				data = models.DataSet{}
			}
			return printJSON(cmd.OutOrStdout(), queryOutput{Types: biz.DataTypes(), Data: data})
		},
	}
	cmd.Flags().StringVar(&sql, "sql", "", "SELECT statement (default: the data source's query)")
	cmd.Flags().StringVar(&key, "key", "", "Key field (default: the data source's key)")
	return cmd
}

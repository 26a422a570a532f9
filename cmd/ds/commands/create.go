package commands

import (
	"context"
	"fmt"

	"datasafe/pkg/client"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <baseLoi>",
	Short: "Create a new dataset LOI under a base LOI",
	Long: `Allocates the next free serial under the base LOI and registers an empty
dataset for it, e.g. "ds create 42.1001/ds/exp/sa/42/cwepr/" prints
42.1001/ds/exp/sa/42/cwepr/21 when 20 is the highest existing serial.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, cli *client.DSClient) error {
			id, err := cli.Create(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <loi>",
	Short: "Report whether a LOI has been registered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, cli *client.DSClient) error {
			ok, err := cli.Exists(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(existsCmd)
}

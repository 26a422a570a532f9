package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"datasafe/pkg/client"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [baseLoi]",
	Short: "List datasets under a base LOI, or everything the server has indexed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := ""
		if len(args) > 0 {
			base = args[0]
		}
		return remote(cmd, func(ctx context.Context, cli *client.DSClient) error {
			objs, err := cli.List(ctx, base)
			if err != nil {
				return err
			}
			if len(objs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No datasets found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LOI\tSTATE\tREV\tFILES\tSIZE\tMODIFIED")
			for _, o := range objs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					o.LOI, o.State, o.Revision, o.Files, o.TotalSize, o.Modified.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <loi>",
	Short: "Re-verify the stored content of a LOI on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return remote(cmd, func(ctx context.Context, cli *client.DSClient) error {
			resp, err := cli.Check(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, revision %d)\n", args[0], resp.State, resp.Revision)
			if len(resp.Integrity.Warnings) == 0 && len(resp.Integrity.Mismatches) == 0 {
				fmt.Fprintln(out, "✅ intact")
				return nil
			}
			for _, w := range resp.Integrity.Warnings {
				fmt.Fprintf(out, "⚠️  %s\n", w)
			}
			for _, m := range resp.Integrity.Mismatches {
				fmt.Fprintf(out, "   %s: %s\n", m.Name, m.Reason)
			}
			return fmt.Errorf("%w: %s", client.ErrIntegrity, args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(checkCmd)
}

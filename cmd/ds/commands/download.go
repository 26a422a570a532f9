package commands

import (
	"context"
	"fmt"
	"path"

	"datasafe/pkg/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var downloadCmd = &cobra.Command{
	Use:   "download <loi> [dir]",
	Short: "Download the content of a LOI into a new directory",
	Long: `Writes all files plus MANIFEST.yaml into dir, which must not exist or be
empty. dir defaults to the last two segments of the LOI. Integrity problems
are reported as warnings; with --strict they fail the command and nothing is
written.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		dir := defaultDir(id)
		if len(args) > 1 {
			dir = args[1]
		}
		strict := viper.GetBool("client.strict")

		return remote(cmd, func(ctx context.Context, cli *client.DSClient) error {
			m, integ, err := cli.Download(ctx, id, dir, strict)
			if err != nil {
				for _, w := range integ.Warnings() {
					fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %s\n", w)
				}
				return err
			}

			for _, w := range integ.Warnings() {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %s\n", w)
			}
			for _, mm := range integ.Mismatches {
				fmt.Fprintf(cmd.ErrOrStderr(), "   %v\n", mm)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📦 %s revision %d -> %s (%d files)\n", m.LOI, m.Revision, dir, len(m.Files))
			return nil
		})
	},
}

// defaultDir 例如 42.1001/ds/exp/sa/42/cwepr/7 -> cwepr-7
func defaultDir(id string) string {
	serial := path.Base(id)
	method := path.Base(path.Dir(id))
	return method + "-" + serial
}

func init() {
	downloadCmd.Flags().Bool("strict", false, "treat integrity warnings as errors")
	if err := viper.BindPFlag("client.strict", downloadCmd.Flags().Lookup("strict")); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(downloadCmd)
}

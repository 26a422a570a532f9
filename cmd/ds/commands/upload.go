package commands

import (
	"context"
	"fmt"
	"time"

	"datasafe/pkg/client"
	"datasafe/pkg/manifest"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <loi> [dir]",
	Short: "Upload the files of a directory as the content of a registered LOI",
	Long: `Uploads every file below dir (default ".") except those matched by
.dsignore and the built-in rules. A LOI can only be uploaded once; use
"ds update" to replace the content afterwards.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return write(cmd, args, false)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <loi> [dir]",
	Short: "Replace the whole content of an uploaded LOI",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return write(cmd, args, true)
	},
}

func write(cmd *cobra.Command, args []string, update bool) error {
	id, dir := args[0], "."
	if len(args) > 1 {
		dir = args[1]
	}

	return remote(cmd, func(ctx context.Context, cli *client.DSClient) error {
		start := time.Now()
		files, skipped, err := cli.Scan(ctx, dir)
		if err != nil {
			return err
		}
		for _, p := range skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "⏭️  skipped %s (ignore rule)\n", p)
		}

		var m *manifest.Manifest
		if update {
			m, err = cli.UpdateFiles(ctx, id, files)
		} else {
			m, err = cli.UploadFiles(ctx, id, files)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s revision %d: %d files (%d bytes) in %s\n",
			m.LOI, m.Revision, len(m.Files), m.TotalSize(), time.Since(start).Round(time.Millisecond))
		fmt.Fprintf(cmd.OutOrStdout(), "   checksum %s:%s\n", m.Algorithm, m.Checksum)
		return nil
	})
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(updateCmd)
}

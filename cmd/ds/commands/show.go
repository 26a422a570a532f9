package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"datasafe/pkg/client"
	"datasafe/pkg/manifest"

	"github.com/spf13/cobra"
)

var verifyLocal bool

var showCmd = &cobra.Command{
	Use:   "show <dir|MANIFEST.yaml>",
	Short: "Print a downloaded manifest and optionally verify the files next to it",
	Args:  cobra.ExactArgs(1),
	// 纯本地命令，不需要服务端
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := client.ReadManifest(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "LOI:       %s\n", m.LOI)
		fmt.Fprintf(out, "State:     %s (revision %d)\n", m.State(), m.Revision)
		fmt.Fprintf(out, "Created:   %s\n", m.Created.Format("2006-01-02 15:04:05Z07:00"))
		fmt.Fprintf(out, "Modified:  %s\n", m.Modified.Format("2006-01-02 15:04:05Z07:00"))
		fmt.Fprintf(out, "Checksum:  %s:%s\n", m.Algorithm, m.Checksum)
		for _, e := range m.Files {
			fmt.Fprintf(out, "  %-8s %-10s %10d  %s  %s\n", e.Role, e.Format, e.Size, e.Checksum.Short(), e.Name)
		}

		if !verifyLocal {
			return nil
		}
		root := args[0]
		if info, err := os.Stat(root); err == nil && !info.IsDir() {
			root = filepath.Dir(root)
		}
		var open manifest.Opener = func(name string) (io.ReadCloser, error) {
			f, err := os.Open(filepath.Join(root, filepath.FromSlash(name)))
			if err != nil {
				return nil, err
			}
			return f, nil
		}
		integ, err := m.Verify(cmd.Context(), open)
		if err != nil {
			return err
		}
		if integ.OK() {
			fmt.Fprintln(out, "✅ local files match the manifest")
			return nil
		}
		for _, w := range integ.Warnings() {
			fmt.Fprintf(out, "⚠️  %s\n", w)
		}
		for _, mm := range integ.Mismatches {
			fmt.Fprintf(out, "   %v\n", mm)
		}
		return fmt.Errorf("%w: %s", client.ErrIntegrity, root)
	},
}

func init() {
	showCmd.Flags().BoolVar(&verifyLocal, "verify", false, "re-hash the files next to the manifest")
	rootCmd.AddCommand(showCmd)
}

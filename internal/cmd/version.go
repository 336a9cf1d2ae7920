package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionExtended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := rootCmd.Name()
		if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
			name = id.BinaryName
		}
		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "%s %s\n", name, versionInfo.Version); err != nil {
			return err
		}
		if !versionExtended {
			return nil
		}
		v := crucible.GetVersion()
		_, err := fmt.Fprintf(out, "commit:     %s\nbuilt:      %s\ngo:         %s\ngofulmen:   %s\ncrucible:   %s\n",
			versionInfo.Commit, versionInfo.BuildDate, runtime.Version(), v.Gofulmen, v.Crucible)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionExtended, "extended", false, "include build and dependency versions")
}

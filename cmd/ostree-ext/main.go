// Command ostree-ext bridges ostree commits and OCI/container images:
// importing a container layer's tar stream into a commit, preparing a
// filesystem root for commit, pulling a container-encapsulated commit, and
// diffing manifests.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lukewarmtemp/ostree-ext-go/pkg/sylog"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		sylog.Fatalf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ostree-ext",
		Short:         "Bridge ostree commits and OCI container images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().CountP("verbose", "v", "increase logging verbosity (repeatable)")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	cmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		quiet, _ := cmd.Flags().GetBool("quiet")
		switch {
		case quiet:
			sylog.SetLevel(int(sylog.ErrorLevel), false)
		case verbosity > 0:
			sylog.SetLevel(int(sylog.InfoLevel)+verbosity, false)
		}
	}

	cmd.AddCommand(newImportTarCmd())
	cmd.AddCommand(newCommitPrepareCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newManifestDiffCmd())
	return cmd
}

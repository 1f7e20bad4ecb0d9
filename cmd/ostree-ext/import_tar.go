package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lukewarmtemp/ostree-ext-go/internal/commitproc"
)

func newImportTarCmd() *cobra.Command {
	var (
		repoPath string
		ref      string
		base     string
		selinux  bool
		input    string
	)

	cmd := &cobra.Command{
		Use:   "import-tar",
		Short: "Filter and commit a tar stream (file or stdin) into an ostree repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := os.Stdin
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("opening %s: %w", input, err)
				}
				defer f.Close()
				src = f
			}

			storeFD, err := os.Open(repoPath)
			if err != nil {
				return fmt.Errorf("opening repo %s: %w", repoPath, err)
			}
			defer storeFD.Close()

			result, err := commitproc.Commit(context.Background(), commitproc.Config{}, storeFD, ref, commitproc.Options{
				Base:    base,
				SELinux: selinux,
			}, commitproc.DirCheckouter{CheckoutsRoot: repoPath}, src)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.CommitDigest)
			for prefix, count := range result.Tally {
				fmt.Fprintf(cmd.ErrOrStderr(), "filtered %d entries under %s\n", count, prefix)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo", "", "path to the ostree repo")
	cmd.Flags().StringVar(&ref, "ref", "", "destination ref name")
	cmd.Flags().StringVar(&base, "base", "", "base commit id, for SELinux policy reuse")
	cmd.Flags().BoolVar(&selinux, "selinux", false, "check out and apply the base commit's SELinux policy")
	cmd.Flags().StringVar(&input, "input", "-", "tar input file, or - for stdin")
	cmd.MarkFlagRequired("repo")
	cmd.MarkFlagRequired("ref")

	return cmd
}

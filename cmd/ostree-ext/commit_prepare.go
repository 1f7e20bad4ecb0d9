package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukewarmtemp/ostree-ext-go/internal/commitprep"
)

func newCommitPrepareCmd() *cobra.Command {
	var nonStrict bool

	cmd := &cobra.Command{
		Use:   "commit-prepare ROOT",
		Short: "Clean scratch directories and validate /var before committing a filesystem root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			if nonStrict {
				return commitprep.PrepareNonStrict(root)
			}
			if err := commitprep.Prepare(root); err != nil {
				return fmt.Errorf("commit preparation failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nonStrict, "non-strict", false, "only warn, don't fail, on unexpected /var content")
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	imgspec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/lukewarmtemp/ostree-ext-go/internal/imageref"
	"github.com/lukewarmtemp/ostree-ext-go/internal/proxy"
	"github.com/lukewarmtemp/ostree-ext-go/internal/proxyconfig"
)

func newManifestDiffCmd() *cobra.Command {
	var authFile string

	cmd := &cobra.Command{
		Use:   "manifest-diff FROM-IMAGE TO-IMAGE",
		Short: "Fetch two image manifests and print their layer diff",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := proxyconfig.Config{AuthFile: authFile}
			if err := proxyconfig.MergeDefaults(&cfg); err != nil {
				return err
			}

			ctx := context.Background()
			from, err := fetchManifest(ctx, cfg, args[0])
			if err != nil {
				return fmt.Errorf("fetching %s: %w", args[0], err)
			}
			to, err := fetchManifest(ctx, cfg, args[1])
			if err != nil {
				return fmt.Errorf("fetching %s: %w", args[1], err)
			}

			diff := imageref.NewManifestDiff(from, to)
			fmt.Fprintln(cmd.OutOrStdout(), diff.Summary())
			return nil
		},
	}

	cmd.Flags().StringVar(&authFile, "authfile", "", "registry auth file")
	return cmd
}

func fetchManifest(ctx context.Context, cfg proxyconfig.Config, imageURI string) (*imgspec.Manifest, error) {
	ref, err := imageref.ParseImageReference(imageURI)
	if err != nil {
		return nil, err
	}

	d, err := proxy.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	img, err := d.OpenImage(ref.String())
	if err != nil {
		return nil, err
	}
	defer d.CloseImage(img)

	manifest, _, err := d.FetchManifest(img)
	return manifest, err
}

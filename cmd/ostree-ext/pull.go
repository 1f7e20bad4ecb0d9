package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/lukewarmtemp/ostree-ext-go/internal/commitproc"
	"github.com/lukewarmtemp/ostree-ext-go/internal/imageref"
	"github.com/lukewarmtemp/ostree-ext-go/internal/proxy"
	"github.com/lukewarmtemp/ostree-ext-go/internal/proxyconfig"
	"github.com/lukewarmtemp/ostree-ext-go/pkg/sylog"
)

func newPullCmd() *cobra.Command {
	var (
		repoPath string
		authFile string
	)

	cmd := &cobra.Command{
		Use:   "pull IMAGE-REFERENCE",
		Short: "Fetch a container-encapsulated commit and import it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := imageref.ParseOstreeImageReference(args[0])
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			cfg := proxyconfig.Config{AuthFile: authFile}
			if err := proxyconfig.MergeDefaults(&cfg); err != nil {
				return err
			}

			ctx := context.Background()
			d, err := proxy.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			img, err := d.OpenImage(ref.ImgRef.String())
			if err != nil {
				return err
			}
			defer d.CloseImage(img)

			manifest, digest, config, err := d.FetchManifestAndConfig(img)
			if err != nil {
				return err
			}
			if len(manifest.Layers) != 1 {
				return fmt.Errorf("expected exactly one layer, found %d", len(manifest.Layers))
			}
			if version, ok := imageref.VersionForConfig(*config); ok {
				sylog.Infof("pulling %s (digest %s, version %s)", ref.ImgRef.String(), digest, version)
			} else {
				sylog.Infof("pulling %s (digest %s)", ref.ImgRef.String(), digest)
			}

			var p *mpb.Progress
			var bar *mpb.Bar
			ch := proxy.NewProgressChannel()
			if term.IsTerminal(2) {
				p = mpb.NewWithContext(ctx, mpb.WithOutput(os.Stderr))
				bar = p.AddBar(manifest.Layers[0].Size,
					mpb.PrependDecorators(decor.Name("layer")),
					mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
				)
				go func() {
					for progress := range ch {
						bar.SetCurrent(int64(progress.Fetched))
					}
				}()
			}

			storeFD, err := os.Open(repoPath)
			if err != nil {
				return fmt.Errorf("opening repo %s: %w", repoPath, err)
			}
			defer storeFD.Close()

			var result *commitproc.Result
			pullErr := proxy.PullLayer(ctx, d, img, manifest, 0, ref.ImgRef.Transport, nil, ch, func(r io.Reader) error {
				commitResult, err := commitproc.Commit(ctx, commitproc.Config{}, storeFD, refName(&ref), commitproc.Options{}, nil, r)
				result = commitResult
				return err
			})
			close(ch)
			if p != nil {
				p.Wait()
			}
			if pullErr != nil {
				return pullErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.CommitDigest)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo", "", "path to the ostree repo")
	cmd.Flags().StringVar(&authFile, "authfile", "", "registry auth file")
	cmd.MarkFlagRequired("repo")

	return cmd
}

func refName(ref *imageref.OstreeImageReference) string {
	return "ostree/container/" + ref.ImgRef.Name
}

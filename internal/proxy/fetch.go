package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	imgspec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/lukewarmtemp/ostree-ext-go/internal/imageref"
	"github.com/lukewarmtemp/ostree-ext-go/internal/proxyconfig"
)

// Import is the result of pulling a container image and unpacking its
// embedded commit.
type Import struct {
	OstreeCommit      string
	ImageDigest       string
	DeprecatedWarning string
}

// JoinFetch reconciles a worker's result with a concurrently run driver
// error. If both sides failed, and the driver's failure merely reports a
// broken pipe, the break was almost certainly caused by the worker closing
// its end first — so the worker's own error is the one that matters.
func JoinFetch[T any](result T, workerErr error, driverErr error) (T, error) {
	switch {
	case workerErr == nil && driverErr == nil:
		return result, nil
	case workerErr != nil && driverErr != nil:
		if strings.HasSuffix(driverErr.Error(), "broken pipe") {
			return result, workerErr
		}
		return result, fmt.Errorf("proxy failure: %v and client error: %w", driverErr, workerErr)
	case driverErr != nil:
		var zero T
		return zero, driverErr
	default:
		var zero T
		return zero, workerErr
	}
}

// FetchManifestFor opens ref.ImgRef against a fresh proxy instance built
// from cfg, fetches its manifest and digest, and closes everything down.
func FetchManifestFor(ctx context.Context, cfg proxyconfig.Config, ref *imageref.OstreeImageReference) (manifestBytes []byte, digest string, err error) {
	d, err := New(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	defer d.Close()

	img, err := d.OpenImage(ref.ImgRef.String())
	if err != nil {
		return nil, "", err
	}
	defer d.CloseImage(img)

	manifest, dg, err := d.FetchManifest(img)
	if err != nil {
		return nil, "", err
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return nil, "", fmt.Errorf("encoding manifest: %w", err)
	}
	return encoded, dg.String(), nil
}

// PullLayer fetches and decompresses a single manifest layer and streams it
// through consume, driving the proxy's concurrent completion signal via an
// errgroup so the caller gets a single reconciled error instead of juggling
// two goroutines directly. transport and convertedLayers select the blob
// source per FetchLayerDecompress's ContainerStorage rule; convertedLayers
// is ignored for every other transport.
func PullLayer(ctx context.Context, d *Driver, img *OpenedImage, manifest *imgspec.Manifest, layerIndex int, transport imageref.Transport, convertedLayers []ConvertedLayerInfo, ch ProgressChannel, consume func(r io.Reader) error) error {
	reader, driver, err := d.FetchLayerDecompress(img, manifest, layerIndex, transport, convertedLayers, ch)
	if err != nil {
		return err
	}
	defer reader.Close()

	g, _ := errgroup.WithContext(ctx)
	var consumeErr, driverErr error
	g.Go(func() error {
		consumeErr = consume(reader)
		return consumeErr
	})
	g.Go(func() error {
		driverErr = driver()
		return driverErr
	})
	_ = g.Wait()

	_, err = JoinFetch(struct{}{}, consumeErr, driverErr)
	return err
}

package proxy

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	digest "github.com/opencontainers/go-digest"
	imgspec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/lukewarmtemp/ostree-ext-go/internal/imageref"
)

// ConvertedLayerInfo is a parallel-indexed layer record for the
// ContainerStorage transport, whose local store transcodes manifest layers
// so their own descriptors no longer name fetchable blobs.
type ConvertedLayerInfo struct {
	Digest    digest.Digest
	Size      int64
	MediaType string
}

type blobResult struct {
	Size int64 `json:"size"`
}

// getBlob asks the proxy to fetch digest (of the given size) from img, and
// returns a reader over the raw (still compressed, per the layer's media
// type) blob bytes together with a driver func the caller must run
// concurrently with reading — it blocks until the proxy confirms the fetch
// completed or failed, surfacing errors that only become visible after the
// header response, e.g. a mid-stream registry disconnect.
func (d *Driver) getBlob(img *OpenedImage, digestStr string, size int64) (io.ReadCloser, func() error, error) {
	resp, err := d.call("GetBlob", img.id, digestStr, strconv.FormatInt(size, 10))
	if err != nil {
		return nil, nil, fmt.Errorf("fetching blob %s: %w", digestStr, err)
	}

	f, err := recvFD(d.ctrl)
	if err != nil {
		return nil, nil, fmt.Errorf("receiving blob fd for %s: %w", digestStr, err)
	}

	var result blobResult
	if len(resp.Value) > 0 {
		if err := json.Unmarshal(resp.Value, &result); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("decoding blob metadata for %s: %w", digestStr, err)
		}
	}

	driver := func() error {
		var ack response
		if err := readFrame(d.stdout, &ack); err != nil {
			return fmt.Errorf("waiting for %s completion: %w", digestStr, err)
		}
		if !ack.Success {
			return fmt.Errorf("fetching %s: %s", digestStr, ack.Error)
		}
		return nil
	}

	return f, driver, nil
}

// recvFD reads one file descriptor passed over conn via SCM_RIGHTS,
// mirroring the cmd.ExtraFiles fd-passing idiom used elsewhere in this
// codebase, but for a descriptor handed over after the subprocess has
// already started rather than at Start() time.
func recvFD(conn *net.UnixConn) (*os.File, error) {
	oob := make([]byte, unix.CmsgSpace(4))
	buf := make([]byte, 1)
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("reading control message: %w", err)
	}
	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parsing control message: %w", err)
	}
	if len(scms) == 0 {
		return nil, fmt.Errorf("no control message received")
	}
	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return nil, fmt.Errorf("parsing passed rights: %w", err)
	}
	if len(fds) == 0 {
		return nil, fmt.Errorf("no fd received")
	}
	return os.NewFile(uintptr(fds[0]), "proxy-blob"), nil
}

// newDecompressor wraps src according to the layer media type, the
// container/oci analog of the original's async gzip/identity switch.
func newDecompressor(mediaType string, src io.Reader) (io.Reader, error) {
	switch mediaType {
	case imgspec.MediaTypeImageLayerGzip, "application/vnd.docker.image.rootfs.diff.tar.gzip":
		return gzip.NewReader(src)
	case imgspec.MediaTypeImageLayer, "application/vnd.docker.image.rootfs.diff.tar":
		return src, nil
	default:
		return nil, fmt.Errorf("unhandled layer media type: %s", mediaType)
	}
}

// blobSource resolves the digest, size, and media type to fetch for
// layerIndex. For transport ContainerStorage the manifest's own layer
// descriptors don't name fetchable blobs, because the local store
// transcodes layers on import; the caller must supply a parallel
// convertedLayers list indexed identically to manifest.Layers, and the
// converted digest/size/media type are used instead. Every other transport
// uses the manifest descriptor directly.
func blobSource(manifest *imgspec.Manifest, layerIndex int, transport imageref.Transport, convertedLayers []ConvertedLayerInfo) (digestStr string, size int64, mediaType string, err error) {
	if layerIndex < 0 || layerIndex >= len(manifest.Layers) {
		return "", 0, "", fmt.Errorf("layer index %d out of range", layerIndex)
	}

	if transport == imageref.ContainerStorage {
		if layerIndex >= len(convertedLayers) {
			return "", 0, "", fmt.Errorf("no converted-layer record for layer index %d", layerIndex)
		}
		info := convertedLayers[layerIndex]
		return info.Digest.String(), info.Size, info.MediaType, nil
	}

	layer := manifest.Layers[layerIndex]
	return layer.Digest.String(), layer.Size, layer.MediaType, nil
}

// FetchLayerDecompress fetches and decompresses one manifest layer,
// reporting progress on ch if non-nil. The returned driver func must be
// run (e.g. via errgroup) alongside reading from the returned reader; see
// JoinFetch for reconciling errors from both.
func (d *Driver) FetchLayerDecompress(img *OpenedImage, manifest *imgspec.Manifest, layerIndex int, transport imageref.Transport, convertedLayers []ConvertedLayerInfo, ch ProgressChannel) (io.ReadCloser, func() error, error) {
	digestStr, size, mediaType, err := blobSource(manifest, layerIndex, transport, convertedLayers)
	if err != nil {
		return nil, nil, err
	}

	raw, driver, err := d.getBlob(img, digestStr, size)
	if err != nil {
		return nil, nil, err
	}

	tracked := newProgressReader(raw, ch, layerIndex, uint64(size))
	decompressed, err := newDecompressor(mediaType, tracked)
	if err != nil {
		raw.Close()
		return nil, nil, err
	}

	return readCloserFunc{Reader: decompressed, closeFn: raw.Close}, driver, nil
}

type readCloserFunc struct {
	io.Reader
	closeFn func() error
}

func (r readCloserFunc) Close() error { return r.closeFn() }

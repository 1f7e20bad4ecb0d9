package proxy

import (
	"testing"

	digest "github.com/opencontainers/go-digest"
	imgspec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukewarmtemp/ostree-ext-go/internal/imageref"
)

func testManifest() *imgspec.Manifest {
	return &imgspec.Manifest{
		Layers: []imgspec.Descriptor{
			{Digest: digest.Digest("sha256:aaaa"), Size: 10, MediaType: imgspec.MediaTypeImageLayerGzip},
		},
	}
}

func TestBlobSourceUsesManifestDescriptorForRegistry(t *testing.T) {
	digestStr, size, mediaType, err := blobSource(testManifest(), 0, imageref.Registry, nil)
	require.NoError(t, err)
	assert.Equal(t, "sha256:aaaa", digestStr)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, imgspec.MediaTypeImageLayerGzip, mediaType)
}

func TestBlobSourceUsesConvertedLayerForContainerStorage(t *testing.T) {
	converted := []ConvertedLayerInfo{
		{Digest: digest.Digest("sha256:bbbb"), Size: 20, MediaType: imgspec.MediaTypeImageLayer},
	}
	digestStr, size, mediaType, err := blobSource(testManifest(), 0, imageref.ContainerStorage, converted)
	require.NoError(t, err)
	assert.Equal(t, "sha256:bbbb", digestStr)
	assert.Equal(t, int64(20), size)
	assert.Equal(t, imgspec.MediaTypeImageLayer, mediaType)
}

func TestBlobSourceRequiresConvertedLayerForContainerStorage(t *testing.T) {
	_, _, _, err := blobSource(testManifest(), 0, imageref.ContainerStorage, nil)
	assert.Error(t, err)
}

func TestBlobSourceRejectsOutOfRangeIndex(t *testing.T) {
	_, _, _, err := blobSource(testManifest(), 5, imageref.Registry, nil)
	assert.Error(t, err)
}

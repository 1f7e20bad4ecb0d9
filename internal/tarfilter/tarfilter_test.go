package tarfilter

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, tw *tar.Writer, hdr *tar.Header, body []byte) {
	t.Helper()
	hdr.Size = int64(len(body))
	require.NoError(t, tw.WriteHeader(hdr))
	if len(body) > 0 {
		_, err := tw.Write(body)
		require.NoError(t, err)
	}
}

func readAllEntries(t *testing.T, r io.Reader) map[string]*tar.Header {
	t.Helper()
	out := map[string]*tar.Header{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		h := *hdr
		out[hdr.Name] = &h
	}
	return out
}

func TestFilterBasic(t *testing.T) {
	var src bytes.Buffer
	tw := tar.NewWriter(&src)
	writeEntry(t, tw, &tar.Header{Name: "./etc/systemd/system/foo.service", Typeflag: tar.TypeReg}, []byte("unit"))
	writeEntry(t, tw, &tar.Header{Name: "./blah", Typeflag: tar.TypeReg}, []byte("nope"))
	require.NoError(t, tw.Close())

	var dst bytes.Buffer
	tally, err := Filter(&src, &dst)
	require.NoError(t, err)

	entries := readAllEntries(t, &dst)
	_, hasUnit := entries["./usr/etc/systemd/system/foo.service"]
	assert.True(t, hasUnit)
	_, hasBlah := entries["./blah"]
	assert.False(t, hasBlah)
	_, hasBlahNormalized := entries["blah"]
	assert.False(t, hasBlahNormalized)

	assert.Equal(t, uint32(1), tally["blah"])
}

func TestFilterSysrootHardlink(t *testing.T) {
	var src bytes.Buffer
	tw := tar.NewWriter(&src)

	modified := time.Unix(1000, 0)

	objPath := SysrootPrefix + "/objects/ab/cdef.file"
	writeEntry(t, tw, &tar.Header{
		Name:     objPath,
		Typeflag: tar.TypeReg,
		ModTime:  modified,
	}, []byte("object-data"))

	writeEntry(t, tw, &tar.Header{
		Name:     "usr/bin/first-link",
		Typeflag: tar.TypeLink,
		Linkname: objPath,
		ModTime:  modified,
	}, nil)

	writeEntry(t, tw, &tar.Header{
		Name:     "usr/bin/second-link",
		Typeflag: tar.TypeLink,
		Linkname: objPath,
		ModTime:  modified,
	}, nil)

	require.NoError(t, tw.Close())

	var dst bytes.Buffer
	_, err := Filter(&src, &dst)
	require.NoError(t, err)

	entries := readAllEntries(t, &dst)

	_, objectEmitted := entries[objPath]
	assert.False(t, objectEmitted, "sysroot object path itself must never be emitted")

	first, ok := entries["usr/bin/first-link"]
	require.True(t, ok, "first link into sysroot becomes the canonical carrier")
	assert.Equal(t, byte(tar.TypeReg), first.Typeflag)

	second, ok := entries["usr/bin/second-link"]
	require.True(t, ok, "second link is rewritten to point at the carrier")
	assert.Equal(t, byte(tar.TypeLink), second.Typeflag)
	assert.Equal(t, "usr/bin/first-link", second.Linkname)
}

func TestFilterRejectsParentDirComponent(t *testing.T) {
	var src bytes.Buffer
	tw := tar.NewWriter(&src)
	writeEntry(t, tw, &tar.Header{Name: "usr/foo/../../bar", Typeflag: tar.TypeReg}, []byte("x"))
	require.NoError(t, tw.Close())

	var dst bytes.Buffer
	_, err := Filter(&src, &dst)
	assert.Error(t, err)
}

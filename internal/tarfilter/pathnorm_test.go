package tarfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValid(t *testing.T) {
	cases := []struct{ in, out string }{
		{"/usr/bin/blah", "./usr/bin/blah"},
		{"usr/bin/blah", "./usr/bin/blah"},
		{"usr///share/.//blah", "./usr/share/blah"},
		{"./", "."},
		{"/etc/foo", "./usr/etc/foo"},
		{"etc/foo", "./usr/etc/foo"},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, Normal, got.Kind, c.in)
		assert.Equal(t, c.out, got.Path, c.in)
	}
}

func TestNormalizeFiltered(t *testing.T) {
	cases := []struct{ in, prefix string }{
		{"/boot/vmlinuz", "boot"},
		{"var/lib/blah", "var"},
		{"./var/lib/blah", "var"},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, Filtered, got.Kind, c.in)
		assert.Equal(t, c.prefix, got.Prefix, c.in)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	_, err := Normalize("usr/foo/../../bar")
	assert.Error(t, err)
}

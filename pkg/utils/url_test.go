package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAbsoluteURL(t *testing.T) {
	base, err := url.Parse("http://example.com/a/b")
	require.NoError(t, err)

	abs, err := ToAbsoluteURL(base, "../c?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/c?x=1", abs)

	abs, err = ToAbsoluteURL(base, "https://other.org/")
	require.NoError(t, err)
	assert.Equal(t, "https://other.org/", abs)
}

func TestStripFragmentAndFuzzyKey(t *testing.T) {
	assert.Equal(t, "http://a.com/x?y=1", StripFragment("http://a.com/x?y=1#top"))
	assert.Equal(t, "http://a.com/x", StripFragment("http://a.com/x"))
	assert.Equal(t, "http://a.com/x", FuzzyKey("http://a.com/x?y=1#top"))
}

func TestHashURL(t *testing.T) {
	assert.Equal(t, HashURL("http://a.com/"), HashURL("http://a.com/"))
	assert.NotEqual(t, HashURL("http://a.com/"), HashURL("http://b.com/"))
	assert.Len(t, DigestHex([]byte("x")), 64)
}

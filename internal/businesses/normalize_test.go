package businesses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases host and scheme", in: "HTTPS://Maps.Google.com/maps/place/Acme", want: "https://maps.google.com/maps/place/Acme"},
		{name: "drops fragment and trailing slash", in: "https://maps.google.com/place/acme/#reviews", want: "https://maps.google.com/place/acme"},
		{name: "drops tracking params", in: "https://maps.google.com/?cid=123&utm_source=x&gclid=abc", want: "https://maps.google.com?cid=123"},
		{name: "sorts query", in: "https://example.com/p?b=2&a=1", want: "https://example.com/p?a=1&b=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "ftp://example.com", "not a url", "https://"} {
		_, err := NormalizeURL(in)
		assert.ErrorIs(t, err, ErrInvalidURL, in)
	}
}

func TestNormalizeURLSameBusiness(t *testing.T) {
	a, err := NormalizeURL("https://maps.google.com/place/acme-gym/?utm_campaign=spring")
	require.NoError(t, err)
	b, err := NormalizeURL("https://MAPS.google.com/place/acme-gym#top")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

package geoip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver_EmptyPath(t *testing.T) {
	r, err := NewResolver("  ")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, r.Lookup())
	assert.NoError(t, r.Close())
}

func TestNewResolver_MissingFile(t *testing.T) {
	_, err := NewResolver("/nonexistent/GeoLite2-Country.mmdb")
	assert.Error(t, err)
}

func TestCountryCode(t *testing.T) {
	var r *Resolver

	code, err := r.CountryCode("127.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, code)

	code, err = r.CountryCode("10.1.2.3")
	require.NoError(t, err)
	assert.Empty(t, code)

	_, err = r.CountryCode("not-an-ip")
	assert.Error(t, err)

	_, err = r.CountryCode("203.0.113.9")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

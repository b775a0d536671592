package address_test

import (
	"testing"

	"github.com/3nsoft-go/asmail-core/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonIdempotent(t *testing.T) {
	inputs := []string{
		"Alice@Example.ORG",
		"  bob@ex.org  ",
		"carol@EX.org",
	}
	for _, in := range inputs {
		c1, err := address.Canon(in)
		require.NoError(t, err)
		c2, err := address.Canon(c1)
		require.NoError(t, err)
		assert.Equal(t, c1, c2)
	}
}

func TestCanonCaseFold(t *testing.T) {
	a, err := address.Canon("Alice@Example.org")
	require.NoError(t, err)
	b, err := address.Canon("alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonWhitespace(t *testing.T) {
	a, err := address.Canon(" alice@example.org\t")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", a)
}

func TestCanonInvalid(t *testing.T) {
	for _, in := range []string{"", "noat", "@nolocal", "nodomain@", "a@"} {
		_, err := address.Canon(in)
		assert.ErrorIs(t, err, address.ErrInvalid)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, address.Equal("Alice@Example.org", " alice@EXAMPLE.org "))
	assert.False(t, address.Equal("alice@example.org", "bob@example.org"))
}

func TestDomain(t *testing.T) {
	c, err := address.Canon("alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, "example.org", address.Domain(c))
}

package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestExternalIDIgnoresCosmeticDifferences(t *testing.T) {
	t.Parallel()

	h := New()
	a, canonical, err := h.ExternalID("HTTPS://Banca.Example:443/concursos/tj?b=2&a=1#topo")
	require.NoError(t, err)
	b, _, err := h.ExternalID("https://banca.example/concursos/tj?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "https://banca.example/concursos/tj?a=1&b=2", canonical)

	other, _, err := h.ExternalID("https://banca.example/concursos/trf")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, _, err = h.ExternalID("/relative")
	require.Error(t, err)
}

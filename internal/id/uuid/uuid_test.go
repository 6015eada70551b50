package uuid

import (
	"testing"
	"time"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestTime(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	id, err := New().NewID()
	require.NoError(t, err)
	got, err := Time(id)
	require.NoError(t, err)
	assert.WithinDuration(t, before, got, 3*time.Second)

	_, err = Time(goUUID.NewString())
	require.Error(t, err)
	_, err = Time("nope")
	require.Error(t, err)
}

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Deterministic(t *testing.T) {
	a, err := Resolve("123 Main St, Temecula, CA")
	require.NoError(t, err)

	b, err := Resolve("123 Main St, Temecula, CA")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestResolve_NormalizesSurfaceDifferences(t *testing.T) {
	a, err := Resolve("123 Main St, Temecula, CA")
	require.NoError(t, err)

	b, err := Resolve("  123  MAIN st,   Temecula, ca ")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestResolve_DistinctKeys(t *testing.T) {
	a, err := Resolve("123 Main St")
	require.NoError(t, err)

	b, err := Resolve("124 Main St")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestResolve_EmptyKey(t *testing.T) {
	_, err := Resolve("   ")
	assert.ErrorIs(t, err, ErrEmptyNaturalKey)
}

func TestResolveRegion(t *testing.T) {
	a, err := ResolveRegion("Temecula", "Riverside County", "CA")
	require.NoError(t, err)

	b, err := ResolveRegion("temecula", "riverside  county", "ca")
	require.NoError(t, err)

	assert.Equal(t, a, b)

	_, err = ResolveRegion("", "", "")
	assert.ErrorIs(t, err, ErrEmptyNaturalKey)
}

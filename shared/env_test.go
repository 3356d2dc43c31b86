package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenv(t *testing.T) {
	t.Setenv("SHOPGUIDE_TEST_INT", "42")
	t.Setenv("SHOPGUIDE_TEST_BAD", "forty-two")
	t.Setenv("SHOPGUIDE_TEST_EMPTY", "")

	n, err := Getenv(GetenvInt, "SHOPGUIDE_TEST_INT", true, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Getenv(GetenvInt, "SHOPGUIDE_TEST_BAD", false, 0)
	assert.ErrorContains(t, err, "SHOPGUIDE_TEST_BAD")

	s, err := Getenv(GetenvString, "SHOPGUIDE_TEST_EMPTY", false, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)

	_, err = Getenv(GetenvString, "SHOPGUIDE_TEST_UNSET", true, "")
	assert.Error(t, err)

	assert.Panics(t, func() { MustGetenv(GetenvBool, "SHOPGUIDE_TEST_BAD", false, false) })
	assert.Equal(t, 1.5, MustGetenv(GetenvFloat, "SHOPGUIDE_TEST_UNSET", false, 1.5))
}

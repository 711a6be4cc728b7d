package stringutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShorten(t *testing.T) {
	require.Equal(t, "abc", Shorten("abc"))
	exact := strings.Repeat("a", ShortLength)
	require.Equal(t, exact, Shorten(exact))

	long := "0123456789abcdef" + strings.Repeat("x", 40) + "fedcba9876543210"
	require.Equal(t, "01234567...76543210", Shorten(long))
}

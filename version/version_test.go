/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionString(t *testing.T) {
	v := NewVersion(1, 9, 2)
	require.Equal(t, "v1.9.2", v.String())
}

func TestVersionComparison(t *testing.T) {
	v1 := NewVersion(1, 2, 3)
	v2 := NewVersion(1, 2, 3)
	v3 := NewVersion(1, 3, 0)

	require.True(t, v1.IsEqual(v1))
	require.True(t, v1.IsEqual(v2))
	require.True(t, v3.IsGreater(v1))
	require.False(t, v1.IsGreater(v3))
	require.True(t, v1.IsLess(v3))
	require.False(t, v3.IsLess(v1))
}

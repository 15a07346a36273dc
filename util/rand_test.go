/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomBytes(t *testing.T) {
	r1 := RandomHexString(16)
	r2 := RandomHexString(16)

	require.Equal(t, 32, len(r1))
	require.Equal(t, 32, len(r2))
	require.NotEqual(t, r1, r2)
	require.Len(t, RandomBytes(8), 8)
}

// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapAllocate(t *testing.T) {
	m := newBitmap()
	require.Equal(t, BlockID(2), m.allocate(1))
	require.Equal(t, BlockID(3), m.allocate(3))
	require.Equal(t, BlockID(6), m.allocate(1))
	require.EqualValues(t, 7, m.count)
	require.Zero(t, m.free())

	// a hole of three blocks fits a run of two, not a run of four
	m.release(3, 3)
	require.EqualValues(t, 3, m.free())
	require.Equal(t, BlockID(7), m.allocate(4))
	require.Equal(t, BlockID(3), m.allocate(2))
	require.EqualValues(t, 11, m.count)
}

func TestBitmapExtendsTrailingRun(t *testing.T) {
	m := newBitmap()
	m.allocate(4) // 2..5
	m.release(4, 2)
	id := m.allocate(3)
	require.Equal(t, BlockID(4), id)
	require.EqualValues(t, 7, m.count)
}

func TestBitmapEncode(t *testing.T) {
	m := newBitmap()
	for range 100 {
		m.allocate(1)
	}
	m.release(10, 5)

	data, err := m.encode()
	require.NoError(t, err)
	require.LessOrEqual(t, len(data), encodedSize(m.count))

	got, err := decodeBitmap(data, m.count)
	require.NoError(t, err)
	require.Equal(t, m.free(), got.free())
	for id := range BlockID(m.count) {
		require.Equal(t, m.used(id), got.used(id), "block %d", id)
	}

	_, err = decodeBitmap(data, 50)
	require.ErrorIs(t, err, ErrInvalidMeta)
}

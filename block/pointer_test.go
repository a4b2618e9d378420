// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPointerEncoding(t *testing.T) {
	ptr := Pointer{
		Generation:  7,
		Checksum:    0xdeadbeefcafe,
		Block:       42,
		Blocks:      3,
		Size:        3000,
		Stored:      1800,
		Type:        BlockInterior,
		Level:       2,
		Compression: CompressZstd,
	}
	data := ptr.Encode()
	require.Len(t, data, PointerSize)

	got, err := DecodePointer(data)
	require.NoError(t, err)
	require.Equal(t, ptr, got)

	_, err = DecodePointer(data[1:])
	require.ErrorIs(t, err, ErrInvalidPointer)
}

func TestPlaceholder(t *testing.T) {
	require.True(t, Placeholder().IsPlaceholder())
	require.Equal(t, "placeholder", Placeholder().String())

	got, err := DecodePointer(Placeholder().Encode())
	require.NoError(t, err)
	require.True(t, got.IsPlaceholder())
	require.False(t, Pointer{Type: BlockLeaf, Block: 2, Blocks: 1}.IsPlaceholder())
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{
		"":     CompressNone,
		"none": CompressNone,
		"S2":   CompressS2,
		"zstd": CompressZstd,
	} {
		got, err := ParseCompression(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
	_, err := ParseCompression("lz4")
	require.ErrorIs(t, err, ErrUnknownCompressor)
}

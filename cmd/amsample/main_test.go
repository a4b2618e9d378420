// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"testing"

	"github.com/dacapoday/amtree/kv"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.db")
	db, err := kv.Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, write(db, 100))
	require.NoError(t, db.Close())

	db, err = kv.Open(path, &kv.Options{ReadOnly: true})
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, 100+1+2+16, db.Len())

	s, err := db.Verify()
	require.NoError(t, err)
	require.Equal(t, db.Len(), s.Entries)
}

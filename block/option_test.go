// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import "go.uber.org/zap"

type testOption struct {
	magicCode [4]byte
	readOnly  bool
	blockSize int
	logger    *zap.Logger
}

func (o testOption) MagicCode() [4]byte {
	if o.magicCode == [4]byte{} {
		return [4]byte{'t', 'e', 's', 't'}
	}
	return o.magicCode
}
func (o testOption) ReadOnly() bool       { return o.readOnly }
func (o testOption) Logger() *zap.Logger { return o.logger }
func (o testOption) BlockSize() int {
	if o.blockSize == 0 {
		return 1024
	}
	return o.blockSize
}

// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the algorithm applied to a block payload.
type Compression uint8

const (
	CompressNone Compression = iota
	CompressS2
	CompressZstd
)

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressS2:
		return "s2"
	case CompressZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration name to a Compression.
// The empty name selects CompressNone.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressNone, nil
	case "s2":
		return CompressS2, nil
	case "zstd":
		return CompressZstd, nil
	}
	return 0, errors.Wrapf(ErrUnknownCompressor, "%q", name)
}

// codec holds the lazily built zstd state; EncodeAll and DecodeAll are safe
// for concurrent use.
type codec struct {
	once    sync.Once
	err     error
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func (c *codec) init() error {
	c.once.Do(func() {
		if c.encoder, c.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); c.err != nil {
			return
		}
		c.decoder, c.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return c.err
}

func (c *codec) close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// compress returns src unchanged with CompressNone when the algorithm does
// not shrink it.
func (c *codec) compress(algo Compression, src []byte) (dst []byte, used Compression, err error) {
	switch algo {
	case CompressNone:
		return src, CompressNone, nil
	case CompressS2:
		dst = s2.Encode(nil, src)
	case CompressZstd:
		if err = c.init(); err != nil {
			return
		}
		dst = c.encoder.EncodeAll(src, make([]byte, 0, len(src)))
	default:
		err = errors.Wrapf(ErrUnknownCompressor, "%v", algo)
		return
	}
	if len(dst) >= len(src) {
		return src, CompressNone, nil
	}
	return dst, algo, nil
}

func (c *codec) decompress(algo Compression, src []byte, size int) (dst []byte, err error) {
	switch algo {
	case CompressNone:
		dst = src
	case CompressS2:
		if dst, err = s2.Decode(make([]byte, size), src); err != nil {
			err = errors.Wrap(err, "s2")
			return
		}
	case CompressZstd:
		if err = c.init(); err != nil {
			return
		}
		if dst, err = c.decoder.DecodeAll(src, make([]byte, 0, size)); err != nil {
			err = errors.Wrap(err, "zstd")
			return
		}
	default:
		err = errors.Wrapf(ErrUnknownCompressor, "%v", algo)
		return
	}
	if len(dst) != size {
		err = errors.Wrapf(ErrInvalidPointer, "decoded %d bytes, expected %d", len(dst), size)
	}
	return
}

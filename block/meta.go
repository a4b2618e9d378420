// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

// Meta is the record stored in the two meta slots.
//
//	[0:4)   magic code
//	[4:8)   length of the CBOR body
//	[8:12)  CRC32-Castagnoli of the CBOR body
//	[12:)   CBOR body
type Meta struct {
	Descriptor []byte  `cbor:"1,keyasint"`
	Bitmap     Pointer `cbor:"2,keyasint"`
	Generation uint64  `cbor:"3,keyasint"`
	UpdateTime int64   `cbor:"4,keyasint"`
	BlockSize  uint32  `cbor:"5,keyasint"`
	BlockCount uint32  `cbor:"6,keyasint"`
	Version    uint8   `cbor:"7,keyasint"`
}

const (
	metaHeaderSize = 12
	metaVersion    = 1
)

var metaEncMode, _ = cbor.CoreDetEncOptions().EncMode()

var metaDecMode, _ = cbor.DecOptions{
	DupMapKey:       cbor.DupMapKeyEnforcedAPF,
	MaxNestedLevels: 4,
	MaxMapPairs:     16,
}.DecMode()

func encodeMeta(magic [4]byte, meta *Meta, blockSize int) (slot []byte, err error) {
	body, err := metaEncMode.Marshal(meta)
	if err != nil {
		err = errors.Wrap(err, "encode meta")
		return
	}
	if metaHeaderSize+len(body) > blockSize {
		err = errors.Wrapf(ErrOutOfSpace, "meta of %d bytes exceeds block size %d", len(body), blockSize)
		return
	}
	slot = make([]byte, blockSize)
	copy(slot, magic[:])
	binary.LittleEndian.PutUint32(slot[4:], uint32(len(body)))
	binary.LittleEndian.PutUint32(slot[8:], checksum(body))
	copy(slot[metaHeaderSize:], body)
	return
}

// readMeta decodes the slot at off. A slot that was never written reports
// io.EOF.
func readMeta(file io.ReaderAt, off int64, magic [4]byte) (meta *Meta, err error) {
	var head [metaHeaderSize]byte
	if _, err = file.ReadAt(head[:], off); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return
	}
	if head == [metaHeaderSize]byte{} {
		err = io.EOF
		return
	}
	if [4]byte(head[:4]) != magic {
		err = errors.Wrapf(ErrUnknownMagicCode, "%q", head[:4])
		return
	}
	size := binary.LittleEndian.Uint32(head[4:])
	if size > MaxBlockSize-metaHeaderSize {
		err = errors.Wrapf(ErrInvalidMeta, "body size %d", size)
		return
	}
	body := make([]byte, size)
	if _, err = file.ReadAt(body, off+metaHeaderSize); err != nil {
		err = errors.Wrapf(ErrInvalidMeta, "read body: %v", err)
		return
	}
	if checksum(body) != binary.LittleEndian.Uint32(head[8:]) {
		err = errors.Wrap(ErrInvalidMeta, "checksum")
		return
	}
	meta = new(Meta)
	if err = metaDecMode.Unmarshal(body, meta); err != nil {
		meta = nil
		err = errors.Wrapf(ErrInvalidMeta, "decode: %v", err)
		return
	}
	if err = validBlockSize(int(meta.BlockSize)); err != nil {
		meta = nil
		return
	}
	if meta.BlockCount < firstDataBlock {
		err = errors.Wrapf(ErrInvalidMeta, "block count %d", meta.BlockCount)
		meta = nil
	}
	return
}

func validBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize || size&(size-1) != 0 {
		return errors.Wrapf(ErrInvalidBlockSize, "%d", size)
	}
	return nil
}

// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/arraymap"
	"github.com/dacapoday/amtree/block"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a tree. Zero fields take their defaults.
type Config struct {
	// LeafSize is the used-space threshold above which a leaf is split.
	LeafSize int `yaml:"leafSize" cbor:"1,keyasint,omitempty"`
	// NodeSize is the same threshold for interior nodes.
	NodeSize int `yaml:"nodeSize" cbor:"2,keyasint,omitempty"`
	// LeafCompressor and NodeCompressor name the block compression:
	// none, s2 or zstd.
	LeafCompressor string `yaml:"leafCompressor" cbor:"3,keyasint,omitempty"`
	NodeCompressor string `yaml:"nodeCompressor" cbor:"4,keyasint,omitempty"`
	// LimitEntrySize caps the marshalled size of one record.
	LimitEntrySize int `yaml:"limitEntrySize" cbor:"5,keyasint,omitempty"`
}

const (
	DefaultLeafSize       = 4096
	DefaultNodeSize       = 4096
	DefaultLimitEntrySize = 32768

	MinNodeSize = 128
	MaxNodeSize = 1 << 20
)

func DefaultConfig() Config {
	return Config{
		LeafSize:       DefaultLeafSize,
		NodeSize:       DefaultNodeSize,
		LimitEntrySize: DefaultLimitEntrySize,
	}
}

// WithDefaults fills the zero fields.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.LeafSize == 0 {
		c.LeafSize = def.LeafSize
	}
	if c.NodeSize == 0 {
		c.NodeSize = def.NodeSize
	}
	if c.LimitEntrySize == 0 {
		c.LimitEntrySize = def.LimitEntrySize
	}
	return c
}

// Validate checks the ranges of every field.
func (c Config) Validate() error {
	if c.LeafSize < MinNodeSize || c.LeafSize > MaxNodeSize {
		return errors.Newf("leafSize %d out of range [%d, %d]", c.LeafSize, MinNodeSize, MaxNodeSize)
	}
	if c.NodeSize < MinNodeSize || c.NodeSize > MaxNodeSize {
		return errors.Newf("nodeSize %d out of range [%d, %d]", c.NodeSize, MinNodeSize, MaxNodeSize)
	}
	if c.LimitEntrySize <= arraymap.EntryHeaderSize || c.LimitEntrySize > arraymap.MaxValueSize {
		return errors.Newf("limitEntrySize %d out of range (%d, %d]", c.LimitEntrySize, arraymap.EntryHeaderSize, arraymap.MaxValueSize)
	}
	if _, err := block.ParseCompression(c.LeafCompressor); err != nil {
		return errors.Wrap(err, "leafCompressor")
	}
	if _, err := block.ParseCompression(c.NodeCompressor); err != nil {
		return errors.Wrap(err, "nodeCompressor")
	}
	return nil
}

// MaxKeySize is the largest key a tree accepts. An over-full interior node
// then holds at least eight routing entries.
func (c Config) MaxKeySize() int {
	return min(c.NodeSize/8, arraymap.MaxKeySize)
}

func (c Config) compressors() (leaf, node block.Compression) {
	leaf, _ = block.ParseCompression(c.LeafCompressor)
	node, _ = block.ParseCompression(c.NodeCompressor)
	return
}

// ParseConfig decodes a YAML document. Unknown options are rejected and
// missing ones take their defaults.
func ParseConfig(doc []byte) (c Config, err error) {
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err = dec.Decode(&c); err != nil && err != io.EOF {
		err = errors.Wrap(err, "tree.ParseConfig")
		return
	}
	c = c.WithDefaults()
	if err = c.Validate(); err != nil {
		err = errors.Wrap(err, "tree.ParseConfig")
	}
	return
}

// Descriptor is what a commit publishes through the block store.
type Descriptor struct {
	ID      uuid.UUID     `cbor:"1,keyasint"`
	Root    block.Pointer `cbor:"2,keyasint"`
	Entries uint64        `cbor:"3,keyasint"`
	Height  uint8         `cbor:"4,keyasint"`
	Config  Config        `cbor:"5,keyasint"`
}

var descEncMode, _ = cbor.CoreDetEncOptions().EncMode()

// DecodeDescriptor parses the bytes published by Commit.
func DecodeDescriptor(data []byte) (d Descriptor, err error) {
	if err = cbor.Unmarshal(data, &d); err != nil {
		err = errors.Wrapf(ErrCorrupted, "descriptor: %v", err)
		return
	}
	if d.Height == 0 || d.Height > MaxLevels {
		err = errors.Wrapf(ErrCorrupted, "descriptor height %d", d.Height)
		return
	}
	if !d.Root.IsPlaceholder() && int(d.Root.Level) != int(d.Height)-1 {
		err = errors.Wrapf(ErrCorrupted, "root level %d with height %d", d.Root.Level, d.Height)
	}
	return
}

// Encode returns the CBOR form of d.
func (d Descriptor) Encode() ([]byte, error) {
	return descEncMode.Marshal(d)
}

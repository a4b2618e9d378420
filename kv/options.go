// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dacapoday/amtree/tree"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Options configures a database. The zero value is usable.
type Options struct {
	// Tree applies to new databases only; an existing one keeps the
	// configuration it was created with.
	Tree tree.Config `yaml:"tree"`
	// BlockSize of a new file, a power of two in [512, 1MiB].
	BlockSize int  `yaml:"blockSize"`
	ReadOnly  bool `yaml:"readOnly"`

	Logger *zap.Logger `yaml:"-"`
}

const DefaultBlockSize = 4096

// LoadOptions reads options from a YAML file.
//
//	blockSize: 4096
//	tree:
//	  leafSize: 8192
//	  leafCompressor: zstd
func LoadOptions(path string) (opts *Options, err error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if opts, err = ParseOptions(doc); err != nil {
		err = errors.Wrapf(err, "%s", path)
	}
	return
}

// ParseOptions decodes a YAML document, rejecting unknown fields.
func ParseOptions(doc []byte) (opts *Options, err error) {
	opts = new(Options)
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err = dec.Decode(opts); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "kv.ParseOptions")
	}
	opts.Tree = opts.Tree.WithDefaults()
	if err = opts.Tree.Validate(); err != nil {
		return nil, errors.Wrap(err, "kv.ParseOptions")
	}
	return opts, nil
}

// opt adapts Options to block.Option.
type opt struct {
	*Options
}

func (o opt) MagicCode() [4]byte {
	return [4]byte{'A', 'M', 'T', '1'}
}

func (o opt) ReadOnly() bool {
	return o.Options.ReadOnly
}

func (o opt) BlockSize() int {
	if o.Options.BlockSize == 0 {
		return DefaultBlockSize
	}
	return o.Options.BlockSize
}

func (o opt) Logger() *zap.Logger {
	return o.logger()
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

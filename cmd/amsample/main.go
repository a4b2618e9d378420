// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// amsample writes a sample database for trying out amview.
//
// Usage:
//
//	amsample [-config db.yaml] [-n count] <filename>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dacapoday/amtree/kv"
)

func main() {
	countFlag := flag.Int("n", 1000, "number of generated keys")
	configFlag := flag.String("config", "", "YAML options file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: amsample [-config file] [-n count] <filename>")
		os.Exit(1)
	}

	opts := new(kv.Options)
	if *configFlag != "" {
		var err error
		if opts, err = kv.LoadOptions(*configFlag); err != nil {
			panic(err)
		}
	}

	db, err := kv.Open(flag.Arg(0), opts)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err = write(db, *countFlag); err != nil {
		panic(err)
	}
	fmt.Printf("%d entries\n", db.Len())
}

func write(db *kv.DB, count int) (err error) {
	if err = db.Set([]byte("hello"), []byte("world")); err != nil {
		return
	}
	for i := range count {
		key := fmt.Appendf(nil, "bk%05dke", i)
		val := fmt.Appendf(nil, "bv%05dve", i)
		if err = db.Set(key, val); err != nil {
			return
		}
	}

	// large records, still within the default key and entry limits
	key := []byte("bigkey[")
	for i := range 80 {
		key = fmt.Appendf(key, "k%05d", i)
	}
	key = append(key, "]bigkey"...)
	if err = db.Set(key, []byte("bigkey-val")); err != nil {
		return
	}

	val := []byte("bigval[")
	for i := range 4000 {
		val = fmt.Appendf(val, "v%05d", i)
	}
	val = append(val, "]bigval"...)
	if err = db.Set([]byte("bigval-key"), val); err != nil {
		return
	}

	// binary values show up as hex
	for i := range 16 {
		if err = db.Set(fmt.Appendf(nil, "bin-%02d", i), []byte{0, byte(i), 0xff}); err != nil {
			return
		}
	}
	return db.Commit()
}

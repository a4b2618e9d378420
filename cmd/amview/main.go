// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// amview inspects amtree database files.
//
// Usage:
//
//	amview <filename>              # interactive mode
//	amview -l <filename>           # list mode (print all)
//	amview -l -n 20 <filename>     # list first 20 items
//	amview -stats <filename>       # tree and block statistics
//	amview -verify <filename>      # check every committed block
//	amview -config db.yaml <file>  # options for a new file
//
// Interactive mode:
//
//	j/↓    scroll down
//	k/↑    scroll up
//	g      jump to first
//	G      jump to last
//	/      seek key
//	q/Esc  quit
package main

import (
	"flag"
	"fmt"
	"os"
	"unicode"
	"unicode/utf8"

	"github.com/dacapoday/amtree/kv"
	"go.uber.org/zap"
)

func main() {
	listFlag := flag.Bool("l", false, "list mode (non-interactive)")
	countFlag := flag.Int("n", 0, "number of items (0 = all)")
	statsFlag := flag.Bool("stats", false, "print statistics")
	verifyFlag := flag.Bool("verify", false, "verify the committed tree")
	configFlag := flag.String("config", "", "YAML options file")
	verboseFlag := flag.Bool("v", false, "debug logging to stderr")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: amview [-l] [-n count] [-stats] [-verify] [-config file] <filename>")
		os.Exit(1)
	}

	opts := new(kv.Options)
	if *configFlag != "" {
		var err error
		if opts, err = kv.LoadOptions(*configFlag); err != nil {
			fatal(err)
		}
	}
	if *verboseFlag {
		log, err := zap.NewDevelopment()
		if err != nil {
			fatal(err)
		}
		defer log.Sync()
		opts.Logger = log
	}
	opts.ReadOnly = true

	db, err := kv.Open(flag.Arg(0), opts)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	switch {
	case *statsFlag:
		runStats(db)
	case *verifyFlag:
		runVerify(db)
	case *listFlag:
		runList(db, *countFlag)
	default:
		runInteractive(db)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %+v\n", err)
	os.Exit(1)
}

func runList(db *kv.DB, count int) {
	iter := db.Iter()
	n := 0
	for iter.SeekFirst(); iter.Valid(); iter.Next() {
		if count > 0 && n >= count {
			break
		}
		fmt.Printf("%s: %s\n", display(iter.Key(), 40), display(iter.Val(), 60))
		n++
	}
	if err := iter.Error(); err != nil {
		fatal(err)
	}
}

func runStats(db *kv.DB) {
	s := db.Stats()
	c := db.Config()
	fmt.Printf("entries:      %d\n", s.Tree.Entries)
	fmt.Printf("height:       %d\n", s.Tree.Height)
	fmt.Printf("leaf size:    %d (%s)\n", c.LeafSize, compressor(c.LeafCompressor))
	fmt.Printf("node size:    %d (%s)\n", c.NodeSize, compressor(c.NodeCompressor))
	fmt.Printf("generation:   %d\n", s.Block.Generation)
	fmt.Printf("block size:   %d\n", s.Block.BlockSize)
	fmt.Printf("blocks:       %d (%d free)\n", s.Block.BlockCount, s.Block.FreeBlocks)
	fmt.Printf("file size:    %d\n", int64(s.Block.BlockCount)*int64(s.Block.BlockSize))
}

func compressor(name string) string {
	if name == "" {
		return "none"
	}
	return name
}

func runVerify(db *kv.DB) {
	s, err := db.Verify()
	if err != nil {
		fatal(err)
	}
	ratio := 1.0
	if s.Payload > 0 {
		ratio = float64(s.Stored) / float64(s.Payload)
	}
	fmt.Printf("ok: %d entries in %d nodes (%d leaves), height %d, stored %d of %d bytes (%.2f)\n",
		s.Entries, s.Nodes, s.Leaves, s.Height, s.Stored, s.Payload, ratio)
}

// display formats bytes for display, truncating if needed.
// Tries to show as string if printable, otherwise hex.
func display(b []byte, maxLen int) string {
	if len(b) == 0 {
		return "(empty)"
	}
	if utf8.Valid(b) && isPrintable(b) {
		runes := []rune(string(b))
		if len(runes) > maxLen-3 {
			return string(runes[:maxLen-3]) + "..."
		}
		return string(runes)
	}
	hex := fmt.Sprintf("%x", b)
	if len(hex) > maxLen-3 {
		return hex[:maxLen-3] + "..."
	}
	return hex
}

func isPrintable(b []byte) bool {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/dacapoday/amtree/kv"
	"github.com/dacapoday/amtree/tree"
	"golang.org/x/term"
)

func runInteractive(db *kv.DB) {
	iter := db.Iter()
	iter.SeekFirst()

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fatal(err)
	}
	defer term.Restore(fd, oldState)

	v := &viewer{iter: iter, total: db.Len()}
	v.updateSize()
	v.load()

	fmt.Print("\033[?25l\033[2J")              // hide cursor, clear screen once
	defer fmt.Print("\033[?25h\033[2J\033[H") // show cursor, clear screen

	reader := bufio.NewReader(os.Stdin)
	for {
		if v.updateSize() {
			v.load()
		}
		v.render()

		b, err := reader.ReadByte()
		if err != nil {
			return
		}
		v.status = ""

		switch b {
		case 'q', 3, 27: // q, Ctrl+C, Esc
			if b == 27 && reader.Buffered() > 0 {
				v.escape(reader)
				continue
			}
			return
		case 'j':
			v.down()
		case 'k':
			v.up()
		case 'g':
			v.first()
		case 'G':
			v.last()
		case '/':
			v.search(reader)
		}
	}
}

type item struct {
	key, val []byte
}

// viewer keeps a window of items and the iterator parked on the first one.
type viewer struct {
	iter    *tree.EntryIterator
	items   []item
	total   int
	width   int
	height  int
	atStart bool
	atEnd   bool
	status  string
}

func (v *viewer) escape(reader *bufio.Reader) {
	if b, _ := reader.ReadByte(); b != '[' {
		return
	}
	b, _ := reader.ReadByte()
	switch b {
	case 'A':
		v.up()
	case 'B':
		v.down()
	case '5':
		reader.ReadByte() // '~'
		v.page(v.up)
	case '6':
		reader.ReadByte()
		v.page(v.down)
	}
}

// updateSize reports whether the terminal size changed.
func (v *viewer) updateSize() bool {
	w, h, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		w, h = 80, 24
	}
	if w == v.width && h == v.height {
		return false
	}
	v.width, v.height = w, h
	return true
}

func (v *viewer) lines() int {
	return max(1, v.height-4) // title, two separators, status
}

func (v *viewer) current() item {
	return item{key: bytes.Clone(v.iter.Key()), val: bytes.Clone(v.iter.Val())}
}

// load fills the window from the iterator position.
func (v *viewer) load() {
	v.items = v.items[:0]
	v.atStart, v.atEnd = false, false
	if !v.iter.Valid() && !v.iter.SeekFirst() {
		v.atStart, v.atEnd = true, true
		v.report()
		return
	}

	for len(v.items) < v.lines() && v.iter.Valid() {
		v.items = append(v.items, v.current())
		if !v.iter.Next() {
			v.atEnd = true
		}
	}
	v.park()
	v.atStart = !v.iter.Prev()
	v.park()
}

// park moves the iterator back to the first item of the window.
func (v *viewer) park() {
	if len(v.items) > 0 {
		v.iter.Seek(v.items[0].key)
	}
}

func (v *viewer) report() {
	if err := v.iter.Error(); err != nil {
		v.status = err.Error()
	}
}

func (v *viewer) down() {
	if len(v.items) == 0 {
		return
	}
	v.iter.Seek(v.items[len(v.items)-1].key)
	if v.iter.Next() {
		v.items = append(v.items[1:], v.current())
		v.atStart = false
		v.atEnd = !v.iter.Next()
	} else if len(v.items) > 1 {
		// scroll past the end until one item is left
		v.items = v.items[1:]
		v.atEnd = true
	}
	v.park()
	v.report()
}

func (v *viewer) up() {
	if v.atStart || len(v.items) == 0 {
		return
	}
	v.park()
	if v.iter.Prev() {
		prev := v.current()
		if len(v.items) >= v.lines() {
			v.items = v.items[:len(v.items)-1]
		}
		v.items = append([]item{prev}, v.items...)
		v.atEnd = false
		v.atStart = !v.iter.Prev()
	}
	v.park()
	v.report()
}

func (v *viewer) page(step func()) {
	for range v.lines() - 1 {
		step()
	}
}

func (v *viewer) first() {
	v.iter.SeekFirst()
	v.load()
}

func (v *viewer) last() {
	v.iter.SeekLast()
	for range v.lines() - 1 {
		if !v.iter.Prev() {
			break
		}
	}
	v.load()
}

func (v *viewer) search(reader *bufio.Reader) {
	fmt.Print("\033[?25h")
	fmt.Printf("\033[%d;1H\033[K/", v.height)

	var input []byte
	for {
		b, err := reader.ReadByte()
		if err != nil {
			break
		}
		if b == 27 || b == 3 {
			fmt.Print("\033[?25l")
			return
		}
		if b == 13 || b == 10 {
			break
		}
		if b == 127 || b == 8 {
			if len(input) > 0 {
				input = input[:len(input)-1]
				fmt.Print("\b \b")
			}
			continue
		}
		if b >= 32 && b < 127 {
			input = append(input, b)
			fmt.Print(string(b))
		}
	}
	fmt.Print("\033[?25l")
	if len(input) == 0 {
		return
	}

	if v.iter.Seek(input) {
		v.load()
		v.status = fmt.Sprintf("jumped to: %s", display(input, 20))
	} else {
		v.status = "not found"
		v.park()
	}
}

func (v *viewer) render() {
	var b strings.Builder
	b.WriteString("\033[H")

	fmt.Fprintf(&b, "[ amview ] %d entries\033[K\r\n", v.total)
	b.WriteString(strings.Repeat("─", v.width))
	b.WriteString("\033[K\r\n")

	keyWidth := 32
	valWidth := max(20, v.width-keyWidth-4)
	for i := range v.lines() {
		if i < len(v.items) {
			it := v.items[i]
			b.WriteString(display(it.key, keyWidth))
			b.WriteString(": ")
			b.WriteString(display(it.val, valWidth))
		} else {
			b.WriteString("~")
		}
		b.WriteString("\033[K\r\n")
	}

	b.WriteString(strings.Repeat("─", v.width))
	b.WriteString("\033[K\r\n")

	pos := ""
	switch {
	case v.atStart && v.atEnd:
		pos = "[all]"
	case v.atStart:
		pos = "[top]"
	case v.atEnd:
		pos = "[end]"
	}
	status := v.status
	if status == "" {
		status = "j/k:scroll g/G:jump /:seek q:quit"
	}
	fmt.Fprintf(&b, " %s %s\033[K", status, pos)

	fmt.Print(b.String())
}

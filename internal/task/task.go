// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package task runs independent jobs on goroutines and collects their errors.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Group fans jobs out to goroutines. The zero value runs without a limit.
//
//	var g task.Group
//	g.Go(func() error { ... })
//	err := g.Wait()
type Group struct {
	wg   sync.WaitGroup
	sem  chan struct{}
	head atomic.Pointer[failure]
}

// WithLimit returns a Group running at most n jobs at once.
func WithLimit(n int) *Group {
	g := new(Group)
	if n > 0 {
		g.sem = make(chan struct{}, n)
	}
	return g
}

// Go runs f on a new goroutine. A panic inside f is recovered and reported by
// Wait. Jobs may start more jobs on the same Group.
func (g *Group) Go(f func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if g.sem != nil {
			g.sem <- struct{}{}
			defer func() { <-g.sem }()
		}
		done := false
		defer func() {
			if done {
				return
			}
			switch v := recover().(type) {
			case nil:
			case error:
				g.push(errors.WithSecondaryError(errors.New("task panicked"), v))
			default:
				g.push(errors.Newf("task panicked: %v", v))
			}
		}()
		if err := f(); err != nil {
			g.push(err)
		}
		done = true
	}()
}

func (g *Group) push(err error) {
	f := &failure{err: err}
	for {
		head := g.head.Load()
		f.next = head
		if g.head.CompareAndSwap(head, f) {
			return
		}
	}
}

// Wait blocks until every job returned and joins their errors.
// The Group can be reused afterwards.
func (g *Group) Wait() error {
	g.wg.Wait()
	var errs []error
	for f := g.head.Swap(nil); f != nil; f = f.next {
		errs = append(errs, f.err)
	}
	return errors.Join(errs...)
}

type failure struct {
	next *failure
	err  error
}

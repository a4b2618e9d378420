// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestGroupSuccess(t *testing.T) {
	var g Group
	var count atomic.Int32
	for range 10 {
		g.Go(func() error {
			count.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count.Load() != 10 {
		t.Errorf("expected 10 jobs, ran %d", count.Load())
	}
}

func TestGroupErrors(t *testing.T) {
	var g Group
	first := errors.New("first")
	second := errors.New("second")
	g.Go(func() error { return first })
	g.Go(func() error { return second })
	g.Go(func() error { return nil })

	err := g.Wait()
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("expected both errors, got %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Errorf("expected reset after Wait, got %v", err)
	}
}

func TestGroupPanic(t *testing.T) {
	var g Group
	g.Go(func() error { panic("boom") })
	err := g.Wait()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected recovered panic, got %v", err)
	}
}

func TestGroupPanicError(t *testing.T) {
	var g Group
	cause := errors.New("cause")
	g.Go(func() error { panic(cause) })
	err := g.Wait()
	if err == nil || !strings.Contains(err.Error(), "task panicked") {
		t.Errorf("expected recovered panic, got %v", err)
	}
}

func TestGroupNested(t *testing.T) {
	g := WithLimit(2)
	var count atomic.Int32
	var spawn func(depth int) error
	spawn = func(depth int) error {
		count.Add(1)
		if depth == 0 {
			return nil
		}
		for range 2 {
			g.Go(func() error { return spawn(depth - 1) })
		}
		return nil
	}
	g.Go(func() error { return spawn(4) })
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if count.Load() != 31 {
		t.Errorf("expected 31 jobs, ran %d", count.Load())
	}
}

func TestGroupLimit(t *testing.T) {
	g := WithLimit(3)
	var running, peak atomic.Int32
	release := make(chan struct{})
	for range 12 {
		g.Go(func() error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
	}
	close(release)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent jobs, saw %d", peak.Load())
	}
}

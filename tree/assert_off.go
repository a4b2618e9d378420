//go:build !debug

// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package tree

// assertNode is a no-op in production.
// Enable with -tags debug for runtime checks.
func assertNode(*node) {}

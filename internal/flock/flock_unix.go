// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package flock

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func lock(file *os.File, shared bool) (err error) {
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	for {
		err = unix.Flock(int(file.Fd()), how|unix.LOCK_NB)
		if err != unix.EINTR {
			break
		}
	}
	if err == unix.EWOULDBLOCK {
		return errors.Wrapf(ErrLocked, "%s", file.Name())
	}
	if err != nil {
		return errors.Wrapf(err, "flock %s", file.Name())
	}
	return nil
}

func unlock(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrapf(err, "funlock %s", file.Name())
	}
	return nil
}

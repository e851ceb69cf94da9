// Package fs adapts the rangefs driver to bazil.org/fuse.
//
// This file contains error handling utilities.
package fs

import (
	"errors"
	"syscall"

	"rangefs/internal/driver"
	"rangefs/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// ToFuseError converts a driver error to the errno FUSE replies with.
// Not-found errors are routine (shell completion, editors probing for
// backup files) and only traced; everything else is logged at debug.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	errno := driver.ToErrno(err)
	if errors.Is(err, driver.ErrNotFound) {
		errLogger.Trace("Converting driver error to %v: %v", errno, err)
	} else {
		errLogger.Debug("Converting driver error to %v: %v", errno, err)
	}
	return errno
}

// IsTemporary returns true if the error is likely temporary and the
// operation could succeed if retried.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, syscall.EAGAIN):
		return true
	case errors.Is(err, syscall.EBUSY):
		return true
	case errors.Is(err, syscall.ETIMEDOUT):
		return true
	default:
		return false
	}
}

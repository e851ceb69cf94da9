package driver

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

var (
	// ErrNotFound indicates a name or inode absent from the catalog
	ErrNotFound = errors.New("no such file")

	// ErrIO indicates the backing file could not be probed or read
	ErrIO = errors.New("input/output error")

	// ErrInvalid indicates a request the kernel should never send
	ErrInvalid = errors.New("invalid argument")
)

// Error wraps a failed operation with the inode and name it concerned.
type Error struct {
	Op    string // Operation that failed (e.g., "lookup", "read")
	Inode uint64 // Affected inode, 0 if unknown
	Name  string // Affected name, if any
	Err   error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("%s %q failed: %v", e.Op, e.Name, e.Err)
	case e.Inode != 0:
		return fmt.Sprintf("%s inode %d failed: %v", e.Op, e.Inode, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// ioError marks cause as an I/O failure while keeping it in the message.
func ioError(cause error) error {
	if cause == nil {
		return ErrIO
	}
	return fmt.Errorf("%w: %v", ErrIO, cause)
}

// ToErrno converts a driver error to the errno replied to the kernel.
// Sentinels take precedence over any wrapped OS error.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrIO):
		return syscall.EIO
	case errors.Is(err, ErrInvalid):
		return syscall.EINVAL
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// Common operation names for consistent logging and error reporting
const (
	OpInit    = "init"
	OpLookup  = "lookup"
	OpGetattr = "getattr"
	OpReadDir = "readdir"
	OpOpen    = "open"
	OpRead    = "read"
)

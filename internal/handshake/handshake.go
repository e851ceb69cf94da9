// Package handshake lets a detached filesystem process tell the process
// that launched it whether the mount succeeded. Exactly one message is
// sent; the launcher blocks until it arrives, the sender disappears, or
// the wait times out.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rangefs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("handshake")

	// ErrAlreadySent is returned by a second Send.
	ErrAlreadySent = errors.New("handshake message already sent")

	// ErrMountFailed wraps the failure reported by the detached process.
	ErrMountFailed = errors.New("mount failed")

	// ErrTimeout is returned when no message arrived in time.
	ErrTimeout = errors.New("timed out waiting for mount status")

	// ErrSenderGone is returned when the sending side went away without
	// reporting anything, e.g. because the detached process crashed.
	ErrSenderGone = errors.New("detached process exited before reporting mount status")
)

// Sender is the detached side of the handshake. Send(nil) reports a
// successful mount; any other error is reported as a failure, even one
// whose message is empty. Only the first call delivers a message.
type Sender interface {
	Send(status error) error
}

// Receiver is the launcher side. Receive returns nil when the mount
// succeeded and an error wrapping ErrMountFailed when it did not.
type Receiver interface {
	Receive(ctx context.Context) error
}

// once enforces the single message contract for every Sender.
type once struct {
	mu   sync.Mutex
	sent bool
}

func (o *once) claim() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sent {
		return ErrAlreadySent
	}
	o.sent = true
	return nil
}

// unknownFailure replaces an empty failure message so the launcher always
// has something to show.
const unknownFailure = "unknown error"

func failureMessage(status error) string {
	if msg := status.Error(); msg != "" {
		return msg
	}
	return unknownFailure
}

func mountFailed(msg string) error {
	return fmt.Errorf("%w: %s", ErrMountFailed, msg)
}

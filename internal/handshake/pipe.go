package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Status bytes written at the start of a pipe message.
const (
	statusOK     byte = 0
	statusFailed byte = 1
)

// maxMessage bounds how much of a failure message is read.
const maxMessage = 64 << 10

// PipeSender writes the handshake message to the write end of a pipe
// and closes it.
type PipeSender struct {
	once
	w *os.File
}

// PipeReceiver reads the handshake message from the read end of a pipe.
type PipeReceiver struct {
	r *os.File
}

var (
	_ Sender   = (*PipeSender)(nil)
	_ Receiver = (*PipeReceiver)(nil)
)

// NewPipe creates both ends of a cross-process handshake. The write end
// is normally handed to a child process through Spawn.
func NewPipe() (*PipeSender, *PipeReceiver, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create handshake pipe: %w", err)
	}
	return &PipeSender{w: w}, &PipeReceiver{r: r}, nil
}

// NewPipeSender wraps an inherited write end.
func NewPipeSender(w *os.File) *PipeSender {
	return &PipeSender{w: w}
}

// Send implements Sender.
func (s *PipeSender) Send(status error) error {
	if err := s.claim(); err != nil {
		return err
	}
	defer s.w.Close()

	buf := []byte{statusOK}
	if status != nil {
		buf = append([]byte{statusFailed}, failureMessage(status)...)
	}
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("failed to send mount status: %w", err)
	}
	logger.Debug("Sent mount status (ok=%v)", status == nil)
	return nil
}

// Close releases the write end without sending. The receiver then sees
// ErrSenderGone.
func (s *PipeSender) Close() error {
	return s.w.Close()
}

// Receive implements Receiver. It returns when the sender wrote its
// message and closed the pipe, when every copy of the write end is closed
// without a message, or when ctx is done.
func (r *PipeReceiver) Receive(ctx context.Context) error {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(io.LimitReader(r.r, maxMessage))
		done <- result{data: data, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// Closing unblocks the reader goroutine.
		r.r.Close()
		<-done
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	r.r.Close()

	if res.err != nil && !errors.Is(res.err, os.ErrClosed) {
		return fmt.Errorf("failed to receive mount status: %w", res.err)
	}
	if len(res.data) == 0 {
		return ErrSenderGone
	}
	switch res.data[0] {
	case statusOK:
		return nil
	case statusFailed:
		msg := string(res.data[1:])
		if msg == "" {
			msg = unknownFailure
		}
		return mountFailed(msg)
	default:
		return fmt.Errorf("unexpected mount status byte %#x", res.data[0])
	}
}

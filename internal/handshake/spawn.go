package handshake

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// EnvFD names the environment variable telling a detached child which
// inherited descriptor is the handshake pipe.
const EnvFD = "RANGEFS_HANDSHAKE_FD"

// firstExtraFD is the descriptor number of cmd.ExtraFiles[0] in the child.
const firstExtraFD = 3

// Spawn starts cmd detached from the terminal with the write end of a new
// handshake pipe as an extra descriptor. The parent's copy of the write
// end is closed before returning so a crashing child is seen as EOF.
func Spawn(cmd *exec.Cmd) (*PipeReceiver, error) {
	sender, receiver, err := NewPipe()
	if err != nil {
		return nil, err
	}

	cmd.ExtraFiles = append([]*os.File{sender.w}, cmd.ExtraFiles...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", EnvFD, firstExtraFD))
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true

	if err := cmd.Start(); err != nil {
		sender.Close()
		receiver.r.Close()
		return nil, fmt.Errorf("failed to start detached process: %w", err)
	}
	sender.Close()
	logger.Debug("Started detached process %d", cmd.Process.Pid)
	return receiver, nil
}

// FromEnv returns the Sender inherited from a launcher, or false when the
// process was not started through Spawn. The variable is removed so
// further children do not inherit it.
func FromEnv() (*PipeSender, bool, error) {
	value, ok := os.LookupEnv(EnvFD)
	if !ok {
		return nil, false, nil
	}
	os.Unsetenv(EnvFD)

	fd, err := strconv.Atoi(value)
	if err != nil || fd < firstExtraFD {
		return nil, true, fmt.Errorf("invalid %s=%q", EnvFD, value)
	}
	f := os.NewFile(uintptr(fd), "handshake")
	if f == nil {
		return nil, true, fmt.Errorf("handshake descriptor %d is not open", fd)
	}
	return NewPipeSender(f), true, nil
}

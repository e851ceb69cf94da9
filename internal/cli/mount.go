package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"rangefs/internal/catalog"
	"rangefs/internal/config"
	"rangefs/internal/driver"
	"rangefs/internal/fs"
	"rangefs/internal/handshake"
)

// serve mounts the filesystem and blocks until it is unmounted, either
// externally or after SIGINT/SIGTERM. A non-nil notifier is told the
// outcome of the mount.
func serve(ctx context.Context, mc *config.MountConfig, notifier handshake.Sender) error {
	cat := catalog.New(mc.Files, catalog.WithTimeout(mc.Timeout))
	rfs := fs.NewRangeFS(driver.New(cat, notifier))
	if err := rfs.Mount(ctx, mc.MountPoint, fs.MountOptions(mc)...); err != nil {
		reportFailure(notifier, err)
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return rfs.Wait()
	})
	g.Go(func() error {
		select {
		case <-done:
			return nil
		case <-sigCtx.Done():
		}
		logger.Info("Shutting down, unmounting %s", mc.MountPoint)
		if err := rfs.Unmount(); err != nil {
			logger.Warn("%s is still mounted, unmount it with fusermount -u: %v", mc.MountPoint, err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Clean shutdown complete")
	return nil
}

// reportFailure passes err to a waiting launcher. A message already sent
// by a successful Init is not overwritten.
func reportFailure(notifier handshake.Sender, err error) {
	if notifier == nil {
		return
	}
	if sendErr := notifier.Send(err); sendErr != nil && !errors.Is(sendErr, handshake.ErrAlreadySent) {
		logger.Error("Failed to report mount failure: %v", sendErr)
	}
}

// launch re-executes rangefs detached from the terminal and waits until
// the child reports whether the mount succeeded.
func launch(ctx context.Context, mc *config.MountConfig) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	if mc.Stdout != "" {
		f, err := os.Create(mc.Stdout)
		if err != nil {
			return fmt.Errorf("failed to open stdout file: %w", err)
		}
		defer f.Close()
		cmd.Stdout = f
	}
	if mc.Stderr != "" {
		f, err := os.Create(mc.Stderr)
		if err != nil {
			return fmt.Errorf("failed to open stderr file: %w", err)
		}
		defer f.Close()
		cmd.Stderr = f
	}

	receiver, err := handshake.Spawn(cmd)
	if err != nil {
		return err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		logger.Debug("Failed to release process %d: %v", pid, err)
	}

	waitCtx := ctx
	if mc.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, mc.HandshakeTimeout)
		defer cancel()
	}

	logger.Debug("Waiting for process %d to mount %s", pid, mc.MountPoint)
	if err := receiver.Receive(waitCtx); err != nil {
		if errors.Is(err, handshake.ErrTimeout) {
			logger.Warn("Process %d did not report within %v and may still be running", pid, mc.HandshakeTimeout)
		}
		return err
	}
	logger.Info("Mounted %d files at %s (pid %d)", len(mc.Files), mc.MountPoint, pid)
	return nil
}

package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"rangefs/internal/config"
	"rangefs/internal/driver"
	"rangefs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/avast/retry-go/v4"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// errNotMounted is returned while the mount point still shows the
// underlying directory.
var errNotMounted = errors.New("mount point not yet mounted")

// RangeFS exposes a driver through bazil.org/fuse.
type RangeFS struct {
	drv        driver.Filesystem
	conn       *fuse.Conn
	mountPoint string
	served     chan error
}

// NewRangeFS wraps drv for serving over FUSE.
func NewRangeFS(drv driver.Filesystem) *RangeFS {
	return &RangeFS{drv: drv}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (rfs *RangeFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{fs: rfs}, nil
}

// Statfs implements the fusefs.FSStatfser interface.
func (rfs *RangeFS) Statfs(ctx context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	st := rfs.drv.Statfs(ctx)
	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = st.Bsize
	resp.Namelen = st.Namelen
	resp.Frsize = st.Frsize
	return nil
}

// MountOptions translates the mount configuration into bazil options.
// The mount is always read-only.
func MountOptions(mc *config.MountConfig) []fuse.MountOption {
	opts := []fuse.MountOption{
		fuse.FSName(mc.FSName),
		fuse.Subtype(config.Subtype),
		fuse.ReadOnly(),
		fuse.AsyncRead(),
	}
	if mc.AllowOther {
		opts = append(opts, fuse.AllowOther())
	}
	if mc.DefaultPermissions {
		opts = append(opts, fuse.DefaultPermissions())
	}
	return opts
}

// waitForMount polls until the mount point sits on a different device
// than its parent directory, i.e. the kernel routes it to us.
func waitForMount(ctx context.Context, mountpoint string) error {
	parent, err := os.Stat(filepath.Dir(mountpoint))
	if err != nil {
		return err
	}
	parentDev := deviceOf(parent)

	return retry.Do(
		func() error {
			info, err := os.Stat(mountpoint)
			if err != nil {
				return err
			}
			if !info.IsDir() || deviceOf(info) == parentDev {
				return errNotMounted
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errNotMounted) || IsTemporary(err) || errors.Is(err, syscall.ENOTCONN)
		}),
	)
}

func deviceOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev)
	}
	return 0
}

// Mount mounts the filesystem at mountPoint and starts serving requests.
// It returns once the mount is usable and the driver's Init succeeded;
// Wait then blocks until the mount goes away.
func (rfs *RangeFS) Mount(ctx context.Context, mountPoint string, opts ...fuse.MountOption) error {
	vfsLogger.Info("Mounting filesystem at %s", mountPoint)
	vfsLogger.Debug("Mounting with options: %+v", opts)

	c, err := fuse.Mount(mountPoint, opts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	rfs.conn = c
	rfs.mountPoint = mountPoint
	rfs.served = make(chan error, 1)

	go func() {
		err := fusefs.Serve(c, rfs)
		if err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		rfs.served <- err
	}()

	// Wait for mount to be ready
	if err := waitForMount(ctx, mountPoint); err != nil {
		vfsLogger.Error("Mount point not ready: %v", err)
		rfs.abort()
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	if err := rfs.drv.Init(ctx); err != nil {
		rfs.abort()
		return fmt.Errorf("init failed: %w", err)
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

func (rfs *RangeFS) abort() {
	if err := fuse.Unmount(rfs.mountPoint); err != nil {
		vfsLogger.Debug("Unmount after failed mount: %v", err)
	}
	rfs.conn.Close()
}

// Wait blocks until the server loop exits, normally after an unmount.
func (rfs *RangeFS) Wait() error {
	if rfs.served == nil {
		return nil
	}
	err := <-rfs.served
	rfs.conn.Close()
	return err
}

// Unmount cleanly unmounts the filesystem.
func (rfs *RangeFS) Unmount() error {
	if rfs.conn == nil {
		return nil
	}
	vfsLogger.Info("Unmounting filesystem from: %s", rfs.mountPoint)
	err := fuse.Unmount(rfs.mountPoint)
	if err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
	} else {
		vfsLogger.Info("Unmount completed successfully")
	}
	return err
}

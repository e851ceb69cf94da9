package fs

import (
	"context"
	"syscall"

	"rangefs/internal/catalog"
	"rangefs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is the mount root, the only directory. It acts as its own handle.
type Dir struct {
	fs *RangeFS
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for root directory")
	entry, err := d.fs.drv.Getattr(ctx, catalog.RootInode)
	if err != nil {
		return ToFuseError(err)
	}
	fillAttr(a, entry)
	return nil
}

// Getattr implements the NodeGetattrer interface.
func (d *Dir) Getattr(ctx context.Context, _ *fuse.GetattrRequest, resp *fuse.GetattrResponse) error {
	return d.Attr(ctx, &resp.Attr)
}

// Lookup implements the NodeRequestLookuper interface, finding a virtual file.
func (d *Dir) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q", req.Name)
	entry, err := d.fs.drv.Lookup(ctx, catalog.RootInode, req.Name)
	if err != nil {
		return nil, ToFuseError(err)
	}

	resp.EntryValid = entry.Valid
	fillAttr(&resp.Attr, entry)
	return &File{fs: d.fs, ino: entry.Attr.Inode}, nil
}

// Read implements the HandleReader interface for directory reads. The
// request offset is the cursor of the last entry the kernel consumed.
func (d *Dir) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	if !req.Dir {
		return syscall.EISDIR
	}
	dirLogger.Trace("Reading directory at cursor %d (%d bytes)", req.Offset, req.Size)

	buf := newDirentBuffer(req.Size)
	if err := d.fs.drv.Readdir(ctx, catalog.RootInode, req.Offset, buf); err != nil {
		return ToFuseError(err)
	}
	resp.Data = buf.Bytes()
	return nil
}

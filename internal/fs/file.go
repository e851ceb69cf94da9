package fs

import (
	"context"
	"syscall"

	"rangefs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a virtual file node. All state lives in the catalog; the node
// only carries the inode.
type File struct {
	fs  *RangeFS
	ino uint64
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	entry, err := f.fs.drv.Getattr(ctx, f.ino)
	if err != nil {
		return ToFuseError(err)
	}
	fillAttr(a, entry)

	fileLogger.Trace("File attributes: inode=%d mode=%v size=%d", f.ino, a.Mode, a.Size)
	return nil
}

// Getattr implements the NodeGetattrer interface.
func (f *File) Getattr(ctx context.Context, _ *fuse.GetattrRequest, resp *fuse.GetattrResponse) error {
	return f.Attr(ctx, &resp.Attr)
}

// Open implements the NodeOpener interface.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Debug("Opening inode %d with flags %v", f.ino, req.Flags)

	// Enforce read-only access
	if !req.Flags.IsReadOnly() {
		fileLogger.Warn("Attempted write access to read-only inode %d", f.ino)
		return nil, syscall.EROFS
	}

	res, err := f.fs.drv.Open(ctx, f.ino)
	if err != nil {
		return nil, ToFuseError(err)
	}
	resp.Flags = fuse.OpenResponseFlags(res.Flags)
	return &FileHandle{fs: f.fs, ino: f.ino}, nil
}

// FileHandle is an open virtual file. It holds no descriptor: every read
// opens the backing file, so replaced backing files are picked up.
type FileHandle struct {
	fs  *RangeFS
	ino uint64
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from inode %d at offset %d", req.Size, fh.ino, req.Offset)

	data, err := fh.fs.drv.Read(ctx, fh.ino, req.Offset, req.Size)
	if err != nil {
		return ToFuseError(err)
	}
	resp.Data = data
	return nil
}

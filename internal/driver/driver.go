// Package driver implements the rangefs request handlers independent of
// any FUSE library. Every handler takes its request arguments explicitly
// and returns its reply, so transports only translate types.
package driver

import (
	"context"
	"math"
	"sync"
	"time"

	"rangefs/internal/catalog"
	"rangefs/internal/config"
	"rangefs/internal/handshake"
	"rangefs/internal/logging"
)

var (
	drvLogger = logging.GetLogger().WithPrefix("driver")
	errLogger = logging.GetLogger().WithPrefix("error")
)

const (
	// NameMax is reported as the maximum file name length.
	NameMax = 255
	// nominalHandle is returned by Open; reads are keyed by inode.
	nominalHandle uint64 = 0
)

// Entry is a successful lookup: attributes plus how long the kernel may
// cache the name and attributes.
type Entry struct {
	Attr  catalog.Attributes
	Valid time.Duration
}

// DirEntry is one directory listing item. Cursor is the offset the kernel
// passes back to continue after this entry.
type DirEntry struct {
	Inode  uint64
	Kind   catalog.Kind
	Name   string
	Cursor int64
}

// DirSink receives listing entries. Add returns true when the entry did
// not fit and the listing must stop.
type DirSink interface {
	Add(e DirEntry) (full bool)
}

// OpenResult is the reply to an open request.
type OpenResult struct {
	Handle uint64
	Flags  uint32
}

// Stats is the reply to a statfs request.
type Stats struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
}

// Filesystem is the set of operations a transport dispatches to.
type Filesystem interface {
	Init(ctx context.Context) error
	Lookup(ctx context.Context, parent uint64, name string) (Entry, error)
	Getattr(ctx context.Context, ino uint64) (Entry, error)
	Readdir(ctx context.Context, ino uint64, cursor int64, sink DirSink) error
	Open(ctx context.Context, ino uint64) (OpenResult, error)
	Read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, error)
	Statfs(ctx context.Context) Stats
}

// Driver serves requests from a catalog. It holds no per-request state;
// the catalog synchronizes itself, so handlers may run concurrently.
type Driver struct {
	cat      *catalog.Catalog
	notifier handshake.Sender
	initOnce sync.Once
	initErr  error
	now      func() time.Time
}

var _ Filesystem = (*Driver)(nil)

// New creates a driver for cat. When notifier is not nil, Init reports a
// successful mount through it.
func New(cat *catalog.Catalog, notifier handshake.Sender) *Driver {
	return &Driver{
		cat:      cat,
		notifier: notifier,
		now:      time.Now,
	}
}

// Catalog returns the catalog the driver serves.
func (d *Driver) Catalog() *catalog.Catalog { return d.cat }

// Init is called once the kernel has accepted the mount. It sends the
// success message to a waiting launcher exactly once; a failed send is
// returned and must be treated as fatal.
func (d *Driver) Init(_ context.Context) error {
	d.initOnce.Do(func() {
		drvLogger.Info("Mount established, serving %d files", d.cat.Len())
		if d.notifier == nil {
			return
		}
		if err := d.notifier.Send(nil); err != nil {
			d.initErr = &Error{Op: OpInit, Err: err}
		}
	})
	return d.initErr
}

// Lookup resolves name in the root directory.
func (d *Driver) Lookup(_ context.Context, parent uint64, name string) (Entry, error) {
	drvLogger.Trace("Lookup %q in inode %d", name, parent)
	if parent != catalog.RootInode {
		return Entry{}, &Error{Op: OpLookup, Inode: parent, Name: name, Err: ErrNotFound}
	}
	rec, ok := d.cat.Lookup(name)
	if !ok {
		return Entry{}, &Error{Op: OpLookup, Name: name, Err: ErrNotFound}
	}

	if err := d.cat.Refresh(rec); err != nil {
		drvLogger.Debug("Lookup of %q failed: %v", name, err)
		return Entry{}, &Error{Op: OpLookup, Name: name, Err: err}
	}
	attrs, _ := rec.Snapshot()
	return Entry{Attr: attrs, Valid: d.cat.Timeout()}, nil
}

// RootAttributes describes the synthetic root directory.
func (d *Driver) RootAttributes() catalog.Attributes {
	now := d.now()
	return catalog.Attributes{
		Inode:     catalog.RootInode,
		Kind:      catalog.KindDirectory,
		Atime:     now,
		Mtime:     now,
		Ctime:     now,
		Crtime:    now,
		Perm:      0o777,
		Nlink:     1,
		BlockSize: catalog.BlockSize,
	}
}

// Getattr returns the attributes of ino, refreshing them when stale.
func (d *Driver) Getattr(_ context.Context, ino uint64) (Entry, error) {
	if ino == catalog.RootInode {
		return Entry{Attr: d.RootAttributes(), Valid: d.cat.Timeout()}, nil
	}
	rec, ok := d.cat.Get(ino)
	if !ok {
		return Entry{}, &Error{Op: OpGetattr, Inode: ino, Err: ErrNotFound}
	}
	if err := d.cat.Refresh(rec); err != nil {
		return Entry{}, &Error{Op: OpGetattr, Inode: ino, Err: ioError(err)}
	}
	attrs, _ := rec.Snapshot()
	return Entry{Attr: attrs, Valid: d.cat.Timeout()}, nil
}

// Readdir lists the root directory starting after the cursor-th entry.
// "." and ".." come first, then every name in catalog order. Listing
// stops early when the sink is full.
func (d *Driver) Readdir(_ context.Context, ino uint64, cursor int64, sink DirSink) error {
	if ino != catalog.RootInode {
		return &Error{Op: OpReadDir, Inode: ino, Err: ErrNotFound}
	}
	if cursor < 0 {
		return &Error{Op: OpReadDir, Inode: ino, Err: ErrInvalid}
	}

	entries := []DirEntry{
		{Inode: catalog.RootInode, Kind: catalog.KindDirectory, Name: "."},
		{Inode: catalog.RootInode, Kind: catalog.KindDirectory, Name: ".."},
	}
	for _, e := range d.cat.Entries() {
		entries = append(entries, DirEntry{Inode: e.Inode, Kind: catalog.KindRegular, Name: e.Name})
	}

	if cursor >= int64(len(entries)) {
		return nil
	}
	for i := int(cursor); i < len(entries); i++ {
		e := entries[i]
		e.Cursor = int64(i + 1)
		if sink.Add(e) {
			drvLogger.Trace("Directory reply full after %d entries", i-int(cursor))
			break
		}
	}
	return nil
}

// Open checks that ino is readable. The returned handle is a placeholder.
func (d *Driver) Open(_ context.Context, ino uint64) (OpenResult, error) {
	rec, ok := d.cat.Get(ino)
	if !ok {
		return OpenResult{}, &Error{Op: OpOpen, Inode: ino, Err: ErrNotFound}
	}
	if err := d.cat.Refresh(rec); err != nil {
		drvLogger.Warn("Error opening %q from %s: %v", rec.Name(), rec.Config().File, err)
		return OpenResult{}, &Error{Op: OpOpen, Inode: ino, Err: ioError(err)}
	}
	return OpenResult{Handle: nominalHandle}, nil
}

// Read returns up to size bytes of ino starting at offset. Reads past the
// end return no data. Preloaded files are served from memory.
func (d *Driver) Read(_ context.Context, ino uint64, offset int64, size int) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, &Error{Op: OpRead, Inode: ino, Err: ErrInvalid}
	}
	rec, ok := d.cat.Get(ino)
	if !ok {
		return nil, &Error{Op: OpRead, Inode: ino, Err: ErrNotFound}
	}
	attrs, err := rec.Snapshot()
	if err != nil {
		return nil, &Error{Op: OpRead, Inode: ino, Err: ioError(err)}
	}

	off := uint64(offset)
	if data, ok := rec.Preloaded(); ok {
		return catalog.Clamp(data, off, uint64(size)), nil
	}

	cfg := rec.Config()
	n := min(uint64(size), config.SubClamped(attrs.Size, off))
	data, err := catalog.ReadRange(cfg.File, addClamped(cfg.Offset, off), n)
	if err != nil {
		drvLogger.Error("Error reading %s at %d: %v", cfg.File, cfg.Offset+off, err)
		return nil, &Error{Op: OpRead, Inode: ino, Err: ioError(err)}
	}
	drvLogger.Trace("Read %d of %d bytes from inode %d at %d", len(data), size, ino, offset)
	return data, nil
}

// Statfs sums the cached block counts of every file. Stale attributes are
// not refreshed for this.
func (d *Driver) Statfs(_ context.Context) Stats {
	return Stats{
		Blocks:  d.cat.TotalBlocks(),
		Files:   uint64(d.cat.Len()),
		Bsize:   catalog.BlockSize,
		Namelen: NameMax,
		Frsize:  catalog.BlockSize,
	}
}

func addClamped(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

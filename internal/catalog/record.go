package catalog

import (
	"sync"
	"time"

	"rangefs/internal/config"
)

// RootInode is the inode of the synthetic root directory. FUSE reserves it
// for the mount root.
const RootInode uint64 = 1

// FirstInode is the inode given to the first registered virtual file.
const FirstInode uint64 = 2

// BlockSize is the unit used for block counts and reported to statfs.
const BlockSize = 512

// Kind is the file type reported for an entry.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
)

// Attributes is a snapshot of the attributes reported for a virtual file.
type Attributes struct {
	Inode     uint64
	Kind      Kind
	Size      uint64
	Blocks    uint64
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Crtime    time.Time
	Perm      uint32 // permission bits including setuid/setgid/sticky
	Nlink     uint32
	UID       uint32
	GID       uint32
	BlockSize uint32
}

// InodeRecord describes one virtual file. The config and preloaded bytes
// never change after construction; the remaining fields are guarded by mu
// and change only on refresh.
type InodeRecord struct {
	ino       uint64
	name      string
	cfg       config.VirtualFileConfig
	preloaded []byte

	mu          sync.Mutex
	attrs       Attributes
	lastRefresh time.Time
	errFlag     bool
	lastErr     error
}

// Inode returns the record's inode number.
func (r *InodeRecord) Inode() uint64 { return r.ino }

// Name returns the name the file is listed under.
func (r *InodeRecord) Name() string { return r.name }

// Config returns the configuration the record was built from.
func (r *InodeRecord) Config() config.VirtualFileConfig { return r.cfg }

// Preloaded returns the in-memory copy of the file, if one was taken.
func (r *InodeRecord) Preloaded() ([]byte, bool) {
	return r.preloaded, r.preloaded != nil
}

// Snapshot returns the cached attributes together with the error state of
// the last probe.
func (r *InodeRecord) Snapshot() (Attributes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errFlag {
		return r.attrs, r.lastErr
	}
	return r.attrs, nil
}

// Failed reports whether the last metadata probe failed.
func (r *InodeRecord) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errFlag
}

// LastRefresh returns when the record was last probed.
func (r *InodeRecord) LastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefresh
}

// IsStale reports whether the record must be probed again at now.
func (r *InodeRecord) IsStale(now time.Time, timeout time.Duration) bool {
	return IsStale(r.LastRefresh(), now, timeout)
}

// IsStale returns true iff more than timeout has elapsed since last. A clock
// that moved backwards makes every record stale.
func IsStale(last, now time.Time, timeout time.Duration) bool {
	if now.Before(last) {
		logger.Warn("System clock went backwards: now %v is before last refresh %v", now, last)
		return true
	}
	return now.Sub(last) > timeout
}

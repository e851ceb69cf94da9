// Package catalog keeps the inode table of a rangefs mount: which names
// exist, which inode each one has, and the cached attributes of each
// virtual file.
package catalog

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"rangefs/internal/config"
	"rangefs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("catalog")
)

// Entry is one listed name.
type Entry struct {
	Name  string
	Inode uint64
}

// Catalog maps names to inodes and inodes to records. Entries are added
// only at construction and never removed; listing order is registration
// order.
type Catalog struct {
	mu      sync.RWMutex
	names   map[string]uint64
	order   []Entry
	inodes  map[uint64]*InodeRecord
	nextIno uint64

	timeout      time.Duration
	now          func() time.Time
	stat         func(path string) (*unix.Stat_t, error)
	preloadLimit int
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTimeout sets how long cached attributes stay fresh.
func WithTimeout(d time.Duration) Option {
	return func(c *Catalog) { c.timeout = d }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// WithPreloadConcurrency bounds how many files are preloaded at once.
func WithPreloadConcurrency(n int) Option {
	return func(c *Catalog) { c.preloadLimit = n }
}

// New builds a catalog from the configured virtual files, probing each
// backing file once. A file whose probe fails is still registered but
// marked failed. The first configuration for a name wins.
func New(files []config.VirtualFileConfig, opts ...Option) *Catalog {
	c := &Catalog{
		names:        make(map[string]uint64),
		inodes:       make(map[uint64]*InodeRecord),
		nextIno:      FirstInode,
		timeout:      config.DefaultTimeout,
		now:          time.Now,
		stat:         probe,
		preloadLimit: 4,
	}
	for _, opt := range opts {
		opt(c)
	}

	var toPreload []*InodeRecord
	for _, cfg := range files {
		rec, ok := c.register(cfg)
		if ok && cfg.Preload && !rec.errFlag {
			toPreload = append(toPreload, rec)
		}
	}
	c.preload(toPreload)

	logger.Info("Catalog ready with %d files", len(c.inodes))
	return c
}

func (c *Catalog) register(cfg config.VirtualFileConfig) (*InodeRecord, bool) {
	name := cfg.ResolvedName()
	if _, exists := c.names[name]; exists {
		logger.Warn("Duplicate name %q for %s ignored", name, cfg.File)
		return nil, false
	}

	ino := c.nextIno
	c.nextIno++

	rec := &InodeRecord{
		ino:         ino,
		name:        name,
		cfg:         cfg,
		lastRefresh: c.now(),
	}
	st, err := c.stat(cfg.File)
	if err != nil {
		logger.Warn("Failed to probe %s for %q: %v", cfg.File, name, err)
		rec.attrs = unprobedAttributes(ino, cfg)
		rec.errFlag = true
		rec.lastErr = err
	} else {
		rec.attrs = deriveAttributes(st, ino, cfg)
	}

	c.names[name] = ino
	c.order = append(c.order, Entry{Name: name, Inode: ino})
	c.inodes[ino] = rec
	logger.Debug("Registered %q as inode %d (%s offset=%d size=%d)",
		name, ino, cfg.File, cfg.Offset, rec.attrs.Size)
	return rec, true
}

// Timeout returns the staleness timeout.
func (c *Catalog) Timeout() time.Duration { return c.timeout }

// Lookup finds the record registered under name.
func (c *Catalog) Lookup(name string) (*InodeRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ino, ok := c.names[name]
	if !ok {
		return nil, false
	}
	return c.inodes[ino], true
}

// Get finds the record for an inode.
func (c *Catalog) Get(ino uint64) (*InodeRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.inodes[ino]
	return rec, ok
}

// Entries returns every name in listing order.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.inodes)
}

// TotalBlocks sums the cached block counts without refreshing anything.
func (c *Catalog) TotalBlocks() uint64 {
	c.mu.RLock()
	records := make([]*InodeRecord, 0, len(c.inodes))
	for _, rec := range c.inodes {
		records = append(records, rec)
	}
	c.mu.RUnlock()

	var total uint64
	for _, rec := range records {
		attrs, _ := rec.Snapshot()
		total += attrs.Blocks
	}
	return total
}

// Refresh probes the backing file again if the record is stale. It
// returns the error of the most recent probe, whether fresh or cached.
// The refresh time is claimed before probing, so concurrent callers keep
// using the cached attributes and a missing backing file is retried at
// most once per timeout. The record is not locked during the probe.
func (c *Catalog) Refresh(rec *InodeRecord) error {
	now := c.now()

	rec.mu.Lock()
	if !IsStale(rec.lastRefresh, now, c.timeout) {
		err := rec.lastErr
		if !rec.errFlag {
			err = nil
		}
		rec.mu.Unlock()
		return err
	}
	rec.lastRefresh = now
	rec.mu.Unlock()

	logger.Trace("Refreshing inode %d (%s)", rec.ino, rec.cfg.File)
	st, err := c.stat(rec.cfg.File)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.lastRefresh.After(now) {
		// A later refresh claimed the record while we were probing.
		return err
	}
	if err != nil {
		if !rec.errFlag {
			logger.Warn("Backing file for %q became unavailable: %v", rec.name, err)
		}
		rec.errFlag = true
		rec.lastErr = err
		return err
	}

	if rec.errFlag {
		logger.Info("Backing file for %q is available again", rec.name)
	}
	rec.attrs = deriveAttributes(st, rec.ino, rec.cfg)
	rec.errFlag = false
	rec.lastErr = nil
	return nil
}

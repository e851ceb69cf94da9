package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangefs/internal/catalog"
	"rangefs/internal/config"
	"rangefs/internal/handshake"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func u64(v uint64) *uint64 { return &v }

func writeBacking(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backing.img")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func setupDriver(t *testing.T, files []config.VirtualFileConfig) (*Driver, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cat := catalog.New(files, catalog.WithClock(clock.Now), catalog.WithTimeout(time.Second))
	return New(cat, nil), clock
}

// sliceSink collects entries and reports full after limit entries.
type sliceSink struct {
	entries []DirEntry
	limit   int
}

func (s *sliceSink) Add(e DirEntry) bool {
	if s.limit > 0 && len(s.entries) >= s.limit {
		return true
	}
	s.entries = append(s.entries, e)
	return false
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	path := writeBacking(t, []byte("ABCDEFGH"))
	d, _ := setupDriver(t, []config.VirtualFileConfig{
		{File: path, Name: "a", Offset: 0, Size: u64(4)},
		{File: path, Name: "b", Offset: 4, Size: u64(4)},
	})

	for name, want := range map[string]string{"a": "ABCD", "b": "EFGH"} {
		entry, err := d.Lookup(ctx, catalog.RootInode, name)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), entry.Attr.Size)
		assert.Equal(t, time.Second, entry.Valid)

		_, err = d.Open(ctx, entry.Attr.Inode)
		require.NoError(t, err)

		data, err := d.Read(ctx, entry.Attr.Inode, 0, 4096)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	stats := d.Statfs(ctx)
	assert.Equal(t, uint64(2), stats.Files)
	assert.Equal(t, uint64(2), stats.Blocks)
	assert.Equal(t, uint32(512), stats.Bsize)
	assert.Equal(t, uint32(512), stats.Frsize)
	assert.Equal(t, uint32(NameMax), stats.Namelen)
	assert.Zero(t, stats.Bfree)
	assert.Zero(t, stats.Bavail)
	assert.Zero(t, stats.Ffree)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	path := writeBacking(t, []byte("data"))
	d, clock := setupDriver(t, []config.VirtualFileConfig{{File: path, Name: "f"}})

	_, err := d.Lookup(ctx, catalog.RootInode, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, syscall.ENOENT, ToErrno(err))

	_, err = d.Lookup(ctx, 2, "f")
	assert.ErrorIs(t, err, ErrNotFound, "only the root has children")

	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	require.NoError(t, os.Chmod(filepath.Dir(path), 0o000))
	t.Cleanup(func() { os.Chmod(filepath.Dir(path), 0o755) })
	clock.Advance(2 * time.Second)
	_, err = d.Lookup(ctx, catalog.RootInode, "f")
	require.Error(t, err)
	assert.Equal(t, syscall.EACCES, ToErrno(err), "probe errno is propagated")
}

func TestLookupPropagatesMissingBacking(t *testing.T) {
	ctx := context.Background()
	path := writeBacking(t, []byte("data"))
	d, clock := setupDriver(t, []config.VirtualFileConfig{{File: path, Name: "f"}})

	require.NoError(t, os.Remove(path))
	clock.Advance(2 * time.Second)

	_, err := d.Lookup(ctx, catalog.RootInode, "f")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, syscall.ENOENT, ToErrno(err))
}

func TestGetattrRoot(t *testing.T) {
	d, _ := setupDriver(t, nil)
	entry, err := d.Getattr(context.Background(), catalog.RootInode)
	require.NoError(t, err)
	assert.Equal(t, catalog.KindDirectory, entry.Attr.Kind)
	assert.Equal(t, uint32(0o777), entry.Attr.Perm)
	assert.Zero(t, entry.Attr.Size)
	assert.Zero(t, entry.Attr.UID)
	assert.WithinDuration(t, time.Now(), entry.Attr.Mtime, time.Minute)
}

func TestGetattrAfterBackingDeleted(t *testing.T) {
	ctx := context.Background()
	path := writeBacking(t, []byte("0123456789"))
	d, clock := setupDriver(t, []config.VirtualFileConfig{{File: path, Name: "f"}})
	rec, _ := d.Catalog().Lookup("f")

	require.NoError(t, os.Remove(path))

	clock.Advance(500 * time.Millisecond)
	entry, err := d.Getattr(ctx, rec.Inode())
	require.NoError(t, err, "cached attributes served within the timeout")
	assert.Equal(t, uint64(10), entry.Attr.Size)

	clock.Advance(time.Second)
	_, err = d.Getattr(ctx, rec.Inode())
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, syscall.EIO, ToErrno(err))
	assert.True(t, rec.Failed())

	_, err = d.Open(ctx, rec.Inode())
	assert.ErrorIs(t, err, ErrIO)
	_, err = d.Read(ctx, rec.Inode(), 0, 10)
	assert.ErrorIs(t, err, ErrIO)

	// Still listed.
	sink := &sliceSink{}
	require.NoError(t, d.Readdir(ctx, catalog.RootInode, 0, sink))
	assert.Len(t, sink.entries, 3)

	// Back after the next refresh.
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	clock.Advance(2 * time.Second)
	entry, err = d.Getattr(ctx, rec.Inode())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), entry.Attr.Size)
}

func TestGetattrUnknown(t *testing.T) {
	d, _ := setupDriver(t, nil)
	_, err := d.Getattr(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReaddir(t *testing.T) {
	ctx := context.Background()
	path := writeBacking(t, []byte("ABCDEFGH"))
	files := []config.VirtualFileConfig{
		{File: path, Name: "one"},
		{File: path, Name: "two"},
		{File: path, Name: "three"},
		{File: path, Name: "two"},
		{File: path, Name: "four"},
	}
	d, _ := setupDriver(t, files)

	full := &sliceSink{}
	require.NoError(t, d.Readdir(ctx, catalog.RootInode, 0, full))
	names := make([]string, 0, len(full.entries))
	for i, e := range full.entries {
		names = append(names, e.Name)
		assert.Equal(t, int64(i+1), e.Cursor)
	}
	assert.Equal(t, []string{".", "..", "one", "two", "three", "four"}, names)
	assert.Equal(t, catalog.KindDirectory, full.entries[0].Kind)
	assert.Equal(t, catalog.RootInode, full.entries[1].Inode)
	assert.Equal(t, catalog.KindRegular, full.entries[2].Kind)

	for pageSize := 1; pageSize <= len(full.entries)+1; pageSize++ {
		var got []DirEntry
		cursor := int64(0)
		for {
			page := &sliceSink{limit: pageSize}
			require.NoError(t, d.Readdir(ctx, catalog.RootInode, cursor, page))
			if len(page.entries) == 0 {
				break
			}
			got = append(got, page.entries...)
			cursor = page.entries[len(page.entries)-1].Cursor
		}
		assert.Equal(t, full.entries, got, "page size %d", pageSize)
	}

	past := &sliceSink{}
	require.NoError(t, d.Readdir(ctx, catalog.RootInode, 100, past))
	assert.Empty(t, past.entries)

	assert.ErrorIs(t, d.Readdir(ctx, 2, 0, &sliceSink{}), ErrNotFound)
	assert.ErrorIs(t, d.Readdir(ctx, catalog.RootInode, -1, &sliceSink{}), ErrInvalid)
}

func TestOpenUnknown(t *testing.T) {
	d, _ := setupDriver(t, nil)
	_, err := d.Open(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	content := []byte("0123456789abcdefghij")
	path := writeBacking(t, content)
	d, _ := setupDriver(t, []config.VirtualFileConfig{
		{File: path, Name: "mid", Offset: 5, Size: u64(10)},
		{File: path, Name: "tail", Offset: 15},
		{File: path, Name: "big", Offset: 10, Size: u64(100)},
	})
	ino := func(name string) uint64 {
		rec, ok := d.Catalog().Lookup(name)
		require.True(t, ok)
		return rec.Inode()
	}

	data, err := d.Read(ctx, ino("mid"), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, content[5:15], data, "full read equals the backing range")

	data, err = d.Read(ctx, ino("mid"), 8, 100)
	require.NoError(t, err)
	assert.Equal(t, content[13:15], data)

	data, err = d.Read(ctx, ino("mid"), 10, 5)
	require.NoError(t, err)
	assert.Empty(t, data, "reading at the end returns nothing")

	data, err = d.Read(ctx, ino("mid"), 1000, 5)
	require.NoError(t, err)
	assert.Empty(t, data)

	data, err = d.Read(ctx, ino("tail"), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, content[15:], data)

	data, err = d.Read(ctx, ino("big"), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, content[10:], data, "short read past the backing end")

	_, err = d.Read(ctx, 99, 0, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.Read(ctx, ino("mid"), -1, 1)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReadTruncatedBacking(t *testing.T) {
	ctx := context.Background()
	path := writeBacking(t, []byte("0123456789"))
	d, _ := setupDriver(t, []config.VirtualFileConfig{{File: path, Name: "f"}})
	rec, _ := d.Catalog().Lookup("f")

	require.NoError(t, os.Truncate(path, 4))
	data, err := d.Read(ctx, rec.Inode(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), data)
}

func TestPreloadMatchesDirectRead(t *testing.T) {
	ctx := context.Background()
	content := make([]byte, 300)
	for i := range content {
		content[i] = byte(i * 7)
	}
	path := writeBacking(t, content)
	d, _ := setupDriver(t, []config.VirtualFileConfig{
		{File: path, Name: "pre", Offset: 10, Size: u64(100), Preload: true},
		{File: path, Name: "direct", Offset: 10, Size: u64(100)},
	})
	pre, _ := d.Catalog().Lookup("pre")
	direct, _ := d.Catalog().Lookup("direct")
	_, ok := pre.Preloaded()
	require.True(t, ok)

	a, err := d.Read(ctx, pre.Inode(), 0, 50)
	require.NoError(t, err)
	b, err := d.Read(ctx, direct.Inode(), 0, 50)
	require.NoError(t, err)
	assert.Equal(t, b, a)
	assert.Equal(t, content[10:60], a)

	a, err = d.Read(ctx, pre.Inode(), 90, 50)
	require.NoError(t, err)
	assert.Equal(t, content[100:110], a)

	a, err = d.Read(ctx, pre.Inode(), 100, 50)
	require.NoError(t, err)
	assert.Empty(t, a)

	// Preloaded data survives the backing file changing.
	require.NoError(t, os.WriteFile(path, make([]byte, 300), 0o644))
	a, err = d.Read(ctx, pre.Inode(), 0, 50)
	require.NoError(t, err)
	assert.Equal(t, content[10:60], a)
}

func TestInitSendsOnce(t *testing.T) {
	sender, receiver, err := handshake.NewPipe()
	require.NoError(t, err)
	cat := catalog.New(nil)
	d := New(cat, sender)

	require.NoError(t, d.Init(context.Background()))
	require.NoError(t, d.Init(context.Background()))
	assert.NoError(t, receiver.Receive(context.Background()))
	assert.ErrorIs(t, sender.Send(nil), handshake.ErrAlreadySent)
}

type failingSender struct{}

func (failingSender) Send(error) error { return errors.New("broken pipe") }

func TestInitSendFailure(t *testing.T) {
	d := New(catalog.New(nil), failingSender{})
	err := d.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestInitWithoutNotifier(t *testing.T) {
	d := New(catalog.New(nil), nil)
	assert.NoError(t, d.Init(context.Background()))
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{&Error{Op: OpLookup, Err: ErrNotFound}, syscall.ENOENT},
		{&Error{Op: OpRead, Err: ioError(syscall.ENOENT)}, syscall.EIO},
		{&Error{Op: OpLookup, Err: syscall.EACCES}, syscall.EACCES},
		{os.ErrPermission, syscall.EACCES},
		{errors.New("anything"), syscall.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToErrno(tt.err), "%v", tt.err)
	}
}

func TestConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeBacking(t, content)
	d, clock := setupDriver(t, []config.VirtualFileConfig{
		{File: path, Name: "a", Size: u64(2048)},
		{File: path, Name: "b", Offset: 2048, Preload: true},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Advance(10 * time.Millisecond)
				for _, name := range []string{"a", "b"} {
					entry, err := d.Lookup(ctx, catalog.RootInode, name)
					if !assert.NoError(t, err) {
						return
					}
					data, err := d.Read(ctx, entry.Attr.Inode, int64(j), 16)
					assert.NoError(t, err)
					assert.Len(t, data, 16)
				}
				d.Statfs(ctx)
			}
		}()
	}
	wg.Wait()
}

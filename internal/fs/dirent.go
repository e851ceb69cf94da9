package fs

import (
	"encoding/binary"

	"rangefs/internal/driver"
)

// direntHeaderSize is sizeof(struct fuse_dirent) without the name.
const direntHeaderSize = 24

// direntBuffer encodes directory entries in the kernel's fuse_dirent
// layout. Unlike fuse.AppendDirent it records the driver's cursor as the
// entry offset, so the kernel resumes listings by entry index.
type direntBuffer struct {
	data []byte
	max  int
}

func newDirentBuffer(max int) *direntBuffer {
	return &direntBuffer{data: make([]byte, 0, max), max: max}
}

func direntLen(name string) int {
	return (direntHeaderSize + len(name) + 7) &^ 7
}

// Add implements driver.DirSink.
func (b *direntBuffer) Add(e driver.DirEntry) bool {
	size := direntLen(e.Name)
	if len(b.data)+size > b.max {
		return true
	}

	var hdr [direntHeaderSize]byte
	binary.NativeEndian.PutUint64(hdr[0:], e.Inode)
	binary.NativeEndian.PutUint64(hdr[8:], uint64(e.Cursor))
	binary.NativeEndian.PutUint32(hdr[16:], safeIntToUint32(len(e.Name)))
	binary.NativeEndian.PutUint32(hdr[20:], uint32(direntType(e.Kind)))

	b.data = append(b.data, hdr[:]...)
	b.data = append(b.data, e.Name...)
	for pad := size - direntHeaderSize - len(e.Name); pad > 0; pad-- {
		b.data = append(b.data, 0)
	}
	return false
}

// Bytes returns the encoded entries.
func (b *direntBuffer) Bytes() []byte { return b.data }

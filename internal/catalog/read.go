package catalog

import (
	"errors"
	"io"
	"math"
	"os"
)

// ReadRange performs one positioned read of up to n bytes at off in path.
// A short read is not an error: the returned slice holds exactly the bytes
// the backing file still had.
func ReadRange(path string, off, n uint64) ([]byte, error) {
	if n == 0 || off > math.MaxInt64 {
		return []byte{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// Clamp returns the part of data covering [off, off+n), empty when off is
// past the end.
func Clamp(data []byte, off, n uint64) []byte {
	length := uint64(len(data))
	if off >= length {
		return []byte{}
	}
	end := off + min(n, length-off)
	return data[off:end]
}

// internal/fs/interfaces.go

package fs

import (
	"bazil.org/fuse/fs"
)

// Node represents a filesystem node (file or directory)
type Node interface {
	fs.Node
	fs.NodeGetattrer
}

// Directory represents the root directory of the mount
type Directory interface {
	Node
	fs.NodeRequestLookuper
	fs.HandleReader
}

// FileInterface represents a virtual file
type FileInterface interface {
	Node
	fs.NodeOpener
}

// FileHandleInterface represents an open virtual file
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
}

var (
	_ fs.FS               = (*RangeFS)(nil)
	_ fs.FSStatfser       = (*RangeFS)(nil)
	_ Directory           = (*Dir)(nil)
	_ FileInterface       = (*File)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
)

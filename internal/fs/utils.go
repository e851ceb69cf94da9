package fs

import (
	"os"

	"bazil.org/fuse"

	"rangefs/internal/catalog"
	"rangefs/internal/driver"
)

// safeIntToUint32 clamps negative lengths to zero.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// fileMode converts POSIX permission bits to an os.FileMode.
func fileMode(perm uint32, kind catalog.Kind) os.FileMode {
	mode := os.FileMode(perm & 0o777)
	if perm&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if perm&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if perm&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	if kind == catalog.KindDirectory {
		mode |= os.ModeDir
	}
	return mode
}

func direntType(kind catalog.Kind) fuse.DirentType {
	if kind == catalog.KindDirectory {
		return fuse.DT_Dir
	}
	return fuse.DT_File
}

// fillAttr copies a driver entry into a bazil attribute reply.
func fillAttr(a *fuse.Attr, e driver.Entry) {
	a.Valid = e.Valid
	a.Inode = e.Attr.Inode
	a.Size = e.Attr.Size
	a.Blocks = e.Attr.Blocks
	a.Atime = e.Attr.Atime
	a.Mtime = e.Attr.Mtime
	a.Ctime = e.Attr.Ctime
	a.Crtime = e.Attr.Crtime
	a.Mode = fileMode(e.Attr.Perm, e.Attr.Kind)
	a.Nlink = e.Attr.Nlink
	a.Uid = e.Attr.UID
	a.Gid = e.Attr.GID
	a.BlockSize = e.Attr.BlockSize
}

package catalog

import (
	"fmt"

	"golang.org/x/sys/unix"

	"rangefs/internal/config"
)

const execBits = unix.S_IXUSR | unix.S_IXGRP | unix.S_IXOTH

// probe stats the backing file, following symlinks.
func probe(path string) (*unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &st, nil
}

// deriveAttributes computes the attributes of a virtual file from the
// backing file's stat result.
func deriveAttributes(st *unix.Stat_t, ino uint64, cfg config.VirtualFileConfig) Attributes {
	size := cfg.DerivedSize(uint64(max(st.Size, 0)))

	mode := uint32(st.Mode)
	perm := mode &^ unix.S_IFMT
	if mode&unix.S_IFMT == unix.S_IFDIR {
		perm &^= execBits
	}

	uid, gid := st.Uid, st.Gid
	if cfg.UID != nil {
		uid = *cfg.UID
	}
	if cfg.GID != nil {
		gid = *cfg.GID
	}

	atime, mtime, ctime, crtime := statTimes(st)
	return Attributes{
		Inode:     ino,
		Kind:      KindRegular,
		Size:      size,
		Blocks:    BlockCount(size),
		Atime:     atime,
		Mtime:     mtime,
		Ctime:     ctime,
		Crtime:    crtime,
		Perm:      perm,
		Nlink:     1,
		UID:       uid,
		GID:       gid,
		BlockSize: BlockSize,
	}
}

// BlockCount returns the number of 512 byte blocks needed to hold size bytes.
func BlockCount(size uint64) uint64 {
	return size/BlockSize + min(size%BlockSize, 1)
}

// unprobedAttributes is used for records whose first probe failed.
func unprobedAttributes(ino uint64, cfg config.VirtualFileConfig) Attributes {
	size := cfg.DerivedSize(0)
	a := Attributes{
		Inode:     ino,
		Kind:      KindRegular,
		Size:      size,
		Blocks:    BlockCount(size),
		Nlink:     1,
		BlockSize: BlockSize,
	}
	if cfg.UID != nil {
		a.UID = *cfg.UID
	}
	if cfg.GID != nil {
		a.GID = *cfg.GID
	}
	return a
}

//go:build darwin || freebsd

package catalog

import (
	"time"

	"golang.org/x/sys/unix"
)

func statTimes(st *unix.Stat_t) (atime, mtime, ctime, crtime time.Time) {
	atime = time.Unix(st.Atimespec.Unix())
	mtime = time.Unix(st.Mtimespec.Unix())
	ctime = time.Unix(st.Ctimespec.Unix())
	crtime = time.Unix(st.Birthtimespec.Unix())
	return atime, mtime, ctime, crtime
}

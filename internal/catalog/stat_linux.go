package catalog

import (
	"time"

	"golang.org/x/sys/unix"
)

// statTimes returns atime, mtime, ctime and a creation time. Linux stat(2)
// has no birth time, so mtime stands in for it.
func statTimes(st *unix.Stat_t) (atime, mtime, ctime, crtime time.Time) {
	atime = time.Unix(st.Atim.Unix())
	mtime = time.Unix(st.Mtim.Unix())
	ctime = time.Unix(st.Ctim.Unix())
	return atime, mtime, ctime, mtime
}

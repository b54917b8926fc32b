//go:build unix

package tail

import (
	"os"
	"syscall"
)

// fileIdentity returns the inode number so rotation (same path, new file)
// is distinguishable from truncation.
func fileIdentity(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}

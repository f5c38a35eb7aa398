//go:build unix

package library

import (
	"io/fs"
	"strconv"
	"syscall"
)

// fileKey returns a device+inode key that survives renames within one
// filesystem, or "" when the platform does not expose one.
func fileKey(info fs.FileInfo) string {
	if info == nil {
		return ""
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil || stat.Ino == 0 {
		return ""
	}
	return "ino:" + strconv.FormatUint(uint64(stat.Dev), 10) + ":" + strconv.FormatUint(uint64(stat.Ino), 10)
}

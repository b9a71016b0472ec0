//go:build unix

package pathguard

import (
	"os"
	"syscall"
)

// sameDevice compares the underlying device ids of two stat results. When
// the platform stat shape is unavailable the check degrades to permissive,
// since the prefix check has already passed.
func sameDevice(a, b os.FileInfo) bool {
	sa, ok1 := a.Sys().(*syscall.Stat_t)
	sb, ok2 := b.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return true
	}
	return sa.Dev == sb.Dev
}

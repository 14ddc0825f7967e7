//go:build linux

package sysinfo

import "golang.org/x/sys/unix"

// totalRAMMiB reads total physical memory via the sysinfo(2) syscall.
func totalRAMMiB() (uint64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	totalBytes := uint64(info.Totalram) * uint64(info.Unit)
	return totalBytes / (1024 * 1024), true
}

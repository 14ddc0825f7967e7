//go:build !linux

package sysinfo

// totalRAMMiB has no portable implementation outside Linux in this
// repository; TotalRAMMiB's caller falls back to the middle Argon2 tier.
func totalRAMMiB() (uint64, bool) {
	return 0, false
}

// Package sysinfo collects host information the relay and client CLI need
// at startup: a build version string and the total system RAM used to
// scale internal/crypto's Argon2id cost per spec.md §4.1.
package sysinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// Version is set at build time via ldflags, e.g.
	// go build -ldflags="-X github.com/zeroksync/0k-sync/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	startTime     time.Time
	startTimeOnce sync.Once
)

func init() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})
	if Version == "dev" {
		Version = enhanceDevVersion()
	}
}

// enhanceDevVersion adds git commit info to dev version using Go's build
// info. Returns formats like "dev-a1b2c3d", "dev-a1b2c3d-dirty", or
// "dev-<timestamp>" as a fallback when no VCS info was embedded.
func enhanceDevVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev-" + startTime.UTC().Format("20060102-150405")
	}

	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if revision == "" {
		return "dev-" + startTime.UTC().Format("20060102-150405")
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		return "dev-" + revision + "-dirty"
	}
	return "dev-" + revision
}

// StartTime returns the process start time.
func StartTime() time.Time { return startTime }

// Uptime returns the process uptime.
func Uptime() time.Duration { return time.Since(startTime) }

// UptimeSeconds returns the process uptime in whole seconds, the unit
// spec.md §6's GET /health response reports.
func UptimeSeconds() int64 { return int64(Uptime().Seconds()) }

// TotalRAMMiB returns the host's total physical memory in mebibytes, used
// by internal/crypto.DeriveGroupSecret to scale Argon2id's cost per
// spec.md §4.1's three memory tiers. Falls back to a conservative 4096
// (the tier boundary itself) when detection fails or the platform isn't
// supported, so an unrecognized host gets the middle tier rather than the
// cheapest one.
func TotalRAMMiB() uint64 {
	if mib, ok := totalRAMMiB(); ok {
		return mib
	}
	return 4096
}

// GOOS is exposed for CLI diagnostics (e.g. `0k-sync status`).
func GOOS() string { return runtime.GOOS }

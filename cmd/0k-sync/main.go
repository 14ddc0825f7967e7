// Package main provides the CLI entry point for 0k-Sync: a zero-knowledge,
// multi-device sync fabric with a relay-agnostic client and an optional
// relay server in the same binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeroksync/0k-sync/internal/sysinfo"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func init() {
	if Version == "dev" {
		Version = sysinfo.Version
	} else {
		sysinfo.Version = Version
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "0k-sync",
		Short: "0k-Sync - zero-knowledge multi-device sync",
		Long: `0k-Sync synchronizes encrypted blobs across a group of devices
through a relay that never sees plaintext or key material.

A device joins a group with a shared passphrase or secret, pushes and
pulls opaque encrypted blobs through one or more relays, and can itself
run as a relay via the serve command.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "device", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync:"})
	rootCmd.AddGroup(&cobra.Group{ID: "relay", Title: "Administration:"})

	initC := initCmd()
	initC.GroupID = "device"
	rootCmd.AddCommand(initC)

	pair := pairCmd()
	pair.GroupID = "device"
	rootCmd.AddCommand(pair)

	status := statusCmd()
	status.GroupID = "device"
	rootCmd.AddCommand(status)

	push := pushCmd()
	push.GroupID = "sync"
	rootCmd.AddCommand(push)

	pull := pullCmd()
	pull.GroupID = "sync"
	rootCmd.AddCommand(pull)

	serve := serveCmd()
	serve.GroupID = "relay"
	rootCmd.AddCommand(serve)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

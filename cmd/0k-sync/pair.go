package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeroksync/0k-sync/internal/config"
	"github.com/zeroksync/0k-sync/internal/invite"
	"github.com/zeroksync/0k-sync/internal/wire"
)

func pairCmd() *cobra.Command {
	var dataDir string
	var join string
	var deviceName string
	var validFor time.Duration

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Create an invite for this group, or join a group from one",
		Long: `With no flags, pair prints a QR payload and short code a new device
can use to join this device's group.

With --join, pair instead creates a new device profile in --data-dir
from an invite produced by another device's pair command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if join != "" {
				return runPairJoin(dataDir, join, deviceName)
			}
			return runPairCreate(dataDir, validFor)
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the device profile")
	cmd.Flags().StringVar(&join, "join", "", "Join a group from an invite QR payload")
	cmd.Flags().StringVar(&deviceName, "device-name", "device", "Name this device presents to the group (with --join)")
	cmd.Flags().DurationVar(&validFor, "valid-for", 24*time.Hour, "How long the generated invite remains valid")

	return cmd
}

func runPairCreate(dataDir string, validFor time.Duration) error {
	p, err := loadProfile(dataDir)
	if err != nil {
		return err
	}
	cfg, err := p.toSyncConfig()
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	inv := invite.New(cfg.GroupSecret, [16]byte{}, wire.RelayNodeID{}, cfg.RelayAddresses, now, now+int64(validFor.Seconds()))

	qr, err := inv.ToQR()
	if err != nil {
		return fmt.Errorf("encoding invite: %w", err)
	}

	fmt.Println("Invite QR payload (share via QR code or direct message):")
	fmt.Println(qr)
	fmt.Println()
	fmt.Println("Short code (for display/verification, not a standalone join method):")
	fmt.Println(inv.ToShortCode())
	return nil
}

func runPairJoin(dataDir, qr, deviceName string) error {
	if profileExists(dataDir) {
		return fmt.Errorf("a profile already exists in %s (remove profile.json to re-init)", dataDir)
	}

	inv, err := invite.FromQR(qr)
	if err != nil {
		return fmt.Errorf("decoding invite: %w", err)
	}

	cfg, err := config.NewSyncConfigFromSecret(inv.GroupSecret[:], inv.RelayAddrs)
	if err != nil {
		return fmt.Errorf("building device config: %w", err)
	}
	cfg.WithDeviceName(deviceName)

	if err := saveProfile(dataDir, fromSyncConfig(cfg, 0)); err != nil {
		return err
	}

	fmt.Printf("Joined group via invite, device %q initialized in %s\n", deviceName, dataDir)
	fmt.Printf("Group ID: %s\n", inv.GroupID.String())
	return nil
}

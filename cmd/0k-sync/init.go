package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zeroksync/0k-sync/internal/config"
	"github.com/zeroksync/0k-sync/internal/crypto"
)

func initCmd() *cobra.Command {
	var dataDir string
	var relays []string
	var deviceName string
	var fromSecret string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new device profile, joining a group by passphrase or secret",
		Long: `init derives this device's group secret and persists a local profile.

With --from-secret, join a group whose 32-byte secret you already have
(e.g. from an Invite). Otherwise you will be prompted for a passphrase
and a fresh random salt will be generated for the group.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if profileExists(dataDir) {
				return fmt.Errorf("a profile already exists in %s (remove profile.json to re-init)", dataDir)
			}
			if len(relays) == 0 {
				return fmt.Errorf("at least one --relay address is required")
			}

			var cfg *config.SyncConfig
			var err error
			if fromSecret != "" {
				secret, decErr := hex.DecodeString(fromSecret)
				if decErr != nil {
					return fmt.Errorf("--from-secret must be 64 hex characters: %w", decErr)
				}
				cfg, err = config.NewSyncConfigFromSecret(secret, relays)
			} else {
				fmt.Print("Passphrase: ")
				passphrase, readErr := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if readErr != nil {
					return fmt.Errorf("reading passphrase: %w", readErr)
				}
				salt, saltErr := crypto.GenerateSalt()
				if saltErr != nil {
					return fmt.Errorf("generating salt: %w", saltErr)
				}
				cfg, err = config.NewSyncConfig(passphrase, salt, relays)
			}
			if err != nil {
				return fmt.Errorf("deriving group secret: %w", err)
			}
			cfg.WithDeviceName(deviceName)

			if err := saveProfile(dataDir, fromSyncConfig(cfg, 0)); err != nil {
				return err
			}

			fmt.Printf("Initialized device %q in %s\n", deviceName, dataDir)
			fmt.Printf("Device ID: %x\n", cfg.DeviceID)
			fmt.Printf("Relays: %v\n", relays)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the device profile")
	cmd.Flags().StringArrayVarP(&relays, "relay", "r", nil, "Relay address (repeatable)")
	cmd.Flags().StringVar(&deviceName, "device-name", "device", "Name this device presents to the group")
	cmd.Flags().StringVar(&fromSecret, "from-secret", "", "Join using an existing 32-byte group secret (64 hex chars)")

	return cmd
}

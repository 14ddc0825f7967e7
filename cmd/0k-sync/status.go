package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeroksync/0k-sync/internal/client"
)

func statusCmd() *cobra.Command {
	var dataDir string
	var live bool
	var transportKind string
	var insecure bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show this device's profile, and optionally live connection state",
		Long: `With no flags, status prints the persisted device profile: device
id, device name, relay addresses, and last-seen cursor. With --live, it
also dials a relay and reports whether the connection succeeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(dataDir)
			if err != nil {
				return err
			}

			fmt.Printf("Device ID:   %s\n", p.DeviceID)
			fmt.Printf("Device name: %s\n", p.DeviceName)
			fmt.Printf("Relays:      %v\n", p.RelayAddresses)
			fmt.Printf("Last cursor: %d\n", p.LastCursor)

			if !live {
				return nil
			}

			cfg, err := p.toSyncConfig()
			if err != nil {
				return err
			}
			cfg.WithInsecure(insecure)

			tr, err := newTransport(transportKind)
			if err != nil {
				return err
			}
			defer tr.Close()

			c, err := client.New(cfg.ToClientConfig(tr))
			if err != nil {
				return fmt.Errorf("building client: %w", err)
			}
			defer c.Close()

			c.Connect()
			if !waitConnected(c, timeout) {
				fmt.Println("Connected:   false (timed out)")
				return nil
			}

			relay, _ := c.ActiveRelay()
			fmt.Printf("Connected:   true (%s)\n", relay)
			fmt.Printf("Cursor now:  %d\n", c.CurrentCursor())
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the device profile")
	cmd.Flags().BoolVar(&live, "live", false, "Dial a relay and report live connection state")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification on dial")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for connect when --live")
	addTransportFlag(cmd, &transportKind)

	return cmd
}

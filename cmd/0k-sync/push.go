package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeroksync/0k-sync/internal/client"
	"github.com/zeroksync/0k-sync/internal/wire"
)

func pushCmd() *cobra.Command {
	var dataDir string
	var file string
	var transportKind string
	var insecure bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Encrypt and push a blob to the group",
		Long: `push reads a payload (from --file, or stdin if omitted), encrypts
it under a fresh content key, and pushes it to the group through the
first relay that accepts the connection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(dataDir)
			if err != nil {
				return err
			}
			cfg, err := p.toSyncConfig()
			if err != nil {
				return err
			}
			cfg.WithInsecure(insecure)

			payload, err := readPayload(file)
			if err != nil {
				return err
			}

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
				return fmt.Errorf("timed out connecting to any relay")
			}

			blobID := wire.NewBlobID()
			if err := c.Push(blobID, payload); err != nil {
				return fmt.Errorf("pushing blob: %w", err)
			}

			// Give the outbox a moment to actually reach the relay and
			// advance the cursor before the process exits and the
			// connection is torn down.
			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				if c.CurrentCursor() > wire.Cursor(p.LastCursor) {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}

			p.LastCursor = uint64(c.CurrentCursor())
			if err := saveProfile(dataDir, p); err != nil {
				return err
			}

			fmt.Printf("Pushed blob %s (%d bytes), cursor now %d\n", blobID, len(payload), c.CurrentCursor())
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the device profile")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload file to push (default: read stdin)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification on dial")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for connect/delivery")
	addTransportFlag(cmd, &transportKind)

	return cmd
}

func readPayload(file string) ([]byte, error) {
	if file == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func waitConnected(c *client.SyncClient, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

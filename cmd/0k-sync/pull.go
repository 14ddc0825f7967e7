package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeroksync/0k-sync/internal/client"
	"github.com/zeroksync/0k-sync/internal/wire"
)

type pulledBlob struct {
	blobID   wire.BlobID
	senderID wire.DeviceID
	payload  []byte
}

func pullCmd() *cobra.Command {
	var dataDir string
	var after uint64
	var transportKind string
	var insecure bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Connect, collect blobs delivered since a cursor, and print them",
		Long: `pull connects to a relay and prints every blob the client
receives in the following window, as plaintext bytes preceded by a
one-line header. With --after, the connection reports its last-seen
cursor as the given value instead of the persisted one, so the relay
replays everything after it.`,
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

			var mu sync.Mutex
			var blobs []pulledBlob

			tr, err := newTransport(transportKind)
			if err != nil {
				return err
			}
			defer tr.Close()

			clientCfg := cfg.ToClientConfig(tr)
			if cmd.Flags().Changed("after") {
				clientCfg.LastCursor = wire.Cursor(after)
			} else {
				clientCfg.LastCursor = wire.Cursor(p.LastCursor)
			}
			clientCfg.OnBlob = func(blobID wire.BlobID, senderID wire.DeviceID, plaintext []byte) {
				mu.Lock()
				blobs = append(blobs, pulledBlob{blobID: blobID, senderID: senderID, payload: plaintext})
				mu.Unlock()
			}

			c, err := client.New(clientCfg)
			if err != nil {
				return fmt.Errorf("building client: %w", err)
			}
			defer c.Close()

			c.Connect()
			if !waitConnected(c, timeout) {
				return fmt.Errorf("timed out connecting to any relay")
			}

			time.Sleep(timeout)

			mu.Lock()
			defer mu.Unlock()
			if len(blobs) == 0 {
				fmt.Println("No new blobs.")
			}
			for _, b := range blobs {
				fmt.Printf("--- blob %s from %x (%d bytes) ---\n", b.blobID, b.senderID, len(b.payload))
				fmt.Println(string(b.payload))
			}

			p.LastCursor = uint64(c.CurrentCursor())
			return saveProfile(dataDir, p)
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory for the device profile")
	cmd.Flags().Uint64Var(&after, "after", 0, "Report this cursor in HELLO instead of the persisted one")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification on dial")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for connect and for blobs to arrive")
	addTransportFlag(cmd, &transportKind)

	return cmd
}

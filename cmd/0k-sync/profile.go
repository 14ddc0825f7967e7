package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeroksync/0k-sync/internal/config"
	"github.com/zeroksync/0k-sync/internal/wire"
)

// profile is the CLI's own on-disk device state: a small local JSON
// document, not part of the core library surface (spec.md names local
// on-disk JSON configuration as thin glue over the core, out of scope
// for the sync engine itself). It holds exactly what a restarted CLI
// process needs to rejoin its group without re-running init.
type profile struct {
	GroupSecret    string   `json:"group_secret"`
	RelayAddresses []string `json:"relay_addresses"`
	DeviceID       string   `json:"device_id"`
	DeviceName     string   `json:"device_name"`
	LastCursor     uint64   `json:"last_cursor"`
}

func profilePath(dataDir string) string {
	return filepath.Join(dataDir, "profile.json")
}

func saveProfile(dataDir string, p *profile) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := os.WriteFile(profilePath(dataDir), data, 0600); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

func loadProfile(dataDir string) (*profile, error) {
	data, err := os.ReadFile(profilePath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("reading profile (run 'init' first): %w", err)
	}
	var p profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &p, nil
}

func profileExists(dataDir string) bool {
	_, err := os.Stat(profilePath(dataDir))
	return err == nil
}

// toSyncConfig rebuilds a config.SyncConfig from the persisted profile.
func (p *profile) toSyncConfig() (*config.SyncConfig, error) {
	secret, err := config.DecodeSecret(p.GroupSecret)
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewSyncConfigFromSecret(secret[:], p.RelayAddresses)
	if err != nil {
		return nil, err
	}
	deviceID, err := deviceIDFromHex(p.DeviceID)
	if err != nil {
		return nil, err
	}
	cfg.WithDeviceID(deviceID).WithDeviceName(p.DeviceName)
	return cfg, nil
}

func fromSyncConfig(cfg *config.SyncConfig, lastCursor wire.Cursor) *profile {
	return &profile{
		GroupSecret:    cfg.EncodeSecret(),
		RelayAddresses: cfg.RelayAddresses,
		DeviceID:       hex.EncodeToString(cfg.DeviceID[:]),
		DeviceName:     cfg.DeviceName,
		LastCursor:     uint64(lastCursor),
	}
}

func deviceIDFromHex(s string) (wire.DeviceID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return wire.DeviceID{}, fmt.Errorf("decoding device id: %w", err)
	}
	return wire.DeviceIDFromBytes(raw)
}

package config

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zeroksync/0k-sync/internal/client"
	"github.com/zeroksync/0k-sync/internal/crypto"
	"github.com/zeroksync/0k-sync/internal/sysinfo"
	"github.com/zeroksync/0k-sync/internal/transport"
	"github.com/zeroksync/0k-sync/internal/wire"
)

// Errors SyncConfig construction can return, matching spec.md §6's
// embedder-facing error taxonomy.
var (
	// ErrPassphraseWithoutSalt is returned when a passphrase is given
	// with no salt to derive against — a salt must be generated once
	// per group and then reused by every device, so it cannot be
	// invented silently here.
	ErrPassphraseWithoutSalt = errors.New("config: passphrase requires an explicit salt")

	// ErrInvalidSecretLength is returned when a raw secret is not
	// exactly crypto.GroupSecretSize bytes.
	ErrInvalidSecretLength = errors.New("config: secret must be exactly 32 bytes")

	// ErrNoRelayAddresses is returned when relay_addresses is empty.
	ErrNoRelayAddresses = errors.New("config: at least one relay address is required")
)

// SyncConfig is the flat, bindings-friendly configuration for one
// device's membership in a sync group, corresponding to spec.md §6's
// create_config / create_config_from_secret client surface.
type SyncConfig struct {
	// GroupSecret is the 32-byte root secret for the group, either
	// supplied directly (create_config_from_secret) or derived from a
	// passphrase and salt via Argon2id (create_config).
	GroupSecret crypto.GroupSecret

	// RelayAddresses lists relay addresses to try, in order, on each
	// connection attempt.
	RelayAddresses []string

	// DeviceID identifies this device within the group. Generated
	// fresh by NewSyncConfig / NewSyncConfigFromSecret if the caller
	// does not supply one via WithDeviceID.
	DeviceID wire.DeviceID

	// DeviceName is the human-readable label this device presents in
	// HELLO, truncated server-side to max_device_name_len.
	DeviceName string

	// Insecure skips TLS certificate verification on dial, for relays
	// running on a self-signed internal/relayidentity certificate with
	// no shared CA. Off by default.
	Insecure bool
}

// NewSyncConfig derives a SyncConfig's GroupSecret from passphrase and
// salt (Argon2id, tuned to this machine's available memory), matching
// spec.md §6's create_config. salt must be the 16 bytes shared by every
// device in the group; generate it once with crypto.GenerateSalt and
// distribute it via an Invite, never regenerate it per device.
func NewSyncConfig(passphrase []byte, salt [crypto.SaltSize]byte, relayAddresses []string) (*SyncConfig, error) {
	if len(relayAddresses) == 0 {
		return nil, ErrNoRelayAddresses
	}
	if salt == ([crypto.SaltSize]byte{}) {
		return nil, ErrPassphraseWithoutSalt
	}
	secret, err := crypto.DeriveGroupSecret(passphrase, salt, sysinfo.TotalRAMMiB())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	deviceID, err := wire.NewDeviceID()
	if err != nil {
		return nil, fmt.Errorf("config: generating device id: %w", err)
	}
	return &SyncConfig{
		GroupSecret:    secret,
		RelayAddresses: relayAddresses,
		DeviceID:       deviceID,
	}, nil
}

// NewSyncConfigFromSecret builds a SyncConfig from an already-derived
// 32-byte group secret, matching spec.md §6's create_config_from_secret
// — used when restoring a device from a saved secret or an Invite
// rather than re-running Argon2id against a passphrase.
func NewSyncConfigFromSecret(secret []byte, relayAddresses []string) (*SyncConfig, error) {
	if len(relayAddresses) == 0 {
		return nil, ErrNoRelayAddresses
	}
	if len(secret) != crypto.GroupSecretSize {
		return nil, ErrInvalidSecretLength
	}
	deviceID, err := wire.NewDeviceID()
	if err != nil {
		return nil, fmt.Errorf("config: generating device id: %w", err)
	}
	cfg := &SyncConfig{
		RelayAddresses: relayAddresses,
		DeviceID:       deviceID,
	}
	copy(cfg.GroupSecret[:], secret)
	return cfg, nil
}

// WithDeviceID overrides the generated device id, for a caller
// restoring a previously persisted identity rather than joining fresh.
func (c *SyncConfig) WithDeviceID(id wire.DeviceID) *SyncConfig {
	c.DeviceID = id
	return c
}

// WithDeviceName sets the device name presented in HELLO.
func (c *SyncConfig) WithDeviceName(name string) *SyncConfig {
	c.DeviceName = name
	return c
}

// WithInsecure toggles skipping TLS certificate verification on dial.
func (c *SyncConfig) WithInsecure(insecure bool) *SyncConfig {
	c.Insecure = insecure
	return c
}

// ToClientConfig builds a client.Config ready for client.New, wiring
// tr as the transport implementation (a transport.QUICTransport or
// transport.WebSocketTransport in production, a transport.MemoryTransport
// in tests).
func (c *SyncConfig) ToClientConfig(tr transport.Transport) client.Config {
	return client.Config{
		Transport:          tr,
		RelayAddrs:         c.RelayAddresses,
		GroupSecret:        c.GroupSecret,
		DeviceID:           c.DeviceID,
		DeviceName:         c.DeviceName,
		InsecureSkipVerify: c.Insecure,
	}
}

// EncodeSecret returns the group secret as URL-safe base64, the form an
// Invite's JSON payload and a persisted device profile both use.
func (c *SyncConfig) EncodeSecret() string {
	return base64.URLEncoding.EncodeToString(c.GroupSecret[:])
}

// DecodeSecret parses a URL-safe base64 group secret as produced by
// EncodeSecret.
func DecodeSecret(encoded string) (crypto.GroupSecret, error) {
	var secret crypto.GroupSecret
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return secret, fmt.Errorf("config: decoding secret: %w", err)
	}
	if len(raw) != crypto.GroupSecretSize {
		return secret, ErrInvalidSecretLength
	}
	copy(secret[:], raw)
	return secret, nil
}

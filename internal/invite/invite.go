// Package invite encodes and decodes the information a device needs to
// join an existing sync group: which relays to use, the group's
// identity, and the secret that derives its crypto keys.
package invite

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeroksync/0k-sync/internal/crypto"
	"github.com/zeroksync/0k-sync/internal/wire"
)

// Version is the only invite format this implementation produces or
// accepts. Invites at version 1 lacked a salt field and are rejected.
const Version = 2

var (
	// ErrUnsupportedVersion is returned when decoding an invite whose
	// version field is not Version. In particular, version 1 invites
	// predate the random per-group salt and cannot be safely used.
	ErrUnsupportedVersion = errors.New("invite: unsupported version")

	// ErrGroupIDMismatch is returned when an invite's GroupID does not
	// match the GroupID derived from its own GroupSecret, which would
	// indicate a corrupted or tampered invite.
	ErrGroupIDMismatch = errors.New("invite: group id does not match derived group secret")

	// ErrInvalidShortCode is returned when a short code fails length or
	// alphabet validation.
	ErrInvalidShortCode = errors.New("invite: malformed short code")
)

// Invite carries everything a new device needs to join a group: where
// to connect, and the secret that derives every key in the crypto
// pipeline. It is meant to be shared over a channel the group already
// trusts (QR code scan, short code read aloud, direct message) — whoever
// holds an Invite can join the group.
type Invite struct {
	Version      uint8
	RelayNodeID  wire.RelayNodeID
	GroupID      wire.GroupID
	GroupSecret  crypto.GroupSecret
	Salt         [crypto.SaltSize]byte
	RelayAddrs   []string
	CreatedAtSec int64
	ExpiresAtSec int64
}

// wireInvite is Invite's JSON transport form: fixed-size byte arrays
// become base64 strings instead of JSON arrays of numbers.
type wireInvite struct {
	Version      uint8    `json:"version"`
	RelayNodeID  string   `json:"relay_node_id"`
	GroupID      string   `json:"group_id"`
	GroupSecret  string   `json:"group_secret"`
	Salt         string   `json:"salt"`
	RelayAddrs   []string `json:"relay_addresses"`
	CreatedAtSec int64    `json:"created_at"`
	ExpiresAtSec int64    `json:"expires_at"`
}

// MarshalJSON renders fixed-size id and secret fields as base64 rather
// than JSON arrays of numbers.
func (inv Invite) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireInvite{
		Version:      inv.Version,
		RelayNodeID:  base64.StdEncoding.EncodeToString(inv.RelayNodeID[:]),
		GroupID:      base64.StdEncoding.EncodeToString(inv.GroupID[:]),
		GroupSecret:  base64.StdEncoding.EncodeToString(inv.GroupSecret[:]),
		Salt:         base64.StdEncoding.EncodeToString(inv.Salt[:]),
		RelayAddrs:   inv.RelayAddrs,
		CreatedAtSec: inv.CreatedAtSec,
		ExpiresAtSec: inv.ExpiresAtSec,
	})
}

// UnmarshalJSON parses the base64 transport form produced by MarshalJSON.
func (inv *Invite) UnmarshalJSON(data []byte) error {
	var w wireInvite
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	relayNodeID, err := decodeFixed(w.RelayNodeID, wire.IDSize)
	if err != nil {
		return fmt.Errorf("invite: relay_node_id: %w", err)
	}
	groupID, err := decodeFixed(w.GroupID, wire.IDSize)
	if err != nil {
		return fmt.Errorf("invite: group_id: %w", err)
	}
	groupSecret, err := decodeFixed(w.GroupSecret, crypto.GroupSecretSize)
	if err != nil {
		return fmt.Errorf("invite: group_secret: %w", err)
	}
	salt, err := decodeFixed(w.Salt, crypto.SaltSize)
	if err != nil {
		return fmt.Errorf("invite: salt: %w", err)
	}

	inv.Version = w.Version
	copy(inv.RelayNodeID[:], relayNodeID)
	copy(inv.GroupID[:], groupID)
	copy(inv.GroupSecret[:], groupSecret)
	copy(inv.Salt[:], salt)
	inv.RelayAddrs = w.RelayAddrs
	inv.CreatedAtSec = w.CreatedAtSec
	inv.ExpiresAtSec = w.ExpiresAtSec
	return nil
}

func decodeFixed(s string, wantLen int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(b) != wantLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", wantLen, len(b))
	}
	return b, nil
}

// New builds an invite for secret, deriving its GroupID, stamped with
// the given creation/expiry times (unix seconds) and relay node identity
// and addresses.
func New(secret crypto.GroupSecret, salt [crypto.SaltSize]byte, relayNodeID wire.RelayNodeID, relayAddrs []string, createdAtSec, expiresAtSec int64) Invite {
	return Invite{
		Version:      Version,
		RelayNodeID:  relayNodeID,
		GroupID:      crypto.DeriveGroupID(secret),
		GroupSecret:  secret,
		Salt:         salt,
		RelayAddrs:   relayAddrs,
		CreatedAtSec: createdAtSec,
		ExpiresAtSec: expiresAtSec,
	}
}

// Validate checks internal consistency: the version must be the one
// this implementation understands, and the embedded GroupID must match
// what the embedded GroupSecret actually derives to.
func (inv Invite) Validate() error {
	if inv.Version != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, inv.Version, Version)
	}
	if crypto.DeriveGroupID(inv.GroupSecret) != inv.GroupID {
		return ErrGroupIDMismatch
	}
	return nil
}

// ToQR encodes the invite as a URL-safe base64 string of its JSON form,
// suitable for embedding in a QR code.
func (inv Invite) ToQR() (string, error) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("invite: marshal: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// FromQR decodes an invite previously produced by ToQR and validates it.
func FromQR(payload string) (Invite, error) {
	raw, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return Invite{}, fmt.Errorf("invite: decode base64: %w", err)
	}
	var inv Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invite{}, fmt.Errorf("invite: unmarshal: %w", err)
	}
	if err := inv.Validate(); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// shortCodeBytes is how much of the group secret the short code covers:
// 80 bits, encoded as 16 base32 characters.
const shortCodeBytes = 10

var base32Enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// ToShortCode renders the first 80 bits of the group's secret as a
// dash-grouped, human-copyable code: XXXX-XXXX-XXXX-XXXX, uppercase
// A-Z2-7, 19 characters including the three dashes. The first 8
// characters are the "lookup" half, the last 8 the "decrypt" half (see
// SplitShortCode); a relay that only ever sees the lookup half cannot
// derive any group key from it.
func (inv Invite) ToShortCode() string {
	encoded := base32Enc.EncodeToString(inv.GroupSecret[:shortCodeBytes])
	var b strings.Builder
	for i, r := range encoded {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ShortCodeHalves is a short code split into its two functional halves.
type ShortCodeHalves struct {
	Lookup  string
	Decrypt string
}

// SplitShortCode validates and splits a short code produced by
// ToShortCode into its lookup and decrypt halves. The lookup half
// identifies which group a relay should search for; the decrypt half is
// never sent to a relay. Resolving a lookup half back to a group
// requires a lookup service this implementation does not provide.
func SplitShortCode(code string) (ShortCodeHalves, error) {
	stripped := strings.ReplaceAll(code, "-", "")
	if len(stripped) != 16 {
		return ShortCodeHalves{}, fmt.Errorf("%w: expected 16 code characters, got %d", ErrInvalidShortCode, len(stripped))
	}
	for _, r := range stripped {
		if !isBase32Char(r) {
			return ShortCodeHalves{}, fmt.Errorf("%w: invalid character %q", ErrInvalidShortCode, r)
		}
	}
	if len(code) == 19 {
		for _, pos := range []int{4, 9, 14} {
			if code[pos] != '-' {
				return ShortCodeHalves{}, fmt.Errorf("%w: expected dash at position %d", ErrInvalidShortCode, pos)
			}
		}
	}
	return ShortCodeHalves{Lookup: stripped[:8], Decrypt: stripped[8:]}, nil
}

func isBase32Char(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7')
}

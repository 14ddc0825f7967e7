// Package crypto implements 0k-Sync's end-to-end crypto pipeline: a
// passphrase-derived group secret, per-blob content keys derived from it,
// and XChaCha20-Poly1305 sealing of blob payloads. The relay never sees
// any of these keys — it stores and forwards opaque ciphertext.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/zeroksync/0k-sync/internal/wire"
)

// Sizes, in bytes, of the fixed-length secrets and parameters this
// package works with.
const (
	GroupSecretSize = 32
	SaltSize        = 16
	KeySize         = 32
	NonceSize       = chacha20poly1305.NonceSizeX // 24
)

// MaxPlaintextSize bounds the content this package will encrypt in one
// call. Guards against a caller accidentally streaming an entire device
// backup through a single in-memory AEAD call.
const MaxPlaintextSize = 100 * 1024 * 1024 // 100 MiB

// HKDF context strings. Each is a distinct, fixed label so that keys
// derived for one purpose can never collide with keys derived for
// another, even from the same group secret.
const (
	groupKeySalt   = "0k-sync-group-key-v1"
	encryptionInfo = "encryption"
	authInfo       = "authentication" // reserved, not used by any wire message yet

	contentKeySalt = "0k-sync-content-v1"
	contentInfoTag = "content-encryption"
)

var (
	// ErrEncryptionFailed is returned when the underlying AEAD cannot
	// seal a plaintext (e.g. an unexpected cipher-construction error).
	ErrEncryptionFailed = errors.New("crypto: encryption failed")

	// ErrDecryptionFailed covers every way a decrypt can fail: wrong
	// key, tampered ciphertext, or truncated input. Deliberately
	// undifferentiated so a relay or attacker learns nothing from the
	// failure mode.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")

	// ErrPlaintextTooLarge is returned by Encrypt when given more than
	// MaxPlaintextSize bytes.
	ErrPlaintextTooLarge = errors.New("crypto: plaintext exceeds maximum size")

	// ErrInvalidSalt is returned when a caller supplies an all-zero salt
	// to DeriveGroupSecret. The salt must be random and generated fresh
	// per group; a fixed, reused salt defeats Argon2id's purpose.
	ErrInvalidSalt = errors.New("crypto: salt must be 16 random bytes, not the zero value")
)

// GroupSecret is the root secret shared by every device in a sync group,
// either typed in directly or derived from a passphrase. It must never
// be logged; String and GoString both redact it.
type GroupSecret [GroupSecretSize]byte

func (s GroupSecret) String() string   { return "GroupSecret(redacted)" }
func (s GroupSecret) GoString() string { return "GroupSecret(redacted)" }

// GroupKey is the envelope key derived from a GroupSecret, reserved for
// envelope-level metadata encryption.
type GroupKey [KeySize]byte

func (k GroupKey) String() string   { return "GroupKey(redacted)" }
func (k GroupKey) GoString() string { return "GroupKey(redacted)" }

// ContentKey seals a single blob's payload, derived fresh per BlobID so
// that compromise of one blob's key never exposes another.
type ContentKey [KeySize]byte

func (k ContentKey) String() string   { return "ContentKey(redacted)" }
func (k ContentKey) GoString() string { return "ContentKey(redacted)" }

// argon2Params picks Argon2id's time/memory/parallelism cost from the
// host's total RAM, so a phone and a workstation both spend a comparable
// fraction of their memory on the KDF rather than a comparable absolute
// amount.
func argon2Params(totalRAMMiB uint64) (time uint32, memoryKiB uint32, threads uint8) {
	switch {
	case totalRAMMiB < 4096:
		return 2, 19 * 1024, 1
	case totalRAMMiB < 8192:
		return 1, 46 * 1024, 1
	default:
		return 3, 64 * 1024, 4
	}
}

// DeriveGroupSecret runs Argon2id over passphrase with the given salt,
// tuned to totalRAMMiB, producing a 32-byte GroupSecret. The salt must be
// exactly SaltSize random bytes generated once at group creation and
// carried in the group's Invite; a fixed or reused salt is rejected.
func DeriveGroupSecret(passphrase []byte, salt [SaltSize]byte, totalRAMMiB uint64) (GroupSecret, error) {
	var zero [SaltSize]byte
	if salt == zero {
		return GroupSecret{}, ErrInvalidSalt
	}
	time, memoryKiB, threads := argon2Params(totalRAMMiB)
	out := argon2.IDKey(passphrase, salt[:], time, memoryKiB, threads, GroupSecretSize)
	var secret GroupSecret
	copy(secret[:], out)
	ZeroBytes(out)
	return secret, nil
}

// GenerateSalt returns a fresh random 16-byte salt for a new group.
func GenerateSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return salt, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// GenerateGroupSecret returns a fresh random group secret, for a group
// created directly from a secret rather than a passphrase.
func GenerateGroupSecret() (GroupSecret, error) {
	var secret GroupSecret
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return secret, fmt.Errorf("crypto: generate group secret: %w", err)
	}
	return secret, nil
}

// DeriveGroupID computes the group's public identifier from its secret.
func DeriveGroupID(secret GroupSecret) wire.GroupID {
	return wire.GroupIDFromSecret(secret[:])
}

func hkdfExpand(secret []byte, salt, info string, out []byte) error {
	r := hkdf.New(sha256.New, secret, []byte(salt), []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return nil
}

// DeriveGroupKey derives the group's envelope key: HKDF-SHA256 with
// salt "0k-sync-group-key-v1" and info "encryption".
func DeriveGroupKey(secret GroupSecret) (GroupKey, error) {
	var key GroupKey
	if err := hkdfExpand(secret[:], groupKeySalt, encryptionInfo, key[:]); err != nil {
		return GroupKey{}, err
	}
	return key, nil
}

// DeriveAuthKey derives the sibling authentication key (info
// "authentication"). No wire message uses it yet; exported so the key
// schedule is reserved now rather than retrofitted onto a live protocol
// later, per the design's note that this key is held in reserve.
func DeriveAuthKey(secret GroupSecret) (GroupKey, error) {
	var key GroupKey
	if err := hkdfExpand(secret[:], groupKeySalt, authInfo, key[:]); err != nil {
		return GroupKey{}, err
	}
	return key, nil
}

// DeriveContentKey derives the per-blob content encryption key: HKDF-SHA256
// with salt "0k-sync-content-v1", ikm the group secret, and info
// blob_id || "content-encryption".
func DeriveContentKey(secret GroupSecret, blobID wire.BlobID) (ContentKey, error) {
	info := append(append([]byte{}, blobID.Bytes()...), []byte(contentInfoTag)...)
	var key ContentKey
	if err := hkdfExpand(secret[:], contentKeySalt, string(info), key[:]); err != nil {
		return ContentKey{}, err
	}
	return key, nil
}

// Encrypt seals plaintext under key with XChaCha20-Poly1305 and a fresh
// random 24-byte nonce, returning nonce || ciphertext as the blob's wire
// payload.
func Encrypt(key ContentKey, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrPlaintextTooLarge
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrEncryptionFailed, err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt opens a blob's wire payload (nonce || ciphertext) under key.
// Every failure mode — wrong key, tampered ciphertext, or a payload
// shorter than one nonce — returns the same ErrDecryptionFailed, so a
// relay or attacker cannot distinguish "wrong key" from "corrupted data"
// by the error shape.
func Decrypt(key ContentKey, wirePayload []byte) ([]byte, error) {
	if len(wirePayload) < NonceSize {
		return nil, ErrDecryptionFailed
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	nonce := wirePayload[:NonceSize]
	ciphertext := wirePayload[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ZeroBytes overwrites b with zeros in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey overwrites a fixed-size key in place.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}

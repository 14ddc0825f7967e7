package crypto

import (
	"bytes"
	"testing"

	"github.com/zeroksync/0k-sync/internal/wire"
)

func testSalt(t *testing.T) [SaltSize]byte {
	t.Helper()
	var salt [SaltSize]byte
	copy(salt[:], []byte("test-salt-00000!"))
	return salt
}

func TestDeriveGroupSecret_Deterministic(t *testing.T) {
	salt := testSalt(t)
	s1, err := DeriveGroupSecret([]byte("test-passphrase"), salt, 4096)
	if err != nil {
		t.Fatalf("DeriveGroupSecret() error = %v", err)
	}
	s2, err := DeriveGroupSecret([]byte("test-passphrase"), salt, 4096)
	if err != nil {
		t.Fatalf("DeriveGroupSecret() second call error = %v", err)
	}
	if s1 != s2 {
		t.Error("same passphrase and salt produced different group secrets")
	}
}

func TestDeriveGroupSecret_DifferentPassphrasesDiffer(t *testing.T) {
	salt := testSalt(t)
	s1, _ := DeriveGroupSecret([]byte("passphrase-one"), salt, 4096)
	s2, _ := DeriveGroupSecret([]byte("passphrase-two"), salt, 4096)
	if s1 == s2 {
		t.Error("different passphrases produced the same group secret")
	}
}

func TestDeriveGroupSecret_RejectsZeroSalt(t *testing.T) {
	var zeroSalt [SaltSize]byte
	_, err := DeriveGroupSecret([]byte("test-passphrase"), zeroSalt, 4096)
	if err != ErrInvalidSalt {
		t.Fatalf("expected ErrInvalidSalt, got %v", err)
	}
}

func TestArgon2Params_RAMTiers(t *testing.T) {
	cases := []struct {
		ramMiB           uint64
		wantTime, wantKB uint32
		wantThreads      uint8
	}{
		{2048, 2, 19 * 1024, 1},
		{4095, 2, 19 * 1024, 1},
		{4096, 1, 46 * 1024, 1},
		{8191, 1, 46 * 1024, 1},
		{8192, 3, 64 * 1024, 4},
		{32768, 3, 64 * 1024, 4},
	}
	for _, c := range cases {
		time, mem, threads := argon2Params(c.ramMiB)
		if time != c.wantTime || mem != c.wantKB || threads != c.wantThreads {
			t.Errorf("argon2Params(%d) = (%d,%d,%d), want (%d,%d,%d)",
				c.ramMiB, time, mem, threads, c.wantTime, c.wantKB, c.wantThreads)
		}
	}
}

func TestDeriveGroupID_MatchesWireDerivation(t *testing.T) {
	secret, err := GenerateGroupSecret()
	if err != nil {
		t.Fatalf("GenerateGroupSecret() error = %v", err)
	}
	got := DeriveGroupID(secret)
	want := wire.GroupIDFromSecret(secret[:])
	if got != want {
		t.Error("DeriveGroupID does not match wire.GroupIDFromSecret")
	}
}

func TestDeriveGroupKey_DeterministicAndDistinctFromAuthKey(t *testing.T) {
	secret, _ := GenerateGroupSecret()
	k1, err := DeriveGroupKey(secret)
	if err != nil {
		t.Fatalf("DeriveGroupKey() error = %v", err)
	}
	k2, _ := DeriveGroupKey(secret)
	if k1 != k2 {
		t.Error("DeriveGroupKey is not deterministic")
	}
	authKey, err := DeriveAuthKey(secret)
	if err != nil {
		t.Fatalf("DeriveAuthKey() error = %v", err)
	}
	if k1 == authKey {
		t.Error("group key and auth key must differ")
	}
}

func TestDeriveContentKey_UniquePerBlob(t *testing.T) {
	secret, _ := GenerateGroupSecret()
	k1, err := DeriveContentKey(secret, wire.NewBlobID())
	if err != nil {
		t.Fatalf("DeriveContentKey() error = %v", err)
	}
	k2, _ := DeriveContentKey(secret, wire.NewBlobID())
	if k1 == k2 {
		t.Error("content keys for different blob ids should differ")
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	secret, _ := GenerateGroupSecret()
	key, _ := DeriveContentKey(secret, wire.NewBlobID())

	plaintext := []byte("Hello, sync group!")
	wirePayload, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(wirePayload) != NonceSize+len(plaintext)+16 {
		t.Errorf("wire payload length = %d, want %d", len(wirePayload), NonceSize+len(plaintext)+16)
	}

	decrypted, err := Decrypt(key, wirePayload)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	secret, _ := GenerateGroupSecret()
	blobID := wire.NewBlobID()
	keyA, _ := DeriveContentKey(secret, blobID)
	otherSecret, _ := GenerateGroupSecret()
	keyB, _ := DeriveContentKey(otherSecret, blobID)

	wirePayload, _ := Encrypt(keyA, []byte("secret"))
	if _, err := Decrypt(keyB, wirePayload); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	secret, _ := GenerateGroupSecret()
	key, _ := DeriveContentKey(secret, wire.NewBlobID())

	wirePayload, _ := Encrypt(key, []byte("secret message"))
	wirePayload[len(wirePayload)-1] ^= 0xFF

	if _, err := Decrypt(key, wirePayload); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecrypt_TooShortFails(t *testing.T) {
	var key ContentKey
	if _, err := Decrypt(key, make([]byte, NonceSize-1)); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed for undersized payload, got %v", err)
	}
}

func TestEncrypt_RejectsOversizedPlaintext(t *testing.T) {
	var key ContentKey
	_, err := Encrypt(key, make([]byte, MaxPlaintextSize+1))
	if err != ErrPlaintextTooLarge {
		t.Fatalf("expected ErrPlaintextTooLarge, got %v", err)
	}
}

func TestEncrypt_EmptyPlaintextRoundTrips(t *testing.T) {
	secret, _ := GenerateGroupSecret()
	key, _ := DeriveContentKey(secret, wire.NewBlobID())

	wirePayload, err := Encrypt(key, nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	decrypted, err := Decrypt(key, wirePayload)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if len(decrypted) != 0 {
		t.Errorf("expected empty plaintext, got %d bytes", len(decrypted))
	}
}

func TestZeroBytes(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ZeroBytes(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestZeroKey(t *testing.T) {
	key := [KeySize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}
	ZeroKey(&key)

	var zeroKey [KeySize]byte
	if key != zeroKey {
		t.Error("key was not zeroed")
	}
}

func TestGroupSecret_StringRedacted(t *testing.T) {
	secret, _ := GenerateGroupSecret()
	if got := secret.String(); got != "GroupSecret(redacted)" {
		t.Errorf("String() = %q, want fully redacted form", got)
	}
	if got := secret.GoString(); got != "GroupSecret(redacted)" {
		t.Errorf("GoString() = %q, want fully redacted form", got)
	}
}

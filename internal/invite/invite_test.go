package invite

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/zeroksync/0k-sync/internal/crypto"
	"github.com/zeroksync/0k-sync/internal/wire"
)

func testInvite(t *testing.T) Invite {
	t.Helper()
	secret, err := crypto.GenerateGroupSecret()
	if err != nil {
		t.Fatalf("GenerateGroupSecret() error = %v", err)
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	relayID, err := wire.RelayNodeIDFromBytes(make([]byte, wire.IDSize))
	if err != nil {
		t.Fatalf("RelayNodeIDFromBytes() error = %v", err)
	}
	return New(secret, salt, relayID, []string{"relay.example.com:4433"}, 1000, 2000)
}

func TestInvite_ValidateAcceptsFreshInvite(t *testing.T) {
	inv := testInvite(t)
	if err := inv.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestInvite_ValidateRejectsWrongVersion(t *testing.T) {
	inv := testInvite(t)
	inv.Version = 1
	if err := inv.Validate(); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestInvite_ValidateRejectsGroupIDMismatch(t *testing.T) {
	inv := testInvite(t)
	inv.GroupID[0] ^= 0xFF
	if err := inv.Validate(); err != ErrGroupIDMismatch {
		t.Fatalf("expected ErrGroupIDMismatch, got %v", err)
	}
}

func TestInvite_QRRoundTrip(t *testing.T) {
	inv := testInvite(t)
	qr, err := inv.ToQR()
	if err != nil {
		t.Fatalf("ToQR() error = %v", err)
	}
	decoded, err := FromQR(qr)
	if err != nil {
		t.Fatalf("FromQR() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, inv) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, inv)
	}
}

func TestFromQR_RejectsV1Invite(t *testing.T) {
	inv := testInvite(t)
	inv.Version = 1
	qr, err := inv.ToQR()
	if err != nil {
		t.Fatalf("ToQR() error = %v", err)
	}
	if _, err := FromQR(qr); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestFromQR_RejectsGarbage(t *testing.T) {
	if _, err := FromQR("not valid base64!!"); err == nil {
		t.Error("expected error decoding garbage QR payload")
	}
}

func TestShortCode_ExactShapeAndAlphabet(t *testing.T) {
	for i := 0; i < 20; i++ {
		inv := testInvite(t)
		code := inv.ToShortCode()
		if len(code) != 19 {
			t.Fatalf("short code length = %d, want 19 (code=%q)", len(code), code)
		}
		for _, pos := range []int{4, 9, 14} {
			if code[pos] != '-' {
				t.Errorf("expected dash at position %d in %q", pos, code)
			}
		}
		for i, r := range code {
			if i == 4 || i == 9 || i == 14 {
				continue
			}
			if !isBase32Char(r) {
				t.Errorf("character %q at position %d is not in A-Z2-7", r, i)
			}
		}
	}
}

func TestSplitShortCode_ValidCode(t *testing.T) {
	inv := testInvite(t)
	code := inv.ToShortCode()
	halves, err := SplitShortCode(code)
	if err != nil {
		t.Fatalf("SplitShortCode() error = %v", err)
	}
	if len(halves.Lookup) != 8 || len(halves.Decrypt) != 8 {
		t.Errorf("expected 8-character halves, got lookup=%d decrypt=%d", len(halves.Lookup), len(halves.Decrypt))
	}
	if halves.Lookup+halves.Decrypt != strings.ReplaceAll(code, "-", "") {
		t.Error("halves did not concatenate consistently")
	}
}

func TestSplitShortCode_RejectsWrongLength(t *testing.T) {
	if _, err := SplitShortCode("ABCD-EFGH"); !errors.Is(err, ErrInvalidShortCode) {
		t.Fatalf("expected ErrInvalidShortCode, got %v", err)
	}
}

func TestSplitShortCode_RejectsInvalidAlphabet(t *testing.T) {
	// '1', '0', '8', '9' are outside the A-Z2-7 alphabet.
	if _, err := SplitShortCode("AAA1-BBBB-CCCC-DDDD"); !errors.Is(err, ErrInvalidShortCode) {
		t.Fatalf("expected ErrInvalidShortCode, got %v", err)
	}
}

func TestSplitShortCode_AcceptsWithoutDashes(t *testing.T) {
	inv := testInvite(t)
	code := inv.ToShortCode()
	stripped := ""
	for _, r := range code {
		if r != '-' {
			stripped += string(r)
		}
	}
	if _, err := SplitShortCode(stripped); err != nil {
		t.Errorf("SplitShortCode() on undashed code error = %v", err)
	}
}

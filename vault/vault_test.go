package vault

import (
	"encoding/base64"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := testVault(t)
	rapid.Check(t, func(t *rapid.T) {
		plaintext := rapid.String().Draw(t, "plaintext")

		sealed, err := v.EncryptString(plaintext)
		if err != nil {
			t.Fatalf("EncryptString() error = %v", err)
		}
		if plaintext != "" && sealed == plaintext {
			t.Fatal("ciphertext must differ from plaintext")
		}

		opened, err := v.DecryptString(sealed)
		if err != nil {
			t.Fatalf("DecryptString() error = %v", err)
		}
		if opened != plaintext {
			t.Fatalf("round trip = %q, want %q", opened, plaintext)
		}
	})
}

func TestEncryptIsRandomized(t *testing.T) {
	v := testVault(t)

	first, err := v.EncryptString("db-password")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	second, err := v.EncryptString("db-password")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	if first == second {
		t.Fatal("two encryptions of the same plaintext should differ")
	}
}

func TestDecryptRejectsFlippedBit(t *testing.T) {
	v := testVault(t)

	sealed, err := v.EncryptString("sensitive-host")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}

	for i := range raw {
		mutated := append([]byte(nil), raw...)
		mutated[i] ^= 0x01
		if _, err := v.DecryptString(base64.StdEncoding.EncodeToString(mutated)); err == nil {
			t.Fatalf("bit flip at byte %d was not rejected", i)
		} else if err != ErrCiphertext {
			t.Fatalf("bit flip at byte %d: error = %v, want ErrCiphertext", i, err)
		}
	}
}

func TestDecryptRejectsForeignKey(t *testing.T) {
	v := testVault(t)
	other, err := New([]byte("fedcba9876543210fedcba9876543210"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sealed, err := v.EncryptString("root")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	if _, err := other.DecryptString(sealed); err != ErrCiphertext {
		t.Fatalf("foreign-key decrypt error = %v, want ErrCiphertext", err)
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	v := testVault(t)

	for _, input := range []string{"not base64!!", base64.StdEncoding.EncodeToString([]byte("tiny"))} {
		if _, err := v.DecryptString(input); err != ErrCiphertext {
			t.Fatalf("DecryptString(%q) error = %v, want ErrCiphertext", input, err)
		}
	}
}

func TestEmptyStringPassesThrough(t *testing.T) {
	v := testVault(t)

	sealed, err := v.EncryptString("")
	if err != nil || sealed != "" {
		t.Fatalf("EncryptString(\"\") = %q, %v", sealed, err)
	}
	opened, err := v.DecryptString("")
	if err != nil || opened != "" {
		t.Fatalf("DecryptString(\"\") = %q, %v", opened, err)
	}
}

func TestNewRejectsBadKeySizes(t *testing.T) {
	for _, size := range []int{0, 1, 15, 31, 33} {
		if _, err := New([]byte(strings.Repeat("k", size))); err == nil {
			t.Fatalf("New() accepted %d byte key", size)
		}
	}
}

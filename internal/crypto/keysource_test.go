package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestEnvSource(t *testing.T) {
	source := NewEnvSource()

	t.Run("reads 32-byte hex key", func(t *testing.T) {
		want := bytes.Repeat([]byte{0xAB}, MasterKeyLength)
		t.Setenv(MasterKeyEnv, hex.EncodeToString(want))

		got, err := source.MasterKey()
		if err != nil {
			t.Fatalf("MasterKey() error = %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Error("MasterKey() returned wrong bytes")
		}
	})

	t.Run("missing variable", func(t *testing.T) {
		t.Setenv(MasterKeyEnv, "")

		_, err := source.MasterKey()
		var ee *EncryptionError
		if !errors.As(err, &ee) || ee.Reason != ReasonMissingKey {
			t.Errorf("MasterKey() error = %v, want missing key", err)
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		t.Setenv(MasterKeyEnv, "abcdef")

		_, err := source.MasterKey()
		var ee *EncryptionError
		if !errors.As(err, &ee) || ee.Reason != ReasonBadKeyLength {
			t.Errorf("MasterKey() error = %v, want bad key length", err)
		}
	})

	t.Run("not hex", func(t *testing.T) {
		t.Setenv(MasterKeyEnv, strings.Repeat("zz", MasterKeyLength))

		if _, err := source.MasterKey(); err == nil {
			t.Error("MasterKey() accepted non-hex input")
		}
	})

	t.Run("re-reads on every call", func(t *testing.T) {
		first := bytes.Repeat([]byte{0x01}, MasterKeyLength)
		second := bytes.Repeat([]byte{0x02}, MasterKeyLength)

		t.Setenv(MasterKeyEnv, hex.EncodeToString(first))
		got, err := source.MasterKey()
		if err != nil {
			t.Fatalf("MasterKey() error = %v", err)
		}
		if !bytes.Equal(got, first) {
			t.Fatal("first read mismatch")
		}

		t.Setenv(MasterKeyEnv, hex.EncodeToString(second))
		got, err = source.MasterKey()
		if err != nil {
			t.Fatalf("MasterKey() error = %v", err)
		}
		if !bytes.Equal(got, second) {
			t.Error("source cached the key instead of re-reading")
		}
	})
}

func TestKeyringSource(t *testing.T) {
	keyring.MockInit()
	source := &KeyringSource{Service: "credvault-test", User: "master-key"}

	t.Run("missing entry", func(t *testing.T) {
		_, err := source.MasterKey()
		var ee *EncryptionError
		if !errors.As(err, &ee) || ee.Reason != ReasonMissingKey {
			t.Errorf("MasterKey() error = %v, want missing key", err)
		}
	})

	t.Run("store rejects bad keys", func(t *testing.T) {
		if err := source.Store("abcdef"); err == nil {
			t.Error("Store() accepted a short key")
		}
		if err := source.Store(strings.Repeat("zz", MasterKeyLength)); err == nil {
			t.Error("Store() accepted non-hex input")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		want := bytes.Repeat([]byte{0x5C}, MasterKeyLength)
		if err := source.Store(hex.EncodeToString(want)); err != nil {
			t.Fatalf("Store() error = %v", err)
		}

		got, err := source.MasterKey()
		if err != nil {
			t.Fatalf("MasterKey() error = %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Error("MasterKey() returned wrong bytes")
		}

		// A keyring-sourced key drives the cipher like any other.
		envelope, err := NewCipher(source).EncryptWith([]byte("from keychain"), fastKDF)
		if err != nil {
			t.Fatalf("EncryptWith() error = %v", err)
		}
		plain, err := NewCipher(source).Decrypt(envelope)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if string(plain) != "from keychain" {
			t.Errorf("round trip = %q", plain)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		if err := source.Delete(); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := source.Delete(); err != nil {
			t.Fatalf("second Delete() error = %v", err)
		}
		if _, err := source.MasterKey(); err == nil {
			t.Error("MasterKey() succeeded after delete")
		}
	})
}

func TestStaticSource(t *testing.T) {
	want := bytes.Repeat([]byte{0x0F}, MasterKeyLength)
	source := StaticSource(want)

	got, err := source.MasterKey()
	if err != nil {
		t.Fatalf("MasterKey() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("MasterKey() returned wrong bytes")
	}

	// The returned buffer is a copy; clearing it must not affect the
	// source.
	ClearBytes(got)
	again, err := source.MasterKey()
	if err != nil {
		t.Fatalf("MasterKey() error = %v", err)
	}
	if !bytes.Equal(again, want) {
		t.Error("clearing the returned buffer mutated the source")
	}

	if _, err := StaticSource([]byte("short")).MasterKey(); err == nil {
		t.Error("MasterKey() accepted a short static key")
	}
}

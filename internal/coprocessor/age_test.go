package coprocessor

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"sealbox/internal/config"
	"sealbox/internal/sb"
	"sealbox/internal/vault"
)

func newTestAgeCoprocessor(t *testing.T) (*AgeCoprocessor, *vault.MemoryVault) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.CoprocessorConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "sealbox.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "sealbox.key"),
	}
	v := vault.NewMemoryVault("test")
	return NewAgeCoprocessor(cfg, v), v
}

func TestAgeCoprocessor_IsConfigured_BeforeSetup(t *testing.T) {
	t.Parallel()
	c, _ := newTestAgeCoprocessor(t)
	if c.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
}

func TestAgeCoprocessor_Setup_IsConfigured(t *testing.T) {
	t.Parallel()
	c, _ := newTestAgeCoprocessor(t)

	if err := c.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !c.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}
}

func TestAgeCoprocessor_SealIngestReveal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("buy milk")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			passphrase := "test-passphrase"
			alice := sb.Principal("alice")
			c, _ := newTestAgeCoprocessor(t)
			if err := c.Setup(passphrase); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			sealed, err := c.Seal(tt.input, alice)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Ciphertext, tt.input) {
				t.Error("sealed output contains plaintext")
			}

			h, err := c.Ingest(sealed, alice)
			if err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			if err := c.GrantDecrypt(h, alice); err != nil {
				t.Fatalf("GrantDecrypt() error = %v", err)
			}

			rv, err := c.Unlock(passphrase)
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var out bytes.Buffer
			if err := rv.Reveal(h, alice, &out); err != nil {
				t.Fatalf("Reveal() error = %v", err)
			}
			if !bytes.Equal(out.Bytes(), tt.input) {
				t.Errorf("Reveal() = %d bytes, want %d bytes", out.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeCoprocessor_RevealRequiresGrant(t *testing.T) {
	t.Parallel()

	c, _ := newTestAgeCoprocessor(t)
	if err := c.Setup("pw"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	sealed, err := c.Seal([]byte("secret"), "alice")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	h, err := c.Ingest(sealed, "alice")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if err := c.GrantDecrypt(h, "alice"); err != nil {
		t.Fatalf("GrantDecrypt() error = %v", err)
	}

	rv, err := c.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var out bytes.Buffer
	err = rv.Reveal(h, "bob", &out)
	if !errors.Is(err, ErrNoDecryptRight) {
		t.Fatalf("Reveal() by ungranted principal error = %v, want ErrNoDecryptRight", err)
	}
}

func TestAgeCoprocessor_IngestRejectsForeignProof(t *testing.T) {
	t.Parallel()

	c, _ := newTestAgeCoprocessor(t)
	if err := c.Setup("pw"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	sealed, err := c.Seal([]byte("secret"), "alice")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := c.Ingest(sealed, "mallory"); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("Ingest() with another submitter error = %v, want ErrInvalidProof", err)
	}
}

func TestAgeCoprocessor_IngestRejectsNonAge(t *testing.T) {
	t.Parallel()

	c, _ := newTestAgeCoprocessor(t)
	ct := []byte("plain bytes")
	sealed := sb.SealedChunk{Ciphertext: ct, Proof: InputProof(ct, "alice")}
	if _, err := c.Ingest(sealed, "alice"); err == nil {
		t.Error("Ingest() of non-age data succeeded, want error")
	}
}

func TestAgeCoprocessor_IngestIsContentAddressed(t *testing.T) {
	t.Parallel()

	c, v := newTestAgeCoprocessor(t)
	if err := c.Setup("pw"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	sealed, err := c.Seal([]byte("same"), "alice")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	h1, err := c.Ingest(sealed, "alice")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	h2, err := c.Ingest(sealed, "alice")
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("handles differ for identical ciphertext: %s vs %s", h1, h2)
	}
	ok, err := v.HasContent(string(h1))
	if err != nil || !ok {
		t.Errorf("vault HasContent(%s) = %v, %v; want true, nil", h1, ok, err)
	}
}

func TestAgeCoprocessor_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()
	c, _ := newTestAgeCoprocessor(t)
	if err := c.Setup("correct-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if _, err := c.Unlock("wrong-passphrase"); err == nil {
		t.Error("Unlock() with wrong passphrase should return error")
	}
}

func TestAgeCoprocessor_SealWithoutSetup(t *testing.T) {
	t.Parallel()
	c, _ := newTestAgeCoprocessor(t)

	if _, err := c.Seal([]byte("data"), "alice"); err == nil {
		t.Error("Seal() without Setup should return error")
	}
}

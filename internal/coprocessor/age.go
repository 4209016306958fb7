package coprocessor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"sealbox/internal/config"
	"sealbox/internal/sb"
)

// ageHeader starts every age v1 file.
var ageHeader = []byte("age-encryption.org/v1\n")

// AgeCoprocessor is a coprocessor backed by filippo.io/age with one X25519
// key pair per store. Chunks are sealed to the public key; the private key
// is encrypted with the user's passphrase using age's scrypt recipient.
// Sealed chunks and decrypt rights are kept in a Vault.
type AgeCoprocessor struct {
	publicKeyPath  string
	privateKeyPath string
	vault          sb.Vault
}

var _ Confidential = (*AgeCoprocessor)(nil)

// NewAgeCoprocessor creates a new AgeCoprocessor from configuration.
func NewAgeCoprocessor(cfg config.CoprocessorConfig, vault sb.Vault) *AgeCoprocessor {
	return &AgeCoprocessor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
		vault:          vault,
	}
}

// Setup generates a new X25519 key pair, stores the public key in plaintext,
// and encrypts the private key with the passphrase.
func (c *AgeCoprocessor) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{c.publicKeyPath, c.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	if err := os.WriteFile(c.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := os.WriteFile(c.privateKeyPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured returns true if both key files exist.
func (c *AgeCoprocessor) IsConfigured() bool {
	for _, p := range []string{c.publicKeyPath, c.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Seal age-encrypts plaintext to the store's public key.
func (c *AgeCoprocessor) Seal(plaintext []byte, submitter sb.Principal) (sb.SealedChunk, error) {
	recipient, err := c.loadRecipient()
	if err != nil {
		return sb.SealedChunk{}, fmt.Errorf("loading public key: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return sb.SealedChunk{}, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return sb.SealedChunk{}, fmt.Errorf("encrypting chunk: %w", err)
	}
	if err := w.Close(); err != nil {
		return sb.SealedChunk{}, fmt.Errorf("finalizing encryption: %w", err)
	}

	ct := buf.Bytes()
	return sb.SealedChunk{Ciphertext: ct, Proof: InputProof(ct, submitter)}, nil
}

// Ingest checks the proof and the age header, then stores the ciphertext
// under its content address. Re-ingesting identical ciphertext is a no-op.
func (c *AgeCoprocessor) Ingest(sealed sb.SealedChunk, submitter sb.Principal) (sb.ChunkHandle, error) {
	if err := verifyProof(sealed, submitter); err != nil {
		return "", err
	}
	if !bytes.HasPrefix(sealed.Ciphertext, ageHeader) {
		return "", fmt.Errorf("ingesting chunk: not an age file")
	}

	h := chunkHandle(sealed.Ciphertext)
	exists, err := c.vault.HasContent(string(h))
	if err != nil {
		return "", fmt.Errorf("checking chunk %s: %w", h, err)
	}
	if !exists {
		if err := c.vault.PutContent(string(h), bytes.NewReader(sealed.Ciphertext), int64(len(sealed.Ciphertext))); err != nil {
			return "", fmt.Errorf("storing chunk %s: %w", h, err)
		}
	}
	return h, nil
}

// GrantDecrypt records that p may decrypt h.
func (c *AgeCoprocessor) GrantDecrypt(h sb.ChunkHandle, p sb.Principal) error {
	body := []byte(p)
	if err := c.vault.PutContent(aclKey(h, p), bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("granting decrypt on %s: %w", h, err)
	}
	return nil
}

// Unlock decrypts the private key using the passphrase.
func (c *AgeCoprocessor) Unlock(passphrase string) (Revealer, error) {
	privData, err := os.ReadFile(c.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(privData), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}

	return &ageRevealer{identity: identities[0], vault: c.vault}, nil
}

func (c *AgeCoprocessor) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(c.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

// ageRevealer holds an unlocked identity in memory for one session.
type ageRevealer struct {
	identity age.Identity
	vault    sb.Vault
}

// Reveal decrypts h for p, provided p was granted decryption of it.
func (r *ageRevealer) Reveal(h sb.ChunkHandle, p sb.Principal, w io.Writer) error {
	ok, err := r.vault.HasContent(aclKey(h, p))
	if err != nil {
		return fmt.Errorf("checking decrypt right: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s for %q", ErrNoDecryptRight, h, p)
	}

	var ct bytes.Buffer
	if err := r.vault.GetContent(string(h), &ct); err != nil {
		return fmt.Errorf("loading chunk %s: %w", h, err)
	}

	dr, err := age.Decrypt(&ct, r.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting chunk: %w", err)
	}
	return nil
}

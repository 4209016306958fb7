// Package coprocessor provides the confidential-computing collaborator the
// record store delegates all cryptography to. The store itself only calls
// Ingest and GrantDecrypt; the client-side half (Seal, Unlock) is used by the
// CLI to produce sealed chunks and to read back the ones a principal may see.
package coprocessor

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"

	"sealbox/internal/sb"
)

var (
	// ErrInvalidProof is returned by Ingest when the input proof does not
	// bind the ciphertext to the submitter.
	ErrInvalidProof = errors.New("invalid input proof")

	// ErrNoDecryptRight is returned by Reveal when the principal was never
	// granted decryption of the chunk.
	ErrNoDecryptRight = errors.New("no decrypt right")
)

// Confidential is a coprocessor together with its client-side operations.
type Confidential interface {
	sb.Coprocessor

	// Setup performs one-time key generation, protecting the private key
	// with passphrase.
	Setup(passphrase string) error

	// IsConfigured reports whether Setup has been run.
	IsConfigured() bool

	// Seal encrypts one chunk of plaintext for the store and attaches an
	// input proof bound to submitter. No passphrase is required.
	Seal(plaintext []byte, submitter sb.Principal) (sb.SealedChunk, error)

	// Unlock opens the private key for a session of reveals.
	Unlock(passphrase string) (Revealer, error)
}

// Revealer decrypts stored chunks on behalf of principals holding a decrypt right.
type Revealer interface {
	Reveal(h sb.ChunkHandle, p sb.Principal, w io.Writer) error
}

// InputProof binds ciphertext to the principal submitting it. A chunk sealed
// for one principal cannot be ingested on behalf of another.
func InputProof(ciphertext []byte, submitter sb.Principal) []byte {
	h := sha256.New()
	h.Write([]byte(submitter))
	h.Write([]byte{0})
	h.Write(ciphertext)
	return h.Sum(nil)
}

func verifyProof(sealed sb.SealedChunk, submitter sb.Principal) error {
	want := InputProof(sealed.Ciphertext, submitter)
	if subtle.ConstantTimeCompare(want, sealed.Proof) != 1 {
		return ErrInvalidProof
	}
	return nil
}

// chunkHandle is content addressed so that ingesting the same ciphertext
// twice yields the same handle.
func chunkHandle(ciphertext []byte) sb.ChunkHandle {
	sum := sha256.Sum256(ciphertext)
	return sb.ChunkHandle(hex.EncodeToString(sum[:]))
}

// aclKey names the blob recording that p may decrypt h.
func aclKey(h sb.ChunkHandle, p sb.Principal) string {
	sum := sha256.Sum256([]byte(string(h) + "\x00" + string(p)))
	return "acl-" + hex.EncodeToString(sum[:])
}

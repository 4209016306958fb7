package coprocessor

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"sealbox/internal/sb"
)

// testHeader is prepended by TestCoprocessor.Seal so sealed output differs
// from plaintext while staying deterministic.
var testHeader = []byte("SBTEST\x00\x00")

// TestCoprocessor is a deterministic in-memory coprocessor for tests. It
// keeps ciphertext and decrypt rights in maps and can be told to fail.
type TestCoprocessor struct {
	mu     sync.Mutex
	blobs  map[sb.ChunkHandle][]byte
	grants map[sb.ChunkHandle]map[sb.Principal]bool
	calls  int

	// FailIngest, when set, is returned by every Ingest call.
	FailIngest error

	// FailGrantAfter makes the n-th GrantDecrypt call (1-based) and every
	// call after it fail with FailGrant. Zero disables it.
	FailGrantAfter int
	FailGrant      error
}

var _ Confidential = (*TestCoprocessor)(nil)

// NewTestCoprocessor creates an empty TestCoprocessor.
func NewTestCoprocessor() *TestCoprocessor {
	return &TestCoprocessor{
		blobs:  make(map[sb.ChunkHandle][]byte),
		grants: make(map[sb.ChunkHandle]map[sb.Principal]bool),
	}
}

func (c *TestCoprocessor) Setup(passphrase string) error { return nil }

func (c *TestCoprocessor) IsConfigured() bool { return true }

func (c *TestCoprocessor) Seal(plaintext []byte, submitter sb.Principal) (sb.SealedChunk, error) {
	ct := append(append([]byte{}, testHeader...), plaintext...)
	return sb.SealedChunk{Ciphertext: ct, Proof: InputProof(ct, submitter)}, nil
}

func (c *TestCoprocessor) Ingest(sealed sb.SealedChunk, submitter sb.Principal) (sb.ChunkHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailIngest != nil {
		return "", c.FailIngest
	}
	if err := verifyProof(sealed, submitter); err != nil {
		return "", err
	}
	if !bytes.HasPrefix(sealed.Ciphertext, testHeader) {
		return "", fmt.Errorf("ingesting chunk: invalid test header")
	}

	h := chunkHandle(sealed.Ciphertext)
	if _, ok := c.blobs[h]; !ok {
		c.blobs[h] = bytes.Clone(sealed.Ciphertext)
	}
	return h, nil
}

func (c *TestCoprocessor) GrantDecrypt(h sb.ChunkHandle, p sb.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.FailGrantAfter > 0 && c.calls >= c.FailGrantAfter {
		if c.FailGrant != nil {
			return c.FailGrant
		}
		return fmt.Errorf("grant %d failed", c.calls)
	}
	if _, ok := c.blobs[h]; !ok {
		return fmt.Errorf("granting decrypt: unknown chunk %s", h)
	}
	if c.grants[h] == nil {
		c.grants[h] = make(map[sb.Principal]bool)
	}
	c.grants[h][p] = true
	return nil
}

// HasGrant reports whether p was granted decryption of h.
func (c *TestCoprocessor) HasGrant(h sb.ChunkHandle, p sb.Principal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grants[h][p]
}

// GrantCalls returns the number of GrantDecrypt calls made so far.
func (c *TestCoprocessor) GrantCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *TestCoprocessor) Unlock(passphrase string) (Revealer, error) {
	return testRevealer{c}, nil
}

type testRevealer struct{ c *TestCoprocessor }

func (r testRevealer) Reveal(h sb.ChunkHandle, p sb.Principal, w io.Writer) error {
	r.c.mu.Lock()
	ct, ok := r.c.blobs[h]
	granted := r.c.grants[h][p]
	r.c.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown chunk %s", h)
	}
	if !granted {
		return fmt.Errorf("%w: %s for %q", ErrNoDecryptRight, h, p)
	}
	_, err := w.Write(ct[len(testHeader):])
	return err
}

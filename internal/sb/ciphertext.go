package sb

import (
	"fmt"
	"slices"
)

// ChunkHandle is an opaque internal handle to one encrypted chunk, issued by
// the Coprocessor. The store never interprets it.
type ChunkHandle string

// SealedChunk is one unit of external ciphertext as received from a client,
// together with the input proof the Coprocessor verifies on ingest.
type SealedChunk struct {
	Ciphertext []byte
	Proof      []byte
}

// Ciphertext is the bounded, ordered chunk sequence of one payload.
// Only the count of chunks is ever inspected.
type Ciphertext struct {
	chunks []ChunkHandle
}

// NewCiphertext validates the chunk count against limit and returns a container
// holding a private copy of chunks.
func NewCiphertext(chunks []ChunkHandle, limit int) (Ciphertext, error) {
	if err := checkChunkCount(len(chunks), limit); err != nil {
		return Ciphertext{}, err
	}
	return Ciphertext{chunks: slices.Clone(chunks)}, nil
}

// RestoreCiphertext rebuilds a container from storage without validation.
// Deleted records restore to an empty container.
func RestoreCiphertext(chunks []ChunkHandle) Ciphertext {
	if len(chunks) == 0 {
		return Ciphertext{}
	}
	return Ciphertext{chunks: slices.Clone(chunks)}
}

// Replace installs a new chunk sequence and returns new.Len() - old.Len().
// On error the container is unchanged.
func (c *Ciphertext) Replace(chunks []ChunkHandle, limit int) (int, error) {
	if err := checkChunkCount(len(chunks), limit); err != nil {
		return 0, err
	}
	delta := len(chunks) - len(c.chunks)
	c.chunks = slices.Clone(chunks)
	return delta, nil
}

// Clear empties the container and returns how many chunks it held.
func (c *Ciphertext) Clear() int {
	n := len(c.chunks)
	c.chunks = nil
	return n
}

// Len returns the chunk count.
func (c Ciphertext) Len() int { return len(c.chunks) }

// Chunks returns a copy of the handles in order.
func (c Ciphertext) Chunks() []ChunkHandle { return slices.Clone(c.chunks) }

func checkChunkCount(n, limit int) error {
	if n == 0 || n > limit {
		return fmt.Errorf("%w: %d chunks, want 1..%d", ErrInvalidSize, n, limit)
	}
	return nil
}

package sb

// Coprocessor is the external confidential-computing collaborator.
// The store consumes exactly these two operations: it never decrypts and
// never looks inside a chunk.
type Coprocessor interface {
	// Ingest verifies the input proof binding sealed to submitter and
	// returns the internal handle of the stored chunk.
	Ingest(sealed SealedChunk, submitter Principal) (ChunkHandle, error)

	// GrantDecrypt lets p obtain decryption of chunk. Idempotent.
	GrantDecrypt(chunk ChunkHandle, p Principal) error
}

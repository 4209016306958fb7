package sb

import "io"

// Vault provides an interface for blob storage backends.
// All operations use io.Reader/io.Writer for streaming.
type Vault interface {
	// PutContent stores a blob under key.
	// The operation is idempotent: storing the same key multiple times is safe.
	// size is the number of bytes that will be read from r.
	PutContent(key string, r io.Reader, size int64) error

	// GetContent retrieves the blob stored under key and writes it to w.
	GetContent(key string, w io.Writer) error

	// HasContent reports whether a blob is stored under key.
	HasContent(key string) (bool, error)

	// PutMetadata stores a named metadata item for a specific store.
	// size is the number of bytes that will be read from r.
	// version is stored alongside the metadata for consistency checks.
	// Known names: "db" (database snapshot).
	PutMetadata(storeID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named metadata item for a specific store and writes it to w.
	GetMetadata(storeID string, name string, w io.Writer) error

	// GetMetadataVersion returns the metadata version for a named item.
	// Returns 0 if no metadata has been stored for this store/name.
	GetMetadataVersion(storeID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}

package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"sealbox/internal/sb"
)

// MemoryVault keeps blobs and metadata in memory. It is safe for concurrent
// use and is what tests and the "memory" vault type run against.
type MemoryVault struct {
	name     string
	mu       sync.RWMutex
	content  map[string][]byte
	metadata map[string]versioned
}

type versioned struct {
	data    []byte
	version int64
}

var _ sb.Vault = (*MemoryVault)(nil)

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		content:  make(map[string][]byte),
		metadata: make(map[string]versioned),
	}
}

func metadataKey(storeID, name string) string {
	return storeID + "/" + name
}

func readSized(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

func (m *MemoryVault) PutContent(key string, r io.Reader, size int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[key] = data
	return nil
}

func (m *MemoryVault) GetContent(key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[key]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("content not found: %s", key)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

func (m *MemoryVault) HasContent(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[key]
	return ok, nil
}

func (m *MemoryVault) PutMetadata(storeID, name string, r io.Reader, size int64, version int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[metadataKey(storeID, name)] = versioned{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetMetadata(storeID, name string, w io.Writer) error {
	m.mu.RLock()
	md, ok := m.metadata[metadataKey(storeID, name)]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("metadata %q not found for store %s", name, storeID)
	}
	if _, err := io.Copy(w, bytes.NewReader(md.data)); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

func (m *MemoryVault) GetMetadataVersion(storeID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[metadataKey(storeID, name)].version, nil
}

// ValidateSetup always succeeds.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

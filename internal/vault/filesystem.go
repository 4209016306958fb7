package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sealbox/internal/sb"
)

// FileSystemVault stores blobs and metadata as files:
//
//	<root>/
//	  content/
//	    <key>                  (sealed chunks and decrypt-right markers)
//	  metadata/
//	    <storeID>/
//	      <name>               (e.g. "db", the database snapshot)
//	      <name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

var _ sb.Vault = (*FileSystemVault)(nil)

// NewFileSystemVault creates a new filesystem vault rooted at root,
// creating the directory layout if needed.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	v := &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  filepath.Join(root, "content"),
		metadataDir: filepath.Join(root, "metadata"),
	}
	for _, dir := range []string{v.contentDir, v.metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating vault directory: %w", err)
		}
	}
	return v, nil
}

// checkName rejects keys that would escape their directory.
func checkName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid vault key %q", s)
	}
	return nil
}

// PutContent is a no-op (after draining r) when key is already present.
func (v *FileSystemVault) PutContent(key string, r io.Reader, size int64) error {
	if err := checkName(key); err != nil {
		return err
	}
	dest := filepath.Join(v.contentDir, key)

	if _, err := os.Stat(dest); err == nil {
		n, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading content: %w", err)
		}
		if n != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
		}
		return nil
	}
	return writeFileAtomic(dest, r, size)
}

func (v *FileSystemVault) GetContent(key string, w io.Writer) error {
	if err := checkName(key); err != nil {
		return err
	}
	return readFile(filepath.Join(v.contentDir, key), w, fmt.Sprintf("content not found: %s", key))
}

func (v *FileSystemVault) HasContent(key string) (bool, error) {
	if err := checkName(key); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(v.contentDir, key))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("checking content %s: %w", key, err)
	}
}

func (v *FileSystemVault) metadataPath(storeID, name string) (string, error) {
	if err := checkName(storeID); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(v.metadataDir, storeID, name), nil
}

// PutMetadata writes the item and then its version marker.
func (v *FileSystemVault) PutMetadata(storeID, name string, r io.Reader, size int64, version int64) error {
	dest, err := v.metadataPath(storeID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	if err := writeFileAtomic(dest, r, size); err != nil {
		return err
	}

	ver := strconv.FormatInt(version, 10)
	return writeFileAtomic(dest+".version", strings.NewReader(ver), int64(len(ver)))
}

func (v *FileSystemVault) GetMetadata(storeID, name string, w io.Writer) error {
	src, err := v.metadataPath(storeID, name)
	if err != nil {
		return err
	}
	return readFile(src, w, fmt.Sprintf("metadata %q not found for store %s", name, storeID))
}

// GetMetadataVersion returns 0 if no version marker exists.
func (v *FileSystemVault) GetMetadataVersion(storeID, name string) (int64, error) {
	p, err := v.metadataPath(storeID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(p + ".version")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault directories exist.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFileAtomic writes r to a temp file next to dest and renames it into place.
func writeFileAtomic(dest string, r io.Reader, size int64) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func readFile(src string, w io.Writer, notFound string) error {
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s", notFound)
		}
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return nil
}

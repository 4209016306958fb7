package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultChunkSize is the plaintext size, in bytes, of one sealed chunk.
const DefaultChunkSize = 4096

// Config represents the main configuration for sealbox.
type Config struct {
	StoreID     string            `toml:"store_id"`
	Principal   string            `toml:"principal"` // default caller identity for CLI commands
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	ChunkSize   int               `toml:"chunk_size"`
	Vaults      []VaultConfig     `toml:"vaults"`
	Coprocessor CoprocessorConfig `toml:"coprocessor"`
	Database    DatabaseConfig    `toml:"database"`
	Limits      LimitsConfig      `toml:"limits"`
}

// CoprocessorConfig selects the confidential-computing collaborator.
type CoprocessorConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services; enables path-style addressing

	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the record database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
// Only "sqlite" persists between runs. "memory" and "arena" start empty in every
// process and are meant for tests; the CLI refuses them.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite"; "memory" and "arena" for tests only
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// Persistent reports whether the database outlives the process.
func (d DatabaseConfig) Persistent() bool {
	return d.Type == "sqlite"
}

// LimitsConfig overrides the record store bounds. Zero fields keep the defaults.
type LimitsConfig struct {
	MaxChunksPerRecord   int   `toml:"max_chunks_per_record,omitempty"`
	MaxTasksPerOwner     int64 `toml:"max_tasks_per_owner,omitempty"`
	MaxBoxesPerOwner     int64 `toml:"max_boxes_per_owner,omitempty"`
	MaxSubmissionsPerBox int64 `toml:"max_submissions_per_box,omitempty"`
	MaxTitleLength       int   `toml:"max_title_length,omitempty"`
	MaxTags              int   `toml:"max_tags,omitempty"`
}

// NewConfig creates a new Config with the provided values and default key paths.
func NewConfig(storeID, baseDir string) *Config {
	return &Config{
		StoreID:   storeID,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		ChunkSize: DefaultChunkSize,
		Coprocessor: CoprocessorConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "sealbox.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "sealbox.key"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile writes a Config to path, replacing any existing file.
func WriteToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

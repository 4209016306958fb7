package coprocessor

import (
	"fmt"

	"sealbox/internal/config"
	"sealbox/internal/sb"
)

// NewCoprocessorFromConfig creates a Confidential coprocessor based on the
// configuration type. The vault holds sealed chunks and decrypt rights.
func NewCoprocessorFromConfig(cfg config.CoprocessorConfig, vault sb.Vault) (Confidential, error) {
	switch cfg.Type {
	case "age", "":
		if vault == nil {
			return nil, fmt.Errorf("age coprocessor requires a vault")
		}
		return NewAgeCoprocessor(cfg, vault), nil
	case "test":
		return NewTestCoprocessor(), nil
	default:
		return nil, fmt.Errorf("unknown coprocessor type: %q", cfg.Type)
	}
}

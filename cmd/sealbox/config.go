package main

import (
	"fmt"
	"path/filepath"

	"sealbox/internal/app"
	"sealbox/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		principal, _ := cmd.Flags().GetString("principal")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		storeID := uuid.New().String()

		cfg := config.NewConfig(storeID, defaults["base_dir"])
		cfg.Principal = principal
		cfg.Vaults = []config.VaultConfig{{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(defaults["base_dir"], "vault"),
		}}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Store ID: %s\n", storeID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		if principal == "" {
			fmt.Println("No principal set: pass --as or set SEALBOX_PRINCIPAL when running commands.")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Store ID:    %s\n", cfg.StoreID)
		fmt.Printf("Principal:   %s\n", cfg.Principal)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Chunk Size:  %d\n", cfg.ChunkSize)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Coprocessor: %s\n", cfg.Coprocessor.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("principal", "", "Default principal for commands")
	configCmd.AddCommand(configListCmd)
}

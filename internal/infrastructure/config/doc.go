// Package config handles loading and validating Divert Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DIVERT_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (JWT secret, vault key, n8n API key) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - security.vault.auto_generate is for development only
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Catalog.TeamsDir)
package config

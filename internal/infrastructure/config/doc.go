// Package config handles loading and validating the VRM cloud bridge configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Loading a dotenv file (.env) into the process environment
//   - Overriding with VRM_* environment variables
//   - Validation of required fields (go-playground/validator struct tags)
//   - Default value handling
//
// Security Considerations:
//   - The VRM password and MQTT password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Never log the loaded Config value as a whole
//
// Usage:
//
//	cfg, err := config.Load("config.yaml", ".env", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.VRM.SiteID)
package config

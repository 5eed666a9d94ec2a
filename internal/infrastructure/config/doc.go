// Package config handles loading and validating doorbell-sync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DOORBELLSYNC_* environment variables
//   - Validation of required fields and poll-loop bounds
//   - Default value handling
//
// Security Considerations:
//   - Broker and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Poll.Interval)
package config

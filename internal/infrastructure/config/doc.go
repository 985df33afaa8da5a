// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Built-in defaults matching a factory-fresh device
//   - Loading configuration from an optional YAML file
//   - Loading an optional dotenv file
//   - Overriding with UCENTRAL_* environment variables
//   - Final overrides from command-line flags
//   - Validation of required fields
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should be set via environment
//     variables or a dotenv file with restricted permissions (0600)
//   - mqtt.tls.self_signed disables broker certificate verification
//
// Usage:
//
//	cfg, err := config.Load("/etc/usync/mqtt.yaml", "", func(c *config.Config) {
//	    c.Device.Serial = serialFlag
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

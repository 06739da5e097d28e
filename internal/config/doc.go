// Package config loads the configuration of the bgwork command from a JSON
// or YAML file and BGWORK_* environment variables.
//
// Example:
//
//	cfg, err := config.Load("/etc/bgwork.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.FromEnv(&cfg); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

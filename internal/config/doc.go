// Package config assembles server configuration from compiled defaults, an
// optional YAML file and SUSPENSE_* environment variables, in that order
// of precedence. CLI flags are applied by the caller after Load.
package config

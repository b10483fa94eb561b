// Package config defines the application configuration structure and
// loads it from environment variables (DISPATCH_ prefix) and an
// optional YAML config file, with environment taking precedence.
package config

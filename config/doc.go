// Package config loads worker process settings from FFBRIDGE_* environment
// variables. Command-line flags in cmd/ffworker override them.
package config

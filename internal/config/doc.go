// Package config provides configuration loading and validation for the avatar agent worker.
// It reads a YAML file on top of built-in defaults, overlays secrets from the environment
// and validates every section before the worker starts.
package config

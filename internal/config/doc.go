// ABOUTME: Package config loads and validates notegate configuration
// ABOUTME: YAML files with ${VAR} environment variable expansion
//
// Package config assembles the process configuration once at startup.
// Components never read environment variables ad hoc; everything they
// need is injected from the Config struct built here.
package config

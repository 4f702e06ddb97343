// Package config loads the messaging stack configuration from environment
// variables, with optional .env support for local development.
package config

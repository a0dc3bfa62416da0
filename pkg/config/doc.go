// Package config loads daemon configuration from INKWELL_* environment
// variables with typed getters, sane defaults, and validation.
package config

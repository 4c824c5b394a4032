// Package config loads node configuration from JOBS_* environment variables
// and builds the logger, database and optional Redis client from it.
package config

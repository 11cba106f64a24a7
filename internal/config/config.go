// Package config loads process configuration from the environment,
// optionally preloaded from a .env file. This is the one ambient
// concern the teacher repo declares a dependency for (joho/godotenv)
// but never calls; every strim binary actually wires it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads a .env file relative to the working directory, if one
// exists. A missing file is not an error — only unset env vars with no
// default are fatal, and that is reported by the caller at the
// specific var that was missing.
func Load() {
	_ = godotenv.Load()
}

// RequireString returns the value of key, or calls fail with a
// descriptive message if it is unset or empty.
func RequireString(key string, fail func(string)) string {
	v := os.Getenv(key)
	if v == "" {
		fail(fmt.Sprintf("missing required environment variable %s", key))
	}
	return v
}

// OptionalString returns the value of key, or def if unset.
func OptionalString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// OptionalInt returns the integer value of key, or def if unset or
// unparsable.
func OptionalInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// OptionalBool treats "YES" as true and anything else (including
// unset) as false, matching the teacher's REDIS_USE/LOG_DEBUG style
// env flags.
func OptionalBool(key string) bool {
	return os.Getenv(key) == "YES"
}

// OptionalDuration parses key with time.ParseDuration, returning def
// when unset or malformed. Used for deleteOldSegmentsAfter-style knobs
// that accept values like "72h".
func OptionalDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

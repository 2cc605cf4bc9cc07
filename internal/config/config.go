// Package config loads the immutable run settings: environment variables
// (optionally seeded from a .env file) plus a JSON mapping file for name
// overrides and required fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"tablesync/internal/ident"
)

// Settings is everything a run needs, resolved once at startup and
// read-only afterwards.
type Settings struct {
	// Source API.
	SourceBaseURL string // default https://api.airtable.com/v0
	BaseID        string
	Token         string
	ModifiedField string // source field holding the record's modified time

	// Destination.
	StorageKind string // "postgres" or "sqlite"
	DSN         string

	// Run shape.
	BatchSize int
	Workers   int
	MinDelay  time.Duration // pacing between source requests
	ForceFull bool

	// MappingPath points at the JSON mapping file; empty means none.
	MappingPath string

	// Metrics.
	DatadogEnabled bool
	DatadogTags    string
}

// Load reads .env (if present) and resolves Settings from the process
// environment.
func Load() (Settings, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv resolves Settings from a lookup function. Split out so tests
// drive it without touching the process environment.
func FromEnv(get func(string) string) (Settings, error) {
	s := Settings{
		SourceBaseURL: withDefault(get("TABLESYNC_SOURCE_URL"), "https://api.airtable.com/v0"),
		BaseID:        get("TABLESYNC_BASE_ID"),
		Token:         get("TABLESYNC_TOKEN"),
		ModifiedField: get("TABLESYNC_MODIFIED_FIELD"),
		StorageKind:   withDefault(get("TABLESYNC_STORAGE"), "postgres"),
		DSN:           get("TABLESYNC_DSN"),
		MappingPath:   get("TABLESYNC_MAPPING_FILE"),
		DatadogTags:   get("TABLESYNC_DD_TAGS"),
	}

	var err error
	if s.BatchSize, err = intOr(get("TABLESYNC_BATCH_SIZE"), 100); err != nil {
		return s, fmt.Errorf("TABLESYNC_BATCH_SIZE: %w", err)
	}
	if s.Workers, err = intOr(get("TABLESYNC_WORKERS"), 4); err != nil {
		return s, fmt.Errorf("TABLESYNC_WORKERS: %w", err)
	}
	if s.MinDelay, err = durationOr(get("TABLESYNC_MIN_DELAY"), 500*time.Millisecond); err != nil {
		return s, fmt.Errorf("TABLESYNC_MIN_DELAY: %w", err)
	}
	s.ForceFull = boolOr(get("TABLESYNC_FORCE_FULL"), false)
	s.DatadogEnabled = boolOr(get("TABLESYNC_DD_ENABLED"), false)

	if s.BaseID == "" {
		return s, fmt.Errorf("TABLESYNC_BASE_ID is required")
	}
	if s.Token == "" {
		return s, fmt.Errorf("TABLESYNC_TOKEN is required")
	}
	if s.DSN == "" {
		return s, fmt.Errorf("TABLESYNC_DSN is required")
	}
	if s.StorageKind != "postgres" && s.StorageKind != "sqlite" {
		return s, fmt.Errorf("TABLESYNC_STORAGE: unknown kind %q", s.StorageKind)
	}
	if s.BatchSize <= 0 {
		return s, fmt.Errorf("TABLESYNC_BATCH_SIZE must be positive")
	}
	if s.Workers <= 0 {
		return s, fmt.Errorf("TABLESYNC_WORKERS must be positive")
	}
	return s, nil
}

// Mapping is the operator-maintained mapping file: canonical-name pins
// and fields whose coercion failure rejects the whole row.
type Mapping struct {
	Overrides      []ident.Override    `json:"overrides"`
	RequiredFields map[string][]string `json:"required_fields"`
}

// LoadMapping parses the mapping file. An empty path yields an empty
// mapping; a missing or malformed file is an error, never silently
// ignored.
func LoadMapping(path string) (Mapping, error) {
	var m Mapping
	if path == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read mapping file: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	return m, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func durationOr(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

func boolOr(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

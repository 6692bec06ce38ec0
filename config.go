package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the full TOML-driven pipeline configuration.
type Config struct {
	Schema         string           `toml:"schema"`
	DataDir        string           `toml:"data_dir"`
	KeepWorkingDir bool             `toml:"keep_working_dir"`
	Postgres       PostgresConfig   `toml:"postgres"`
	Converter      ConverterConfig  `toml:"converter"`
	Archive        ArchiveConfig    `toml:"archive"`
	Attributes     AttributesConfig `toml:"attributes"`
	Hooks          HooksConfig      `toml:"hooks"`
	Ledger         LedgerConfig     `toml:"ledger"`

	configDir string // directory of the config file, for resolving relative paths
}

// PostgresConfig identifies the target database.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname"`
	SSLMode  string `toml:"sslmode"`
}

// ConverterConfig locates the external spatial converter binary.
type ConverterConfig struct {
	Path           string `toml:"path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ArchiveConfig holds the entry-name prefixes of a dataset release. They
// change between vendor editions, so they live in config rather than code.
type ArchiveConfig struct {
	CSVPrefix    string `toml:"csv_prefix"`
	StreetPrefix string `toml:"street_prefix"`
}

// AttributesConfig tunes the attribute consolidation.
type AttributesConfig struct {
	ExcludeColumns []string `toml:"exclude_columns"`
}

// HooksConfig lists SQL files executed around the built-in stages.
type HooksConfig struct {
	AfterLoad  []string `toml:"after_load"`
	AfterIndex []string `toml:"after_index"`
}

// LedgerConfig controls the local run ledger.
type LedgerConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// defaultExcludeColumns are the attribute columns never carried into the
// final table: the join key (already present from the geometry side) and the
// national-grid coordinates the polygons supersede.
func defaultExcludeColumns() []string {
	return []string{
		"postcode",
		"eastings",
		"northings",
		"delivery_points_used_to_create_the_cplc",
	}
}

// loadConfig reads a TOML config file and returns a validated Config with
// defaults applied.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{
		Postgres: PostgresConfig{
			Host: "localhost",
			Port: 5432,
		},
		Converter: ConverterConfig{
			Path:           "ogr2ogr",
			TimeoutSeconds: 1800,
		},
		Archive: ArchiveConfig{
			CSVPrefix:    "Code-Point/Data/CSV",
			StreetPrefix: "Polygons/Data/VERTICAL_STREETS",
		},
		Attributes: AttributesConfig{
			ExcludeColumns: defaultExcludeColumns(),
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "runs.db",
		},
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	cfg.Schema = strings.TrimSpace(cfg.Schema)
	if cfg.Schema == "" {
		return nil, fmt.Errorf("schema is required")
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required")
	}
	cfg.DataDir = cfg.resolvePath(cfg.DataDir)
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data_dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data_dir %s is not a directory", cfg.DataDir)
	}

	if cfg.Postgres.User == "" {
		return nil, fmt.Errorf("postgres.user is required")
	}
	if cfg.Postgres.DBName == "" {
		return nil, fmt.Errorf("postgres.dbname is required")
	}
	if cfg.Postgres.Port < 1 || cfg.Postgres.Port > 65535 {
		return nil, fmt.Errorf("postgres.port must be in 1..65535")
	}
	switch cfg.Postgres.SSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("postgres.sslmode must be one of: disable, allow, prefer, require, verify-ca, verify-full")
	}

	if strings.TrimSpace(cfg.Converter.Path) == "" {
		return nil, fmt.Errorf("converter.path is required")
	}
	if cfg.Converter.TimeoutSeconds < 1 {
		return nil, fmt.Errorf("converter.timeout_seconds must be positive")
	}

	cfg.Archive.CSVPrefix = normalizePrefix(cfg.Archive.CSVPrefix)
	cfg.Archive.StreetPrefix = normalizePrefix(cfg.Archive.StreetPrefix)
	if cfg.Archive.CSVPrefix == "" {
		return nil, fmt.Errorf("archive.csv_prefix is required")
	}
	if cfg.Archive.StreetPrefix == "" {
		return nil, fmt.Errorf("archive.street_prefix is required")
	}

	for i, c := range cfg.Attributes.ExcludeColumns {
		cfg.Attributes.ExcludeColumns[i] = strings.ToLower(strings.TrimSpace(c))
	}

	if cfg.Ledger.Enabled {
		if strings.TrimSpace(cfg.Ledger.Path) == "" {
			return nil, fmt.Errorf("ledger.path is required when the ledger is enabled")
		}
		if !filepath.IsAbs(cfg.Ledger.Path) {
			cfg.Ledger.Path = filepath.Join(cfg.DataDir, cfg.Ledger.Path)
		}
	}

	return &cfg, nil
}

// normalizePrefix strips whitespace and surrounding slashes so prefixes
// compare against zip entry names as-is.
func normalizePrefix(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

// resolvePath resolves a possibly-relative path against the config file's
// directory.
func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

// dsn builds the pgx connection URL from the [postgres] fields.
func (c *Config) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:   "/" + c.Postgres.DBName,
	}
	if c.Postgres.Password != "" {
		u.User = url.UserPassword(c.Postgres.User, c.Postgres.Password)
	} else {
		u.User = url.User(c.Postgres.User)
	}
	if c.Postgres.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.Postgres.SSLMode}}.Encode()
	}
	return u.String()
}

// ogrConnString builds the PG: datasource string handed to the converter.
// active_schema steers the converter's staging tables into the configured
// schema; for public it is omitted, matching the converter's default.
func (c *Config) ogrConnString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PG:host='%s' port='%d' dbname='%s' user='%s'",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.DBName, c.Postgres.User)
	if c.Postgres.Password != "" {
		fmt.Fprintf(&b, " password='%s'", c.Postgres.Password)
	}
	if c.Postgres.SSLMode != "" {
		fmt.Fprintf(&b, " sslmode='%s'", c.Postgres.SSLMode)
	}
	if c.Schema != "public" {
		fmt.Fprintf(&b, " active_schema='%s'", c.Schema)
	}
	return b.String()
}

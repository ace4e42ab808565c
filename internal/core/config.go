package core

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config describes a database connection, loadable from YAML:
//
//	driver: sqlite
//	dsn: "file:app.db?_pragma=foreign_keys(1)"
//	max_open_conns: 4
//	stmt_cache_capacity: 500
//	log_statements: true
//	sensitive_fields: [password, token]
type Config struct {
	Driver            string   `yaml:"driver"`
	DSN               string   `yaml:"dsn"`
	MaxOpenConns      int      `yaml:"max_open_conns"`
	MaxIdleConns      int      `yaml:"max_idle_conns"`
	StmtCacheCapacity *int     `yaml:"stmt_cache_capacity"`
	LogStatements     bool     `yaml:"log_statements"`
	SensitiveFields   []string `yaml:"sensitive_fields"`
	Validate          bool     `yaml:"validate"`
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Driver == "" {
		return nil, fmt.Errorf("parse config: driver is required")
	}
	return &cfg, nil
}

// LoadConfig reads and decodes a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(data)
}

// Options converts the configuration into DB options.
func (c *Config) Options() []Option {
	var opts []Option
	if c.MaxOpenConns > 0 {
		opts = append(opts, WithMaxOpenConns(c.MaxOpenConns))
	}
	if c.MaxIdleConns > 0 {
		opts = append(opts, WithMaxIdleConns(c.MaxIdleConns))
	}
	if c.StmtCacheCapacity != nil {
		opts = append(opts, WithStmtCacheCapacity(*c.StmtCacheCapacity))
	}
	if c.LogStatements {
		opts = append(opts, WithLogger(slog.Default()))
	}
	if len(c.SensitiveFields) > 0 {
		opts = append(opts, WithSensitiveFields(c.SensitiveFields))
	}
	if c.Validate {
		opts = append(opts, WithValidation())
	}
	return opts
}

// OpenConfig opens the database cfg describes. Extra options apply after
// the configured ones.
func OpenConfig(cfg *Config, extra ...Option) (*DB, error) {
	return Open(cfg.Driver, cfg.DSN, append(cfg.Options(), extra...)...)
}

// normalizeMySQLDSN enables parseTime so DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Package config loads engine settings from defaults, a YAML file, VELA_
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/syssam/vela/dialect"
)

// EnvPrefix prefixes the environment variables read by Load. Nested keys
// are separated by a double underscore, as in VELA_MYSQL__USER.
const EnvPrefix = "VELA_"

// FileName is the config file looked up in the working directory when no
// file is given.
const FileName = "vela.yaml"

// Defaults.
const (
	DefaultDialect            = dialect.SQLite
	DefaultDSN                = "file:vela.db?_pragma=foreign_keys(1)"
	DefaultStatementCacheSize = 1000
	DefaultBatchSize          = 200
	DefaultSlowQuery          = 200 * time.Millisecond
	DefaultLogLevel           = "info"
)

// Config holds engine settings.
type Config struct {
	Dialect string `koanf:"dialect"`
	// DSN is the data source name. For mysql it is built from MySQL when
	// empty.
	DSN   string      `koanf:"dsn"`
	MySQL MySQLConfig `koanf:"mysql"`

	StatementCacheSize  int           `koanf:"statement_cache_size"`
	BatchSize           int           `koanf:"batch_size"`
	SlowQueryThreshold  time.Duration `koanf:"slow_query_threshold"`
	MaxTrackedRecords   int           `koanf:"max_tracked_records"`
	RandomizeProcessors bool          `koanf:"randomize_processors"`
	LogLevel            string        `koanf:"log_level"`
	Debug               bool          `koanf:"debug"`
}

// MySQLConfig holds the parts of a MySQL DSN.
type MySQLConfig struct {
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Addr     string `koanf:"addr"`
	DB       string `koanf:"db"`
}

func defaults() map[string]any {
	return map[string]any{
		"dialect":              DefaultDialect,
		"dsn":                  "",
		"statement_cache_size": DefaultStatementCacheSize,
		"batch_size":           DefaultBatchSize,
		"slow_query_threshold": DefaultSlowQuery.String(),
		"max_tracked_records":  0,
		"randomize_processors": false,
		"log_level":            DefaultLogLevel,
		"debug":                false,
		"mysql.addr":           "127.0.0.1:3306",
	}
}

// Load reads the config. An empty path falls back to FileName when it
// exists. Only flags that were set on the command line override other
// sources; flag names map to keys by replacing dashes with underscores.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	if path == "" {
		if _, err := os.Stat(FileName); err == nil {
			path = FileName
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finish validates the config and fills derived values.
func (c *Config) finish() error {
	c.Dialect = strings.ToLower(c.Dialect)
	if _, err := dialect.Get(c.Dialect); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.DSN == "" {
		switch c.Dialect {
		case dialect.MySQL:
			c.DSN = c.MySQL.DSN()
		case dialect.SQLite:
			c.DSN = DefaultDSN
		default:
			return errors.New("config: dsn is required for " + c.Dialect)
		}
	}
	var errs []error
	if c.StatementCacheSize < 0 {
		errs = append(errs, errors.New("statement_cache_size must not be negative"))
	}
	if c.MaxTrackedRecords < 0 {
		errs = append(errs, errors.New("max_tracked_records must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DSN formats the MySQL data source name. Time values are parsed into
// time.Time.
func (m MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = m.User
	cfg.Passwd = m.Password
	cfg.Net = "tcp"
	cfg.Addr = m.Addr
	cfg.DBName = m.DB
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// Logger builds a console logger at LogLevel writing to stderr.
func (c *Config) Logger() (*zap.Logger, error) {
	lvl, err := c.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = true
	return zc.Build()
}

// Package store opens the readonly statement database and loads its
// configuration.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kolusask/indra-db/errors"
)

// Config holds the connection settings of the readonly store.
type Config struct {
	// Path locates the SQLite database file.
	Path string `mapstructure:"path"`

	// ReadOnly opens the database in query-only mode. On by default:
	// this module never writes.
	ReadOnly bool `mapstructure:"read_only"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns bounds idle pooled connections.
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// BusyTimeoutMS is how long a connection waits on a locked
	// database before failing.
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms"`
}

// SetDefaults registers the default connection settings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "indra.db")
	v.SetDefault("database.read_only", true)
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.busy_timeout_ms", 5000)
}

// LoadConfig reads configuration from the environment and an optional
// TOML file. Environment variables use the INDRADB prefix with dots
// replaced by underscores, e.g. INDRADB_DATABASE_PATH.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDRADB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}
	return LoadConfigWithViper(v)
}

// LoadConfigWithViper extracts the store configuration from a prepared
// Viper instance.
func LoadConfigWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalKey("database", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal store config")
	}
	if p := os.Getenv("INDRADB_DB_PATH"); p != "" {
		cfg.Path = p
	}
	return &cfg, nil
}

// Open connects to the readonly store and applies the configured
// connection settings. If logger is nil the store operates silently.
func Open(cfg *Config, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening readonly store", "path", cfg.Path)
	}
	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	// DSN parameters apply to every pooled connection, unlike PRAGMA
	// statements run through the pool.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, busy)
	if cfg.ReadOnly {
		dsn += "&_query_only=true"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to reach database at %s", cfg.Path)
	}

	if logger != nil {
		logger.Infow("Readonly store opened",
			"path", cfg.Path,
			"read_only", cfg.ReadOnly,
			"max_open_conns", cfg.MaxOpenConns,
		)
	}
	return db, nil
}

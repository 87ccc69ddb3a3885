package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Error is a startup configuration failure. It is fatal before any
// sync work begins.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "config: " + e.Reason }

// TableSpec names one table to synchronize, with an optional per-table
// tracking column override.
type TableSpec struct {
	Name           string `mapstructure:"name"`
	TrackingColumn string `mapstructure:"tracking_column"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// Config is the full runtime configuration. It is loaded once at
// startup and never re-read during a run.
type Config struct {
	PrimaryURL     string        `mapstructure:"primary_url"`
	SecondaryURL   string        `mapstructure:"secondary_url"`
	Tables         []TableSpec   `mapstructure:"tables"`
	TrackingColumn string        `mapstructure:"tracking_column"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	Schedule       string        `mapstructure:"schedule"`
	Watch          bool          `mapstructure:"watch"`
	Log            LogConfig     `mapstructure:"log"`
}

// TrackingColumnFor resolves the tracking column for a table: per-table
// override first, then the global default.
func (c *Config) TrackingColumnFor(t TableSpec) string {
	if t.TrackingColumn != "" {
		return t.TrackingColumn
	}
	return c.TrackingColumn
}

// identPattern is the identifier shape accepted for table and column
// names. They are interpolated into SQL, so anything else is rejected.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads the configuration from an optional YAML file plus DBSYNC_*
// environment overrides. The PRIMARY_DB_URL / SECONDARY_DB_URL and
// DBSYNC_TABLES variables allow running with no file at all.
// Returned warnings (e.g. dropped duplicate tables) should be logged by
// the caller once the logger exists.
func Load(path string) (*Config, []string, error) {
	v := viper.New()
	v.SetEnvPrefix("DBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("primary_url", "")
	v.SetDefault("secondary_url", "")
	v.SetDefault("tracking_column", "updated_at")
	v.SetDefault("query_timeout", "30s")
	v.SetDefault("schedule", "")
	v.SetDefault("watch", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, &Error{Reason: fmt.Sprintf("read %s: %v", path, err)}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, &Error{Reason: fmt.Sprintf("parse: %v", err)}
	}

	// Env fallbacks kept compatible with the original deployment.
	if cfg.PrimaryURL == "" {
		cfg.PrimaryURL = os.Getenv("PRIMARY_DB_URL")
	}
	if cfg.SecondaryURL == "" {
		cfg.SecondaryURL = os.Getenv("SECONDARY_DB_URL")
	}
	if len(cfg.Tables) == 0 {
		for _, name := range strings.Split(os.Getenv("DBSYNC_TABLES"), ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Tables = append(cfg.Tables, TableSpec{Name: name})
			}
		}
	}

	warnings, err := cfg.validate()
	if err != nil {
		return nil, nil, err
	}
	return cfg, warnings, nil
}

// validate checks the loaded configuration and deduplicates the table
// list, returning a warning per dropped duplicate.
func (c *Config) validate() ([]string, error) {
	if c.PrimaryURL == "" {
		return nil, &Error{Reason: "primary_url is required"}
	}
	if c.SecondaryURL == "" {
		return nil, &Error{Reason: "secondary_url is required"}
	}
	if len(c.Tables) == 0 {
		return nil, &Error{Reason: "no tables configured"}
	}
	if c.QueryTimeout <= 0 {
		return nil, &Error{Reason: "query_timeout must be positive"}
	}
	if !identPattern.MatchString(c.TrackingColumn) {
		return nil, &Error{Reason: fmt.Sprintf("invalid tracking column %q", c.TrackingColumn)}
	}

	var warnings []string
	seen := make(map[string]bool, len(c.Tables))
	deduped := c.Tables[:0]
	for _, t := range c.Tables {
		if !identPattern.MatchString(t.Name) {
			return nil, &Error{Reason: fmt.Sprintf("invalid table name %q", t.Name)}
		}
		if t.TrackingColumn != "" && !identPattern.MatchString(t.TrackingColumn) {
			return nil, &Error{Reason: fmt.Sprintf("invalid tracking column %q for table %s", t.TrackingColumn, t.Name)}
		}
		if seen[t.Name] {
			warnings = append(warnings, fmt.Sprintf("duplicate table %q dropped", t.Name))
			continue
		}
		seen[t.Name] = true
		deduped = append(deduped, t)
	}
	c.Tables = deduped
	return warnings, nil
}

// Package config loads knolsched settings from defaults, an optional YAML
// file, KNOLSCHED_ environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
)

// EnvPrefix prefixes every environment variable. Nested keys are joined
// with a double underscore, e.g. KNOLSCHED_DATABASE__DSN.
const EnvPrefix = "KNOLSCHED_"

// Config holds the settings of the knolsched command.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	Reschedule RescheduleConfig `koanf:"reschedule"`

	// TimezoneOffset is the user's offset from UTC. Review days roll over
	// at local midnight.
	TimezoneOffset time.Duration `koanf:"timezone_offset" validate:"gte=-14h,lte=14h"`
	ReposDir       string        `koanf:"repos_dir" validate:"required"`

	// Defaults are the parameters given to newly created decks.
	Defaults domain.DeckParameters `koanf:"defaults"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type RescheduleConfig struct {
	Workers int `koanf:"workers" validate:"gte=1,lte=64"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// flagKeys maps command-line flag names to configuration keys. Flags that
// are not listed are not configuration.
var flagKeys = map[string]string{
	"db-driver":  "database.driver",
	"db":         "database.dsn",
	"log-level":  "log.level",
	"log-format": "log.format",
	"workers":    "reschedule.workers",
	"tz-offset":  "timezone_offset",
	"repos-dir":  "repos_dir",
}

func defaults() map[string]any {
	p := fsrs.DefaultParameters()
	return map[string]any{
		"database.driver":            "sqlite",
		"database.dsn":               "knolsched.db",
		"log.level":                  "info",
		"log.format":                 "text",
		"reschedule.workers":         4,
		"timezone_offset":            time.Duration(0),
		"repos_dir":                  "repos",
		"defaults.weights":           p.Weights,
		"defaults.request_retention": p.RequestRetention,
		"defaults.maximum_interval":  p.MaximumInterval,
		"defaults.enable_fuzz":       true,
		"defaults.learning_steps":    p.LearningSteps,
		"defaults.relearning_steps":  p.RelearningSteps,
		"defaults.limits.new":        p.Limits.New,
		"defaults.limits.review":     p.Limits.Review,
		"defaults.limits.learning":   p.Limits.Learning,
		"defaults.limits.suspended":  p.Limits.Suspended,
	}
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("db-driver", "sqlite", "Database driver: sqlite or postgres")
	fs.String("db", "knolsched.db", "SQLite database path or PostgreSQL connection string")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.Int("workers", 4, "Cards rescheduled concurrently")
	fs.Duration("tz-offset", 0, "Offset of the user's timezone from UTC, e.g. 2h or -5h")
	fs.String("repos-dir", "repos", "Directory git sources are cloned into")
}

// Load reads the configuration. path may be empty, in which case no file is
// read. flags may be nil; otherwise only flags set on the command line
// override the other layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns KNOLSCHED_LOG__LEVEL into log.level.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks the configuration, including the default deck parameters.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if _, err := fsrs.ValidateParameters(c.Defaults); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

// NewLogger builds the structured logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

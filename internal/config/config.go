// Package config resolves clpipe settings from defaults, an optional YAML
// file, CLPIPE_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "CLPIPE"

// Config is the resolved harness configuration.
type Config struct {
	Backend      string  `mapstructure:"backend"`
	Device       string  `mapstructure:"device"`
	Platform     int     `mapstructure:"platform"`
	Fallback     bool    `mapstructure:"fallback"`
	BuildOptions string  `mapstructure:"build-options"`
	Tolerance    float64 `mapstructure:"tolerance"`
	DataDir      string  `mapstructure:"data-dir"`
	NoRecord     bool    `mapstructure:"no-record"`
	LogLevel     string  `mapstructure:"log-level"`
	LogFormat    string  `mapstructure:"log-format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Backend:      "opencl",
		Device:       "gpu",
		Platform:     -1,
		BuildOptions: "-cl-kernel-arg-info",
		Tolerance:    1e-5,
		DataDir:      "./data",
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

var (
	validDevices = []string{"gpu", "cpu", "accelerator", "any"}
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "text"}
)

// Load resolves the configuration. cfgFile may be empty, in which case
// clpipe.yaml is looked up in the working directory and $HOME/.clpipe; a
// missing file is not an error. Flags that were set on the command line
// take precedence over everything else.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	cfg := Default()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("clpipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".clpipe"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for _, key := range v.AllKeys() {
			if f := flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "binding flag %s", key)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Device = strings.ToLower(strings.TrimSpace(cfg.Device))
	cfg.DataDir = expandPath(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	if !slices.Contains(validDevices, c.Device) {
		return errors.Errorf("device must be one of %v, got %q", validDevices, c.Device)
	}
	if c.Platform < -1 {
		return errors.Errorf("platform must be -1 (any) or an index, got %d", c.Platform)
	}
	if c.Tolerance <= 0 {
		return errors.Errorf("tolerance must be positive, got %g", c.Tolerance)
	}
	if !slices.Contains(validLevels, c.LogLevel) {
		return errors.Errorf("log-level must be one of %v, got %q", validLevels, c.LogLevel)
	}
	if !slices.Contains(validFormats, c.LogFormat) {
		return errors.Errorf("log-format must be one of %v, got %q", validFormats, c.LogFormat)
	}
	if c.DataDir == "" && !c.NoRecord {
		return errors.New("data-dir is required unless no-record is set")
	}
	return nil
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("device", cfg.Device)
	v.SetDefault("platform", cfg.Platform)
	v.SetDefault("fallback", cfg.Fallback)
	v.SetDefault("build-options", cfg.BuildOptions)
	v.SetDefault("tolerance", cfg.Tolerance)
	v.SetDefault("data-dir", cfg.DataDir)
	v.SetDefault("no-record", cfg.NoRecord)
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("log-format", cfg.LogFormat)
}

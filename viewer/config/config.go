package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	internal "github.com/ZanzyTHEbar/rview/viewer"
	"github.com/ZanzyTHEbar/rview/viewer/imaging"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Viewer   ViewerConfig   `mapstructure:"viewer"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// PrefetchConfig sizes the prefetch cache.
type PrefetchConfig struct {
	WindowSize  int `mapstructure:"windowSize" validate:"min=1,max=1024"`
	WorkerCount int `mapstructure:"workerCount" validate:"min=1,max=256"`
}

// ViewerConfig controls which files are browsed.
type ViewerConfig struct {
	Extensions []string `mapstructure:"extensions" validate:"required,min=1,dive,startswith=."`
	IgnoreFile string   `mapstructure:"ignoreFile"`
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// MetricsConfig stores the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

// DefaultExtensions are the formats the bundled decoder reads.
var DefaultExtensions = slices.Clone(imaging.Extensions)

// Flag names bound onto config keys by BindFlags.
var flagKeys = map[string]string{
	"window":       "prefetch.windowSize",
	"workers":      "prefetch.workerCount",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"metrics":      "metrics.enabled",
	"metrics-addr": "metrics.address",
}

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Loader reads configuration into a private viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with every default registered.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("prefetch.windowSize", 15)
	v.SetDefault("prefetch.workerCount", 8)
	v.SetDefault("viewer.extensions", DefaultExtensions)
	v.SetDefault("viewer.ignoreFile", internal.DefaultIgnoreFile)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")
}

// BindFlags binds the known flags of fs onto their config keys. Flags the
// set does not define are skipped.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads configuration from configPath, or from the search paths when
// configPath is empty, then applies RVIEW_* environment overrides and
// validates the result. A missing file in the search paths is not an error.
func (l *Loader) Load(configPath string) (*Config, error) {
	v := l.v
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file the last Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// LoadConfig reads configuration without flag bindings.
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader().Load(configPath)
}

// Validate checks the struct tags of cfg.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// normalize accepts extensions written without a dot or in upper case, and
// the space-separated form that environment variables produce.
func (c *Config) normalize() {
	var exts []string
	for _, raw := range c.Viewer.Extensions {
		for _, ext := range strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' }) {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
	}
	c.Viewer.Extensions = exts
	c.Logging.Level = strings.ToLower(c.Logging.Level)
}

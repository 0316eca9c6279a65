package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RULEFLOW_HTTP_ADDR.
const EnvPrefix = "RULEFLOW"

// Settings configures the ruleflow service process. Sources, highest
// priority first: RULEFLOW_* environment variables, the YAML file given
// with --config, then the defaults below. Tracing is configured through the
// standard OTEL_* variables.
type Settings struct {
	Log        LogSettings     `mapstructure:"log"`
	HTTP       HTTPSettings    `mapstructure:"http"`
	Catalog    CatalogSettings `mapstructure:"catalog"`
	ExecLog    DBSettings      `mapstructure:"execlog"`
	DataSource DBSettings      `mapstructure:"datasource"`
	Engine     EngineSettings  `mapstructure:"engine"`
	Secrets    SecretsSettings `mapstructure:"secrets"`
	Events     EventsSettings  `mapstructure:"events"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPSettings struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CatalogSettings struct {
	Path     string        `mapstructure:"path"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// DBSettings names a database/sql driver ("postgres" or "sqlite") and DSN.
// An empty driver disables the component.
type DBSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

func (d DBSettings) Enabled() bool { return d.Driver != "" }

type EngineSettings struct {
	WorkerPoolSize     int           `mapstructure:"worker_pool_size"`
	StepTimeout        time.Duration `mapstructure:"step_timeout"`
	DefaultRuleTimeout time.Duration `mapstructure:"default_rule_timeout"`
	DependencyMode     string        `mapstructure:"dependency_mode"`
	RedactedKeywords   []string      `mapstructure:"redacted_keywords"`
}

type SecretsSettings struct {
	EnvPrefix string `mapstructure:"env_prefix"`
}

type EventsSettings struct {
	BufferSize int `mapstructure:"buffer_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("catalog.watch", false)
	v.SetDefault("catalog.debounce", 250*time.Millisecond)
	v.SetDefault("execlog.driver", "")
	v.SetDefault("execlog.dsn", "")
	v.SetDefault("datasource.driver", "")
	v.SetDefault("datasource.dsn", "")
	v.SetDefault("engine.worker_pool_size", 0)
	v.SetDefault("engine.step_timeout", DefaultStepTimeout)
	v.SetDefault("engine.default_rule_timeout", 30*time.Second)
	v.SetDefault("engine.dependency_mode", "lenient")
	v.SetDefault("engine.redacted_keywords", []string{"password", "token", "secret", "apikey"})
	v.SetDefault("secrets.env_prefix", "")
	v.SetDefault("events.buffer_size", 1024)
}

// LoadSettings reads configFile (optional) and the environment.
func LoadSettings(configFile string) (*Settings, error) {
	return loadSettings(viper.New(), configFile)
}

func loadSettings(v *viper.Viper, configFile string) (*Settings, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file '%s': %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the service cannot start with.
func (s *Settings) Validate() error {
	var errs []error
	for name, db := range map[string]DBSettings{"execlog": s.ExecLog, "datasource": s.DataSource} {
		if db.Enabled() && db.Driver != "postgres" && db.Driver != "sqlite" {
			errs = append(errs, fmt.Errorf("%s.driver must be 'postgres' or 'sqlite', got '%s'", name, db.Driver))
		}
		if db.Enabled() && db.DSN == "" {
			errs = append(errs, fmt.Errorf("%s.dsn is required when a driver is set", name))
		}
	}
	if s.Engine.StepTimeout <= 0 {
		errs = append(errs, errors.New("engine.step_timeout must be positive"))
	}
	if s.Engine.DefaultRuleTimeout < 0 {
		errs = append(errs, errors.New("engine.default_rule_timeout cannot be negative"))
	}
	switch s.Engine.DependencyMode {
	case "", "lenient", "strict":
	default:
		errs = append(errs, fmt.Errorf("engine.dependency_mode must be 'lenient' or 'strict', got '%s'", s.Engine.DependencyMode))
	}
	return errors.Join(errs...)
}

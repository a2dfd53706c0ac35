// Package config loads schedsim's external configuration surface via
// viper/YAML, the same layering the teacher's internal/config package uses
// (file, environment, flag), trimmed to what this scheduler needs.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/khryptorgraphics/smpsched/pkg/sched"
)

// SchedulerConfig mirrors sched.Config's YAML surface.
type SchedulerConfig struct {
	HZ                        int `yaml:"hz" mapstructure:"hz"`
	RTPrioMax                 int `yaml:"rt_prio_max" mapstructure:"rt_prio_max"`
	TSPrioMax                 int `yaml:"ts_prio_max" mapstructure:"ts_prio_max"`
	MaxMigrations             int `yaml:"max_migrations" mapstructure:"max_migrations"`
	IdleBalanceTicksHZDivisor int `yaml:"idle_balance_ticks_hz_divisor" mapstructure:"idle_balance_ticks_hz_divisor"`
	MaxThreads                int `yaml:"max_threads" mapstructure:"max_threads"`
}

// LoggingConfig configures obslog.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "console" or "json"
}

// MetricsConfig holds a listen address for metrics. schedsim run does not
// read it: /metrics is served only by the debug API's server.
type MetricsConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// DebugAPIConfig configures the gin debug/introspection server.
type DebugAPIConfig struct {
	Listen  string `yaml:"listen" mapstructure:"listen"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// Config is the complete configuration for a schedsim process.
type Config struct {
	CPUs      int             `yaml:"cpus" mapstructure:"cpus"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	DebugAPI  DebugAPIConfig  `yaml:"debug_api" mapstructure:"debug_api"`
}

func defaults() Config {
	d := sched.DefaultConfig()
	return Config{
		CPUs: d.CPUCount,
		Scheduler: SchedulerConfig{
			HZ:                        d.HZ,
			RTPrioMax:                 d.RTPrioMax,
			TSPrioMax:                 d.TSPrioMax,
			MaxMigrations:             d.MaxMigrations,
			IdleBalanceTicksHZDivisor: d.IdleBalanceTicksDivisor,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Listen: ":9090"},
		DebugAPI: DebugAPIConfig{
			Listen:  ":8090",
			Enabled: false,
		},
	}
}

// Load returns the built-in defaults, overlaid with the values in file when
// file is non-empty. A SCHEDSIM_<KEY> environment variable overrides a
// top-level key that file sets (for example SCHEDSIM_CPUS for cpus); nested
// keys have no environment mapping, and with no file the environment is not
// read at all. Grounded in the teacher's config.Load(configFile).
func Load(file string) (*Config, error) {
	v := viper.New()
	cfg := defaults()

	v.SetConfigType("yaml")
	v.SetEnvPrefix("schedsim")
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	return &cfg, nil
}

// ToSchedConfig converts the loaded configuration into pkg/sched's Config.
func (c *Config) ToSchedConfig() sched.Config {
	return sched.Config{
		HZ:                      c.Scheduler.HZ,
		CPUCount:                c.CPUs,
		RTPrioMax:               c.Scheduler.RTPrioMax,
		TSPrioMax:               c.Scheduler.TSPrioMax,
		MaxMigrations:           c.Scheduler.MaxMigrations,
		IdleBalanceTicksDivisor: c.Scheduler.IdleBalanceTicksHZDivisor,
		MaxThreads:              c.Scheduler.MaxThreads,
	}
}

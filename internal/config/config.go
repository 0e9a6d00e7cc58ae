// Package config loads the orchestrator configuration from boardroom.yaml
// and BOARDROOM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full orchestrator configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Agents    []AgentConfig   `mapstructure:"agents"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type NATSConfig struct {
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

type ConsensusConfig struct {
	MaxVetoRounds int `mapstructure:"max_veto_rounds"`
}

type SchedulerConfig struct {
	TimeoutSweepInterval time.Duration `mapstructure:"timeout_sweep_interval"`
	DueEventInterval     time.Duration `mapstructure:"due_event_interval"`
	UrgentDrainInterval  time.Duration `mapstructure:"urgent_drain_interval"`
	ScheduleInterval     time.Duration `mapstructure:"schedule_interval"`
	MaintenanceInterval  time.Duration `mapstructure:"maintenance_interval"`
}

type WorkflowsConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// AgentConfig declares one executive agent the orchestrator drives.
type AgentConfig struct {
	ID              string `mapstructure:"id"`
	Role            string `mapstructure:"role"`
	Tier            string `mapstructure:"tier"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// Load reads the configuration. path may name a specific file; empty path
// searches the working directory and /etc/boardroom for boardroom.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "boardroom")
	v.SetDefault("postgres.database", "boardroom")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "boardroom:")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "BOARDROOM")
	v.SetDefault("consensus.max_veto_rounds", 3)
	v.SetDefault("scheduler.timeout_sweep_interval", 30*time.Second)
	v.SetDefault("scheduler.due_event_interval", time.Minute)
	v.SetDefault("scheduler.urgent_drain_interval", 5*time.Second)
	v.SetDefault("scheduler.schedule_interval", time.Minute)
	v.SetDefault("scheduler.maintenance_interval", 10*time.Minute)
	v.SetDefault("workflows.dir", "workflows")
	v.SetDefault("workflows.watch", true)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("boardroom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/boardroom")
	}

	v.SetEnvPrefix("BOARDROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env cover it. A named
		// file that cannot be read is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the orchestrator cannot start with.
func (c *Config) Validate() error {
	if c.Consensus.MaxVetoRounds <= 0 {
		return fmt.Errorf("consensus.max_veto_rounds must be positive, got %d", c.Consensus.MaxVetoRounds)
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" || a.Role == "" {
			return fmt.Errorf("every agent needs an id and a role: %+v", a)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Tier != "" && a.Tier != "head" && a.Tier != "clevel" {
			return fmt.Errorf("agent %s: tier must be head or clevel, got %q", a.ID, a.Tier)
		}
	}
	return nil
}

// Package config loads and validates the placement planner's configuration:
// the cluster environment it plans against, per-planner solver knobs, and
// the ambient logging/metrics settings.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a plannerctl invocation.
type Config struct {
	Cluster ClusterConfig `yaml:"cluster"`
	Solver  SolverConfig  `yaml:"solver"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ClusterConfig describes the target cluster environment (profile.ClusterEnv).
type ClusterConfig struct {
	NumDevices        int     `yaml:"num_devices"`
	NumDevicesPerNode int     `yaml:"num_devices_per_node"`
	MemBudgetPerDevice float64 `yaml:"mem_budget_per_device"`
}

// SolverConfig groups the tunables for each of the three planners.
type SolverConfig struct {
	Backend string       `yaml:"backend"` // "ilp", "search", or "greedy"
	ILP     ILPConfig    `yaml:"ilp"`
	Search  SearchConfig `yaml:"search"`
	Greedy  GreedyConfig `yaml:"greedy"`
}

// ILPConfig configures the branch-and-bound MIP planner.
type ILPConfig struct {
	TimeLimit    time.Duration `yaml:"time_limit"`
	Threads      int           `yaml:"threads"`
	MaxBatchSize int           `yaml:"max_batch_size"`
}

// SearchConfig configures the enumerative search planner.
type SearchConfig struct {
	MaxOP           int  `yaml:"max_op"`
	MaxPP           int  `yaml:"max_pp"`
	MaxBatchSize    int  `yaml:"max_batch_size"`
	UseBeamGrowth   bool `yaml:"use_beam_growth"`
	BeamWidth       int  `yaml:"beam_width"`
	Evolve          bool `yaml:"evolve"`
	EvolvePopSize   int  `yaml:"evolve_population_size"`
	EvolveGenerations int `yaml:"evolve_generations"`
}

// GreedyConfig configures the uniform-greedy planner.
type GreedyConfig struct {
	GroupSize         int  `yaml:"group_size"`
	Evolve            bool `yaml:"evolve"`
	EvolvePopSize     int  `yaml:"evolve_population_size"`
	EvolveGenerations int  `yaml:"evolve_generations"`
}

// LoggingConfig holds logging settings. ValidateExtended checks Level and
// Format; plannerctl sets up the zerolog global logger from its --log-level
// and --log-format flags and does not read this section (Output included).
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// MetricsConfig configures the prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file or flags
// override it: an 8-device single-node cluster, the ILP backend with a 30s
// time limit, and console logging.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			NumDevices:         8,
			NumDevicesPerNode:  8,
			MemBudgetPerDevice: 16 * 1024 * 1024 * 1024, // 16GB
		},
		Solver: SolverConfig{
			Backend: "ilp",
			ILP: ILPConfig{
				TimeLimit:    30 * time.Second,
				Threads:      1,
				MaxBatchSize: 1,
			},
			Search: SearchConfig{
				MaxOP:             8,
				MaxPP:             8,
				MaxBatchSize:      1,
				BeamWidth:         4,
				EvolvePopSize:     8,
				EvolveGenerations: 200,
			},
			Greedy: GreedyConfig{
				GroupSize:         1,
				EvolvePopSize:     8,
				EvolveGenerations: 200,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "0.0.0.0:9090",
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from configFile (or the standard search path if
// empty), overlays PLANNER_-prefixed environment variables, and validates
// the result.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("plannerctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("$HOME/.plannerctl")
		viper.AddConfigPath("/etc/plannerctl")
	}

	viper.SetEnvPrefix("PLANNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Seed viper with the defaults so every key is known to it and can be
	// overridden from the environment.
	defaults, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal defaults: %w", err)
	}
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate performs cheap structural checks, then runs ValidateExtended's
// cross-field checks (including that num_devices is a multiple of
// num_devices_per_node).
func (c *Config) Validate() error {
	if c.Cluster.NumDevices <= 0 {
		return fmt.Errorf("cluster.num_devices must be positive")
	}
	if c.Cluster.NumDevicesPerNode <= 0 {
		return fmt.Errorf("cluster.num_devices_per_node must be positive")
	}
	if c.Cluster.MemBudgetPerDevice <= 0 {
		return fmt.Errorf("cluster.mem_budget_per_device must be positive")
	}
	switch c.Solver.Backend {
	case "ilp", "search", "greedy":
	default:
		return fmt.Errorf("solver.backend must be one of ilp, search, greedy, got %q", c.Solver.Backend)
	}
	return c.ValidateExtended()
}

// Save writes the configuration to filename in YAML form.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

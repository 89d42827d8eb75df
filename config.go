package fedrepair

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

const (
	DefCoordinatorURL = "http://localhost:7070"
	DefAggregatorURL  = "http://localhost:7071"
)

type Config struct {
	Coordinator ServiceConfig    `toml:"coordinator"`
	Aggregator  ServiceConfig    `toml:"aggregator"`
	Simulation  SimulationConfig `toml:"simulation"`
}

type ServiceConfig struct {
	URL             string `toml:"url"`
	TLSVerification bool   `toml:"tls_verification"`
}

type SimulationConfig struct {
	Clients int `toml:"clients"`
	Tasks   int `toml:"tasks"`
	Rounds  int `toml:"rounds"`
}

func DefaultConfig() Config {
	return Config{
		Coordinator: ServiceConfig{URL: DefCoordinatorURL},
		Aggregator:  ServiceConfig{URL: DefAggregatorURL},
		Simulation:  SimulationConfig{Clients: 3, Tasks: 5, Rounds: 2},
	}
}

// LoadConfig reads a TOML file. Keys the file leaves out take their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := tree.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return withDefaults(cfg), nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Coordinator.URL == "" {
		cfg.Coordinator.URL = def.Coordinator.URL
	}
	if cfg.Aggregator.URL == "" {
		cfg.Aggregator.URL = def.Aggregator.URL
	}
	if cfg.Simulation.Clients <= 0 {
		cfg.Simulation.Clients = def.Simulation.Clients
	}
	if cfg.Simulation.Tasks <= 0 {
		cfg.Simulation.Tasks = def.Simulation.Tasks
	}
	if cfg.Simulation.Rounds <= 0 {
		cfg.Simulation.Rounds = def.Simulation.Rounds
	}

	return cfg
}

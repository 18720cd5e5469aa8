// Package config loads the service configuration.
//
// Config file locations (priority order):
//  1. $BRIDGETOPO_CONFIG
//  2. ./bridgetopo.yaml
//
// HTTP_ADDR, LOG_LEVEL and DATABASE_URL override the file when set.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bridgetopo/internal/discoveryworker"
	"bridgetopo/internal/enrichment/snmp"
)

const (
	EnvConfigPath  = "BRIDGETOPO_CONFIG"
	ConfigFileName = "bridgetopo.yaml"
)

type Config struct {
	HTTPAddr    string          `yaml:"http_addr"`
	LogLevel    string          `yaml:"log_level"`
	DatabaseURL string          `yaml:"database_url"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
	SNMP        SNMPConfig      `yaml:"snmp"`
	Bridges     []BridgeConfig  `yaml:"bridges"`
}

type DiscoveryConfig struct {
	PollInterval     Duration `yaml:"poll_interval"`
	ScheduleInterval Duration `yaml:"schedule_interval"`
	MaxRuntime       Duration `yaml:"max_runtime"`
	Workers          int      `yaml:"workers"`
}

type SNMPConfig struct {
	Community      string   `yaml:"community"`
	Version        string   `yaml:"version"`
	Port           uint16   `yaml:"port"`
	Timeout        Duration `yaml:"timeout"`
	Retries        int      `yaml:"retries"`
	MaxRepetitions uint32   `yaml:"max_repetitions"`
}

// BridgeConfig is one polled switch. Identifiers are its own MAC addresses.
type BridgeConfig struct {
	NodeID      int      `yaml:"node_id"`
	Address     string   `yaml:"address"`
	Domain      string   `yaml:"domain,omitempty"`
	Identifiers []string `yaml:"identifiers,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides are applied in both cases.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, "", nil
	}
	cfg, path, err := LoadFromPath(path)
	if err != nil {
		return nil, path, err
	}
	cfg.applyEnv()
	return cfg, path, nil
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8081"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Discovery.PollInterval <= 0 {
		c.Discovery.PollInterval = Duration(400 * time.Millisecond)
	}
	if c.Discovery.MaxRuntime <= 0 {
		c.Discovery.MaxRuntime = Duration(2 * time.Minute)
	}
	if c.Discovery.Workers <= 0 {
		c.Discovery.Workers = 8
	}
	for i := range c.Bridges {
		c.Bridges[i].Address = strings.TrimSpace(c.Bridges[i].Address)
		c.Bridges[i].Domain = strings.TrimSpace(c.Bridges[i].Domain)
		if c.Bridges[i].Domain == "" {
			c.Bridges[i].Domain = discoveryworker.DefaultDomain
		}
	}
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
}

// Validate rejects bridge lists the worker cannot poll.
func (c *Config) Validate() error {
	seen := make(map[int]struct{}, len(c.Bridges))
	for i, b := range c.Bridges {
		if b.NodeID <= 0 {
			return fmt.Errorf("bridges[%d]: node_id must be positive", i)
		}
		if b.Address == "" {
			return fmt.Errorf("bridges[%d]: address is required", i)
		}
		if _, dup := seen[b.NodeID]; dup {
			return fmt.Errorf("bridges[%d]: duplicate node_id %d", i, b.NodeID)
		}
		seen[b.NodeID] = struct{}{}
	}
	return nil
}

// WorkerOptions maps the discovery section onto worker options.
func (c *Config) WorkerOptions() discoveryworker.Options {
	bridges := make([]discoveryworker.Bridge, 0, len(c.Bridges))
	for _, b := range c.Bridges {
		bridges = append(bridges, discoveryworker.Bridge{
			NodeID:      b.NodeID,
			Address:     b.Address,
			Domain:      b.Domain,
			Identifiers: b.Identifiers,
		})
	}
	return discoveryworker.Options{
		PollInterval:     c.Discovery.PollInterval.Duration(),
		ScheduleInterval: c.Discovery.ScheduleInterval.Duration(),
		MaxRuntime:       c.Discovery.MaxRuntime.Duration(),
		Workers:          c.Discovery.Workers,
		Bridges:          bridges,
		SNMP: snmp.Config{
			Community:      c.SNMP.Community,
			Version:        c.SNMP.Version,
			Port:           c.SNMP.Port,
			Timeout:        c.SNMP.Timeout.Duration(),
			Retries:        c.SNMP.Retries,
			MaxRepetitions: c.SNMP.MaxRepetitions,
		},
	}
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

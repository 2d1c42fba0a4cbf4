// config.go - Configuration management for the mint daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the daemon configuration
type Config struct {
	// Node identity and network
	NodeID     string            `json:"node_id"`
	ListenAddr string            `json:"listen_addr"`
	Peers      map[string]string `json:"peers"`

	// Issuance settings
	BaseMintAmount  uint64 `json:"base_mint_amount"`
	TokensPerBatch  int    `json:"tokens_per_batch"`
	EpochSeconds    int    `json:"epoch_seconds"`
	RetentionEpochs uint64 `json:"retention_epochs"`

	// Oracle inputs (refreshed per epoch by the price-feed collaborator;
	// static values here serve fixed deployments and tests)
	TotalInfraValue uint64 `json:"total_infra_value"`

	// File paths
	StorePath      string `json:"store_path"`
	EvaluatorKey   string `json:"evaluator_key_path"`
	ProvingKeyPath string `json:"proving_key_path"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Gossip rate limiting
	GossipBurst      int `json:"gossip_burst"`
	GossipRefillRate int `json:"gossip_refill_rate"`

	// Operational thresholds
	MaxFalsePositiveRate float64 `json:"max_false_positive_rate"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		NodeID:               "mintd-0",
		ListenAddr:           "localhost:8470",
		Peers:                map[string]string{},
		BaseMintAmount:       1_000_000,
		TokensPerBatch:       16,
		EpochSeconds:         86400,
		RetentionEpochs:      7,
		TotalInfraValue:      0,
		StorePath:            "veilmint.db",
		EvaluatorKey:         "keys/evaluator.key",
		ProvingKeyPath:       "keys/binding.key",
		LogLevel:             "info",
		LogFile:              "",
		GossipBurst:          200,
		GossipRefillRate:     50,
		MaxFalsePositiveRate: 1e-4,
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	// Create default config and save it
	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must be set")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.BaseMintAmount == 0 {
		return fmt.Errorf("base_mint_amount must be positive")
	}
	if c.TokensPerBatch <= 0 {
		return fmt.Errorf("tokens_per_batch must be positive")
	}
	if c.EpochSeconds <= 0 {
		return fmt.Errorf("epoch_seconds must be positive")
	}
	if c.GossipBurst <= 0 || c.GossipRefillRate <= 0 {
		return fmt.Errorf("gossip rate limit settings must be positive")
	}
	if c.MaxFalsePositiveRate <= 0 || c.MaxFalsePositiveRate >= 1 {
		return fmt.Errorf("max_false_positive_rate must be in (0, 1)")
	}
	return nil
}

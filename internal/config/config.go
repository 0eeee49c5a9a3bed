// Package config handles NeoMind configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/neomind/config.yaml,
// /etc/neomind/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "neomind", "config.yaml"))
	}

	paths = append(paths, "/etc/neomind/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all NeoMind configuration.
type Config struct {
	Listen   ListenConfig `yaml:"listen"`
	Ollama   OllamaConfig `yaml:"ollama"`
	Models   ModelsConfig `yaml:"models"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	Chat     ChatConfig   `yaml:"chat"`
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OllamaConfig defines the LLM provider connection.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// ModelsConfig maps the routing presets to concrete models.
type ModelsConfig struct {
	Fast          string `yaml:"fast"`
	Balanced      string `yaml:"balanced"`
	Reasoning     string `yaml:"reasoning"`
	ContextWindow int    `yaml:"context_window"` // tokens, applied to all presets
}

// MQTTConfig defines the device broker connection.
type MQTTConfig struct {
	Broker            string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID          string `yaml:"client_id"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	TopicPrefix       string `yaml:"topic_prefix"`        // default "neomind"
	CommandTimeoutSec int    `yaml:"command_timeout_sec"` // ack wait, default 5
}

// ChatConfig tunes the streaming engine.
type ChatConfig struct {
	MaxChainDepth  int  `yaml:"max_chain_depth"`
	IntentPreamble bool `yaml:"intent_preamble"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file body (${VAR}) are expanded before parsing so secrets can
// stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Ollama: OllamaConfig{URL: "http://localhost:11434"},
		Models: ModelsConfig{
			Fast:          "llama3.2:3b",
			Balanced:      "qwen3:8b",
			Reasoning:     "qwen3:32b",
			ContextWindow: 8192,
		},
		MQTT: MQTTConfig{
			TopicPrefix:       "neomind",
			CommandTimeoutSec: 5,
		},
		Chat: ChatConfig{
			MaxChainDepth:  3,
			IntentPreamble: true,
		},
		DataDir: "data",
	}
}

// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvAccessKey is the environment variable consulted when no access key
// file is present. It may also be set from a .env file.
const EnvAccessKey = "PORCUPINE_ACCESS_KEY"

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. A .env file in the working directory is loaded into the environment first.
// After loading defaults or from file, it applies environment variable overrides and
// validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	// A missing .env file is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if path == "" {
		candidates := []string{
			"config.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	l := c.Listener
	if l.FrameLength <= 0 || l.FrameLength > MaxBufferFrames {
		return fmt.Errorf("listener.frame_length must be in 1..%d, got %d", MaxBufferFrames, l.FrameLength)
	}
	if l.BufferCapacity < 1 {
		return fmt.Errorf("listener.buffer_capacity must be at least 1, got %d", l.BufferCapacity)
	}
	switch l.DropPolicy {
	case "drop-newest", "drop-oldest":
	default:
		return fmt.Errorf("listener.drop_policy %q is not one of drop-newest, drop-oldest", l.DropPolicy)
	}
	if l.TakeTimeout <= 0 || l.IdleTick <= 0 {
		return fmt.Errorf("listener.take_timeout and listener.idle_tick must be positive")
	}
	if l.HandshakeTimeout <= 0 || l.HandshakeInterval <= 0 {
		return fmt.Errorf("listener.handshake_timeout and listener.handshake_interval must be positive")
	}
	if l.StartCommand == "" || l.StopCommand == "" || l.StartCommand == l.StopCommand {
		return fmt.Errorf("listener start and stop commands must be distinct and non-empty")
	}
	if c.Topics.Audio == "" || c.Topics.Command == "" || c.Topics.Output == "" {
		return fmt.Errorf("topics.audio, topics.command and topics.output must be set")
	}

	if c.Microphone.Enabled {
		sr := c.Microphone.SampleRate
		if sr < MinSampleRate || sr > MaxSampleRate {
			return fmt.Errorf("microphone.sample_rate %.0f out of range [%d, %d]", sr, MinSampleRate, MaxSampleRate)
		}
		if c.Microphone.InputDevice < MinDeviceID {
			return fmt.Errorf("microphone.input_device %d is invalid", c.Microphone.InputDevice)
		}
	}

	if c.Transport.UDPEnabled && !strings.Contains(c.Transport.UDPTargetAddress, ":") {
		return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress)
	}

	return nil
}

// applyEnvOverrides lets deployments adjust the most common settings
// without editing the config file.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
	}
	// ENV_MODELS_DIR
	if val, ok := os.LookupEnv("ENV_MODELS_DIR"); ok {
		cfg.Models.Dir = val
	}
	// ENV_ACCESS_KEY_FILE
	if val, ok := os.LookupEnv("ENV_ACCESS_KEY_FILE"); ok {
		cfg.Models.AccessKeyFile = val
	}
	// ENV_FRAME_LENGTH
	if val, ok := os.LookupEnv("ENV_FRAME_LENGTH"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Listener.FrameLength = n
		}
	}
	// ENV_HANDSHAKE_TIMEOUT
	if val, ok := os.LookupEnv("ENV_HANDSHAKE_TIMEOUT"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Listener.HandshakeTimeout = dur
		}
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
	}
	// ENV_WS_ADDRESS
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Transport.WebSocketAddress = val
	}
}

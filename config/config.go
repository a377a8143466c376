/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package config loads SDK settings from a YAML file, a .env file and the
// process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tejzpr/softphone-go-sdk/messagebus"
)

// Bus kinds accepted in BusSettings.Kind.
const (
	BusHub       = "hub"
	BusRedis     = "redis"
	BusWebSocket = "websocket"
)

// Settings is the complete SDK configuration.
type Settings struct {
	AccessToken string `yaml:"accessToken" env:"ACCESS_TOKEN"`
	BaseURL     string `yaml:"baseUrl" env:"BASE_URL"`
	// UserID overrides the user id derived from the access token.
	UserID string `yaml:"userId" env:"USER_ID"`

	Headset HeadsetSettings `yaml:"headset" envPrefix:"HEADSET_"`
	Bus     BusSettings     `yaml:"bus" envPrefix:"BUS_"`
	Session SessionSettings `yaml:"session" envPrefix:"SESSION_"`
}

// HeadsetSettings configures headset orchestration.
type HeadsetSettings struct {
	Enabled            bool          `yaml:"enabled" env:"ENABLED"`
	RequestType        string        `yaml:"requestType" env:"REQUEST_TYPE"`
	NegotiationTimeout time.Duration `yaml:"negotiationTimeout" env:"NEGOTIATION_TIMEOUT"`
	AudioDevice        string        `yaml:"audioDevice" env:"AUDIO_DEVICE"`
}

// BusSettings selects and configures the arbitration message bus.
type BusSettings struct {
	Kind          string `yaml:"kind" env:"KIND"`
	RedisAddr     string `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisUsername string `yaml:"redisUsername" env:"REDIS_USERNAME"`
	RedisPassword string `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redisDb" env:"REDIS_DB"`
	RedisPrefix   string `yaml:"redisPrefix" env:"REDIS_PREFIX"`
	WebSocketURL  string `yaml:"webSocketUrl" env:"WEBSOCKET_URL"`
}

// SessionSettings configures the session manager.
type SessionSettings struct {
	ResolvedRetention time.Duration `yaml:"resolvedRetention" env:"RESOLVED_RETENTION"`
}

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "SOFTPHONE_"

// Default returns the default settings
func Default() *Settings {
	return &Settings{
		BaseURL: "https://api.mypurecloud.com",
		Headset: HeadsetSettings{
			Enabled:            true,
			RequestType:        string(messagebus.RequestTypeStandard),
			NegotiationTimeout: 1500 * time.Millisecond,
		},
		Bus: BusSettings{
			Kind:        BusHub,
			RedisPrefix: messagebus.DefaultRedisPrefix,
		},
		Session: SessionSettings{
			ResolvedRetention: 10 * time.Minute,
		},
	}
}

// LoadEnv loads the file named by ENV_FILE, or .env, into the process
// environment. A missing default .env is not an error.
func LoadEnv() error {
	envfile := os.Getenv("ENV_FILE")
	if envfile != "" {
		return godotenv.Load(envfile)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// LoadFile decodes a YAML settings file over the defaults.
func LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings over the defaults.
func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return s, nil
}

// FromEnv overrides s with SOFTPHONE_-prefixed environment variables.
// Unset variables leave the current values in place.
func FromEnv(s *Settings) error {
	return env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix})
}

// Load builds settings from defaults, the optional YAML file at path, the
// .env file and the environment, then validates them.
func Load(path string) (*Settings, error) {
	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	s := Default()
	if path != "" {
		var err error
		if s, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := FromEnv(s); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if s.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	switch messagebus.RequestType(s.Headset.RequestType) {
	case messagebus.RequestTypeStandard, messagebus.RequestTypePrioritized, messagebus.RequestTypeMediaHelper:
	default:
		return fmt.Errorf("unknown headset request type %q", s.Headset.RequestType)
	}
	if s.Headset.NegotiationTimeout <= 0 {
		return fmt.Errorf("headset negotiation timeout must be positive")
	}
	switch s.Bus.Kind {
	case BusHub:
	case BusRedis:
		if s.Bus.RedisAddr == "" {
			return fmt.Errorf("redis bus requires an address")
		}
	case BusWebSocket:
		if s.Bus.WebSocketURL == "" {
			return fmt.Errorf("websocket bus requires a URL")
		}
	default:
		return fmt.Errorf("unknown bus kind %q", s.Bus.Kind)
	}
	return nil
}

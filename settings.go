/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package softphone

import (
	"context"
	"fmt"

	"github.com/tejzpr/softphone-go-sdk/config"
	"github.com/tejzpr/softphone-go-sdk/headset"
	"github.com/tejzpr/softphone-go-sdk/messagebus"
	"github.com/tejzpr/softphone-go-sdk/platform"
	"github.com/tejzpr/softphone-go-sdk/session"
)

// ConfigFromSettings converts loaded settings into a client Config.
func ConfigFromSettings(s *config.Settings, logger Logger) *Config {
	cfg := DefaultConfig()
	cfg.UserID = s.UserID
	cfg.Logger = logger
	if s.BaseURL != "" {
		cfg.Platform.BaseURL = s.BaseURL
	}
	cfg.Session.ResolvedRetention = s.Session.ResolvedRetention
	cfg.Headset.Enabled = s.Headset.Enabled
	cfg.Headset.RequestType = headset.RequestType(s.Headset.RequestType)
	cfg.Headset.NegotiationTimeout = s.Headset.NegotiationTimeout
	return cfg
}

// ResolveUserID returns the configured user id, or the one carried by the
// access token.
func ResolveUserID(s *config.Settings) (string, error) {
	if s.UserID != "" {
		return s.UserID, nil
	}
	claims, err := platform.ParseTokenClaims(s.AccessToken)
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("access token has no subject")
	}
	return claims.UserID, nil
}

// DialBus opens the arbitration bus selected by the settings. hub is used for
// the in-process kind and may be nil, in which case a private hub is created.
func DialBus(ctx context.Context, s *config.Settings, userID string, hub *messagebus.Hub, logger Logger) (messagebus.Bus, error) {
	switch s.Bus.Kind {
	case config.BusRedis:
		bus, err := messagebus.NewRedisBus(ctx, messagebus.RedisOptions{
			Addr:     s.Bus.RedisAddr,
			Username: s.Bus.RedisUsername,
			Password: s.Bus.RedisPassword,
			DB:       s.Bus.RedisDB,
			Prefix:   s.Bus.RedisPrefix,
			UserID:   userID,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return bus, nil
	case config.BusWebSocket:
		wsConfig := messagebus.DefaultWebSocketConfig()
		wsConfig.URL = s.Bus.WebSocketURL
		wsConfig.Token = s.AccessToken
		wsConfig.UserID = userID
		wsConfig.Logger = logger
		bus := messagebus.NewWebSocketBus(wsConfig)
		if err := bus.Connect(ctx); err != nil {
			return nil, err
		}
		return bus, nil
	case config.BusHub, "":
		if hub == nil {
			hub = messagebus.NewHub()
		}
		return hub.Join(userID), nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", s.Bus.Kind)
	}
}

// NewClientFromSettings dials the configured bus and creates a client.
func NewClientFromSettings(ctx context.Context, s *config.Settings, signaler session.Signaler, driver headset.Driver, logger Logger) (*Client, error) {
	userID, err := ResolveUserID(s)
	if err != nil {
		return nil, fmt.Errorf("error resolving user id: %w", err)
	}
	bus, err := DialBus(ctx, s, userID, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("error opening message bus: %w", err)
	}

	cfg := ConfigFromSettings(s, logger)
	cfg.UserID = userID
	client, err := NewClient(s.AccessToken, signaler, driver, bus, cfg)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return client, nil
}

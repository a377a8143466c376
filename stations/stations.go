/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package stations looks up the phone a user is associated with.
package stations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tejzpr/softphone-go-sdk/platform"
	"github.com/tejzpr/softphone-go-sdk/session"
)

// Station type reported for browser softphones.
const TypeWebRTC = "inin_webrtc_softphone"

// stationDTO is the station resource as returned by the platform API.
type stationDTO struct {
	ID                         string `json:"id"`
	Name                       string `json:"name"`
	Status                     string `json:"status"`
	Type                       string `json:"type"`
	UserID                     string `json:"userId,omitempty"`
	WebRTCPersistentEnabled    bool   `json:"webRtcPersistentEnabled"`
	WebRTCForceTurn            bool   `json:"webRtcForceTurn"`
	WebRTCCallAppearances      int    `json:"webRtcCallAppearances,omitempty"`
	WebRTCMediaDSCP            int    `json:"webRtcMediaDscp,omitempty"`
	ProviderEdgeID             string `json:"providerEdgeId,omitempty"`
	PrimaryEdgeExternalAddress string `json:"primaryEdgeExternalAddress,omitempty"`
}

type userStationsDTO struct {
	AssociatedStation *stationRef `json:"associatedStation,omitempty"`
	EffectiveStation  *stationRef `json:"effectiveStation,omitempty"`
	DefaultStation    *stationRef `json:"defaultStation,omitempty"`
	LastAssociated    *stationRef `json:"lastAssociatedStation,omitempty"`
}

type stationRef struct {
	ID string `json:"id"`
}

// Config holds the configuration for the Stations client
type Config struct {
	// BasePath is the API path prefix
	BasePath string
}

// DefaultConfig returns the default configuration for the Stations client
func DefaultConfig() *Config {
	return &Config{
		BasePath: "api/v2",
	}
}

// Client is the stations API client
type Client struct {
	platformClient *platform.Client
	config         *Config
}

// New creates a new Stations client
func New(platformClient *platform.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		platformClient: platformClient,
		config:         config,
	}
}

// GetStation returns a single station by ID
func (c *Client) GetStation(ctx context.Context, stationID string) (session.Station, error) {
	if stationID == "" {
		return session.Station{}, fmt.Errorf("stationID is required")
	}

	path := fmt.Sprintf("%s/stations/%s", c.config.BasePath, url.PathEscape(stationID))
	resp, err := c.platformClient.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return session.Station{}, err
	}

	var dto stationDTO
	if err := platform.ParseResponse(resp, &dto); err != nil {
		return session.Station{}, err
	}
	return session.Station{
		ID:                      dto.ID,
		Name:                    dto.Name,
		Status:                  dto.Status,
		Type:                    dto.Type,
		WebRTCPersistentEnabled: dto.WebRTCPersistentEnabled,
	}, nil
}

// GetEffectiveStation returns the station the user's calls are routed to.
// ok is false when the user has no station.
func (c *Client) GetEffectiveStation(ctx context.Context, userID string) (station session.Station, ok bool, err error) {
	if userID == "" {
		return session.Station{}, false, fmt.Errorf("userID is required")
	}

	path := fmt.Sprintf("%s/users/%s/station", c.config.BasePath, url.PathEscape(userID))
	resp, err := c.platformClient.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return session.Station{}, false, err
	}

	var stations userStationsDTO
	if err := platform.ParseResponse(resp, &stations); err != nil {
		if platform.IsNotFound(err) {
			return session.Station{}, false, nil
		}
		return session.Station{}, false, err
	}

	ref := stations.EffectiveStation
	if ref == nil || ref.ID == "" {
		ref = stations.AssociatedStation
	}
	if ref == nil || ref.ID == "" {
		return session.Station{}, false, nil
	}

	station, err = c.GetStation(ctx, ref.ID)
	if err != nil {
		return session.Station{}, false, fmt.Errorf("error fetching station %s: %w", ref.ID, err)
	}
	return station, true, nil
}

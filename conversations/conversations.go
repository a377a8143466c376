/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package conversations is the platform conversations API client. It performs
// REST call control and normalizes conversation payloads for the session manager.
package conversations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tejzpr/softphone-go-sdk/platform"
	"github.com/tejzpr/softphone-go-sdk/session"
)

// Conversation is a conversation as returned by the platform API.
type Conversation struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	StartTime    string        `json:"startTime,omitempty"`
	EndTime      string        `json:"endTime,omitempty"`
	Participants []Participant `json:"participants"`
}

// Participant is a conversation participant as returned by the platform API.
type Participant struct {
	ID      string     `json:"id"`
	Purpose string     `json:"purpose,omitempty"`
	UserID  string     `json:"userId,omitempty"`
	User    *EntityRef `json:"user,omitempty"`
	Address string     `json:"address,omitempty"`
	Name    string     `json:"name,omitempty"`
	Calls   []CallLeg  `json:"calls,omitempty"`
	Videos  []VideoLeg `json:"videos,omitempty"`
}

// EntityRef is a reference to another platform entity.
type EntityRef struct {
	ID string `json:"id"`
}

// CallLeg is a participant's voice communication.
type CallLeg struct {
	ID        string     `json:"id"`
	State     string     `json:"state"`
	Direction string     `json:"direction,omitempty"`
	Muted     bool       `json:"muted"`
	Held      bool       `json:"held"`
	Self      *Addressed `json:"self,omitempty"`
	Other     *Addressed `json:"other,omitempty"`
}

// Addressed carries the address of one end of a call leg.
type Addressed struct {
	Name        string `json:"name,omitempty"`
	NameRaw     string `json:"nameRaw,omitempty"`
	AddressRaw  string `json:"addressRaw,omitempty"`
	AddressNorm string `json:"addressNormalized,omitempty"`
}

// VideoLeg is a participant's video communication.
type VideoLeg struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	AudioMuted bool   `json:"audioMuted"`
	VideoMuted bool   `json:"videoMuted"`
}

// Config holds the configuration for the Conversations client
type Config struct {
	// BasePath is the API path prefix for conversation resources
	BasePath string
}

// DefaultConfig returns the default configuration for the Conversations client
func DefaultConfig() *Config {
	return &Config{
		BasePath: "api/v2/conversations",
	}
}

// Client is the conversations API client. It satisfies session.ConversationAPI.
type Client struct {
	platformClient *platform.Client
	config         *Config
}

var _ session.ConversationAPI = (*Client)(nil)

// New creates a new Conversations client
func New(platformClient *platform.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		platformClient: platformClient,
		config:         config,
	}
}

// Get returns a single conversation by ID
func (c *Client) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID is required")
	}

	path := fmt.Sprintf("%s/%s", c.config.BasePath, url.PathEscape(conversationID))
	resp, err := c.platformClient.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var conv Conversation
	if err := platform.ParseResponse(resp, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation fetches a conversation and normalizes it.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (session.ConversationUpdate, error) {
	conv, err := c.Get(ctx, conversationID)
	if err != nil {
		return session.ConversationUpdate{}, err
	}
	return conv.Normalize(), nil
}

// PatchParticipant applies a partial update to a participant's call.
func (c *Client) PatchParticipant(ctx context.Context, conversationID, participantID string, patch session.ParticipantPatch) error {
	if conversationID == "" {
		return fmt.Errorf("conversationID is required")
	}
	if participantID == "" {
		return fmt.Errorf("participantID is required")
	}
	if patch.State == "" && patch.Muted == nil && patch.Held == nil {
		return fmt.Errorf("participant patch is empty")
	}

	path := fmt.Sprintf("%s/calls/%s/participants/%s",
		c.config.BasePath, url.PathEscape(conversationID), url.PathEscape(participantID))
	resp, err := c.platformClient.Request(ctx, http.MethodPatch, path, nil, patch)
	if err != nil {
		return err
	}
	return platform.ParseResponse(resp, nil)
}

// Normalize converts the platform representation into a session.ConversationUpdate.
func (c *Conversation) Normalize() session.ConversationUpdate {
	update := session.ConversationUpdate{
		ID:           c.ID,
		Participants: make([]session.Participant, 0, len(c.Participants)),
	}
	for _, p := range c.Participants {
		update.Participants = append(update.Participants, p.normalize())
	}
	return update
}

func (p Participant) normalize() session.Participant {
	out := session.Participant{
		ID:      p.ID,
		Purpose: p.Purpose,
		UserID:  p.UserID,
		Address: p.Address,
	}
	if out.UserID == "" && p.User != nil {
		out.UserID = p.User.ID
	}
	for _, leg := range p.Calls {
		if out.Address == "" && leg.Self != nil {
			out.Address = leg.Self.AddressNorm
		}
		out.Calls = append(out.Calls, session.Call{
			ID:        leg.ID,
			State:     strings.ToLower(leg.State),
			Direction: strings.ToLower(leg.Direction),
			Muted:     leg.Muted,
			Held:      leg.Held,
		})
	}
	for _, v := range p.Videos {
		out.Videos = append(out.Videos, session.Video{
			ID:         v.ID,
			State:      strings.ToLower(v.State),
			AudioMuted: v.AudioMuted,
			VideoMuted: v.VideoMuted,
		})
	}
	return out
}

// ---- Notifications ----

// Notification is a conversation topic event pushed by the platform.
type Notification struct {
	TopicName string          `json:"topicName"`
	EventBody json.RawMessage `json:"eventBody"`
}

// ParseNotification decodes a pushed conversation event into a normalized
// update. Notifications for other topics return ok=false.
func ParseNotification(data []byte) (update session.ConversationUpdate, ok bool, err error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return session.ConversationUpdate{}, false, fmt.Errorf("error decoding notification: %w", err)
	}
	if !strings.Contains(n.TopicName, ".conversations") || len(n.EventBody) == 0 {
		return session.ConversationUpdate{}, false, nil
	}

	var conv Conversation
	if err := json.Unmarshal(n.EventBody, &conv); err != nil {
		return session.ConversationUpdate{}, false, fmt.Errorf("error decoding conversation event: %w", err)
	}
	if conv.ID == "" {
		return session.ConversationUpdate{}, false, nil
	}
	return conv.Normalize(), true, nil
}

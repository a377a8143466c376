/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package softphone wires the session manager, the headset orchestrator and
// the platform REST clients into one client per signed-in user.
package softphone

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tejzpr/softphone-go-sdk/changequeue"
	"github.com/tejzpr/softphone-go-sdk/conversations"
	"github.com/tejzpr/softphone-go-sdk/headset"
	"github.com/tejzpr/softphone-go-sdk/messagebus"
	"github.com/tejzpr/softphone-go-sdk/platform"
	"github.com/tejzpr/softphone-go-sdk/session"
	"github.com/tejzpr/softphone-go-sdk/stations"
)

// defaultTrackTimeout bounds how long a queued device operation is watched.
// Operations dropped by a queue clear never resolve.
const defaultTrackTimeout = 30 * time.Second

// Logger is the interface for SDK logging. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Config holds the configuration for the Client
type Config struct {
	// UserID overrides the user id read from the access token.
	UserID   string
	Platform *platform.Config
	Session  *session.Config
	Headset  *headset.Config
	Logger   Logger
}

// DefaultConfig returns the default configuration for the Client
func DefaultConfig() *Config {
	return &Config{
		Platform: platform.DefaultConfig(),
		Session:  session.DefaultConfig(),
		Headset:  headset.DefaultConfig(),
	}
}

// Client is the top-level softphone client
type Client struct {
	core   *platform.Client
	config *Config
	userID string
	logger Logger

	queue    *changequeue.Queue
	bus      messagebus.Bus
	sessions *session.Manager
	headset  *headset.Orchestrator

	conversationsClient *conversations.Client
	stationsClient      *stations.Client

	ctx          context.Context
	cancel       context.CancelFunc
	trackTimeout time.Duration

	mu        sync.Mutex
	started   bool
	unsubs    []func()
	announced map[string]bool // conversations rung on the device
}

// NewClient creates a client. signaler is the application's signaling
// client, driver the vendor headset library (nil disables headset support)
// and bus the arbitration channel shared with the user's other clients.
func NewClient(accessToken string, signaler session.Signaler, driver headset.Driver, bus messagebus.Bus, config *Config) (*Client, error) {
	if signaler == nil {
		return nil, fmt.Errorf("signaler is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	platformConfig := config.Platform
	if platformConfig == nil {
		platformConfig = platform.DefaultConfig()
	}
	if platformConfig.Logger == nil {
		platformConfig.Logger = logger
	}
	core, err := platform.NewClient(accessToken, platformConfig)
	if err != nil {
		return nil, err
	}

	userID := config.UserID
	if userID == "" {
		claims, err := core.TokenClaims()
		if err != nil {
			return nil, fmt.Errorf("user id is required when the access token carries no identity: %w", err)
		}
		userID = claims.UserID
	}
	if userID == "" {
		return nil, fmt.Errorf("access token has no subject")
	}

	sessionConfig := *orDefault(config.Session, session.DefaultConfig)
	sessionConfig.UserID = userID
	if sessionConfig.Logger == nil {
		sessionConfig.Logger = logger
	}
	headsetConfig := *orDefault(config.Headset, headset.DefaultConfig)
	if headsetConfig.Logger == nil {
		headsetConfig.Logger = logger
	}
	if driver == nil {
		headsetConfig.Enabled = false
	}

	convs := conversations.New(core, nil)
	queue := changequeue.New(changequeue.WithLogger(logger))
	sessions := session.NewManager(signaler, convs, &sessionConfig)

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		core:                core,
		config:              config,
		userID:              userID,
		logger:              logger,
		queue:               queue,
		bus:                 bus,
		sessions:            sessions,
		headset:             headset.New(driver, bus, queue, sessions, &headsetConfig),
		conversationsClient: convs,
		stationsClient:      stations.New(core, nil),
		ctx:                 ctx,
		cancel:              cancel,
		trackTimeout:        defaultTrackTimeout,
		announced:           make(map[string]bool),
	}, nil
}

func orDefault[T any](v *T, def func() *T) *T {
	if v == nil {
		return def()
	}
	return v
}

// Core returns the platform REST client
func (c *Client) Core() *platform.Client { return c.core }

// UserID returns the id of the signed-in user
func (c *Client) UserID() string { return c.userID }

// Sessions returns the session manager
func (c *Client) Sessions() *session.Manager { return c.sessions }

// Headset returns the headset orchestrator
func (c *Client) Headset() *headset.Orchestrator { return c.headset }

// Conversations returns the conversations API client
func (c *Client) Conversations() *conversations.Client { return c.conversationsClient }

// Stations returns the stations API client
func (c *Client) Stations() *stations.Client { return c.stationsClient }

// Start looks up the user's station and begins headset orchestration.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.RefreshStation(ctx); err != nil {
		c.logger.Printf("softphone: station lookup failed: %v", err)
	}

	unsubSessions := c.sessions.OnAny(c.relaySessionEvent)
	unsubHeadset := c.headset.OnEvent(c.handleHeadsetEvent)
	c.headset.Start()

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubSessions, unsubHeadset)
	c.mu.Unlock()
	return nil
}

// Stop ends headset orchestration and closes the bus. The client cannot be
// restarted.
func (c *Client) Stop() error {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	c.headset.Stop()
	c.cancel()
	c.queue.Close()
	if c.bus != nil {
		return c.bus.Close()
	}
	return nil
}

// SelectAudioInput reports the microphone chosen by the user.
func (c *Client) SelectAudioInput(ctx context.Context, label string) error {
	return c.headset.UpdateAudioInputDevice(ctx, label)
}

// RefreshStation fetches the user's effective station and updates the
// session manager.
func (c *Client) RefreshStation(ctx context.Context) error {
	station, ok, err := c.stationsClient.GetEffectiveStation(ctx, c.userID)
	if err != nil {
		return err
	}
	if !ok {
		c.sessions.OnStationDisassociated()
		return nil
	}
	c.sessions.OnStationAssociated(station)
	return nil
}

// RefreshConversation fetches a conversation and reconciles sessions with it.
func (c *Client) RefreshConversation(ctx context.Context, conversationID string) error {
	update, err := c.conversationsClient.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	c.sessions.OnConversationUpdate(update)
	return nil
}

// HandleNotification feeds a pushed platform notification to the session
// manager. Notifications for other topics are ignored.
func (c *Client) HandleNotification(data []byte) error {
	update, ok, err := conversations.ParseNotification(data)
	if err != nil || !ok {
		return err
	}
	c.sessions.OnConversationUpdate(update)
	return nil
}

// ---- Session events to the device ----

func (c *Client) relaySessionEvent(ev session.Event) {
	switch e := ev.(type) {
	case session.PendingSessionEvent:
		if e.Session.SessionType != session.SessionTypeSoftphone {
			return
		}
		c.setAnnounced(e.Session.ConversationID, true)
		c.track("incomingCall", c.headset.IncomingCall(headset.CallInfo{
			ConversationID: e.Session.ConversationID,
			ContactName:    e.Session.FromAddress,
			FromAddress:    e.Session.FromAddress,
			AutoAnswer:     e.Session.AutoAnswer,
		}))
	case session.CancelPendingSessionEvent:
		if c.setAnnounced(e.ConversationID, false) {
			c.track("rejectCall", c.headset.RejectCall(e.ConversationID))
		}
	case session.HandledPendingSessionEvent:
		if !c.isAnnounced(e.ConversationID) {
			return
		}
		if e.Outcome == session.HandledAccepted {
			c.track("answerCall", c.headset.AnswerCall(e.ConversationID))
			return
		}
		c.setAnnounced(e.ConversationID, false)
		c.track("rejectCall", c.headset.RejectCall(e.ConversationID))
	case session.SessionStartedEvent:
		if e.Session.SessionType != session.SessionTypeSoftphone || c.isAnnounced(e.Session.ConversationID) {
			return
		}
		c.setAnnounced(e.Session.ConversationID, true)
		c.track("outgoingCall", c.headset.OutgoingCall(headset.CallInfo{ConversationID: e.Session.ConversationID}))
	case session.SessionEndedEvent:
		if e.Session.SessionType != session.SessionTypeSoftphone || e.Reason == "replaced" {
			return
		}
		if c.setAnnounced(e.Session.ConversationID, false) {
			c.track("endCall", c.headset.EndCall(e.Session.ConversationID))
		}
	case session.MuteChangedEvent:
		if e.Kind == session.MediaKindAudio && c.isSoftphone(e.ConversationID) {
			c.track("setMute", c.headset.SetMute(e.Muted))
		}
	case session.HoldChangedEvent:
		if c.isSoftphone(e.ConversationID) {
			c.track("setHold", c.headset.SetHold(e.ConversationID, e.Held))
		}
	}
}

// setAnnounced records whether the device knows about the conversation and
// reports whether it did before.
func (c *Client) setAnnounced(conversationID string, on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.announced[conversationID]
	if on {
		c.announced[conversationID] = true
	} else {
		delete(c.announced, conversationID)
	}
	return was
}

func (c *Client) isAnnounced(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.announced[conversationID]
}

func (c *Client) isSoftphone(conversationID string) bool {
	s, ok := c.sessions.Lookup(conversationID)
	return ok && s.SessionType == session.SessionTypeSoftphone
}

// track logs the failure of a queued device operation.
func (c *Client) track(name string, f *changequeue.Future) {
	if f == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.trackTimeout)
		defer cancel()
		_, err := f.Wait(ctx)
		switch {
		case err == nil || c.ctx.Err() != nil:
		case ctx.Err() != nil:
			c.logger.Printf("softphone: headset %s did not run within %s", name, c.trackTimeout)
		default:
			c.logger.Printf("softphone: headset %s failed: %v", name, err)
		}
	}()
}

// ---- Device buttons to sessions ----

func (c *Client) handleHeadsetEvent(ev headset.Event) {
	switch e := ev.(type) {
	case headset.DeviceAnsweredCall:
		go c.deviceAction("answer", e.ConversationID, func(ctx context.Context) error {
			err := c.sessions.AcceptPendingSession(ctx, e.ConversationID)
			if session.IsNoPendingSession(err) {
				return c.sessions.AnswerConversation(ctx, e.ConversationID)
			}
			return err
		})
	case headset.DeviceRejectedCall:
		go c.deviceAction("reject", e.ConversationID, func(ctx context.Context) error {
			return c.sessions.RejectPendingSession(ctx, e.ConversationID)
		})
	case headset.DeviceEndedCall:
		go c.deviceAction("end", e.ConversationID, func(ctx context.Context) error {
			return c.sessions.EndSession(ctx, e.ConversationID)
		})
	case headset.DeviceMuteChanged:
		go c.deviceAction("mute", e.ConversationID, func(ctx context.Context) error {
			return c.sessions.SetAudioMute(ctx, e.ConversationID, e.Muted)
		})
	case headset.DeviceHoldChanged:
		go c.deviceAction("hold", e.ConversationID, func(ctx context.Context) error {
			return c.sessions.SetConversationHeld(ctx, e.ConversationID, e.Held)
		})
	case headset.StateChanged:
		c.logger.Printf("softphone: headset controls %s -> %s", e.From, e.To)
	case headset.ImplementationChanged:
		if e.NoVendor {
			c.logger.Printf("softphone: no headset vendor for %q", e.DeviceLabel)
		}
	}
}

func (c *Client) deviceAction(name, conversationID string, fn func(ctx context.Context) error) {
	if conversationID == "" {
		c.logger.Printf("softphone: ignoring headset %s without conversation", name)
		return
	}
	if err := fn(c.ctx); err != nil {
		c.logger.Printf("softphone: headset %s for conversation %s failed: %v", name, conversationID, err)
	}
}

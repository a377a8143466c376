/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaler is the outbound side of the signaling client.
type Signaler interface {
	// Proceed tells the signaling layer to continue with a proposed session.
	Proceed(ctx context.Context, sessionID string) error
	// Reject declines a proposed session.
	Reject(ctx context.Context, sessionID string) error
	// Initiate starts an outbound session and returns its id.
	Initiate(ctx context.Context, req InitiateRequest) (string, error)
}

// PeerConnection is the media transport handle of a session.
// *webrtc.PeerConnection satisfies it.
type PeerConnection interface {
	ConnectionState() webrtc.PeerConnectionState
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// RTCSession is an incoming signaling session created after a proceed.
type RTCSession interface {
	ID() string
	ConversationID() string
	SessionType() SessionType
	Accept(ctx context.Context) error
	End(ctx context.Context) error
	Mute(ctx context.Context, kind MediaKind, muted bool) error
	// PeerConnection may return nil before media negotiation starts.
	PeerConnection() PeerConnection
}

// ConversationAPI is the platform REST surface used for call control.
type ConversationAPI interface {
	PatchParticipant(ctx context.Context, conversationID, participantID string, patch ParticipantPatch) error
}

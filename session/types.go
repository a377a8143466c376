/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// ---- Session Type & State Enums ----

// SessionType identifies the call modality of a session
type SessionType string

const (
	SessionTypeSoftphone        SessionType = "softphone"
	SessionTypeCollaborateVideo SessionType = "collaborateVideo"
	SessionTypeScreenShare      SessionType = "screenShare"
)

// SessionState represents the state of a session in the state machine
type SessionState string

const (
	SessionStateProposed   SessionState = "proposed"
	SessionStateAccepted   SessionState = "accepted"
	SessionStateRejected   SessionState = "rejected"
	SessionStateCanceled   SessionState = "canceled"
	SessionStateStarted    SessionState = "started"
	SessionStateActive     SessionState = "active"
	SessionStateHeld       SessionState = "held"
	SessionStateTerminated SessionState = "terminated"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionStateProposed: {SessionStateAccepted, SessionStateRejected, SessionStateCanceled},
	SessionStateAccepted: {SessionStateStarted, SessionStateTerminated},
	SessionStateStarted:  {SessionStateActive, SessionStateTerminated},
	SessionStateActive:   {SessionStateHeld, SessionStateTerminated},
	SessionStateHeld:     {SessionStateActive, SessionStateTerminated},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to SessionState) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s SessionState) Terminal() bool {
	return len(sessionTransitions[s]) == 0
}

// MediaKind selects the track a mute applies to
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// ---- Sessions ----

// PendingSession is a call invitation that has not been accepted or rejected.
// SessionID is empty for invitations detected from conversation updates on a
// persistent connection, which are answered through the platform API.
type PendingSession struct {
	SessionID      string       `json:"sessionId,omitempty"`
	ConversationID string       `json:"conversationId"`
	SessionType    SessionType  `json:"sessionType"`
	FromAddress    string       `json:"fromAddress,omitempty"`
	AutoAnswer     bool         `json:"autoAnswer"`
	State          SessionState `json:"state"`
	ReceivedAt     time.Time    `json:"receivedAt"`
}

// ActiveSession is a started signaling session. Values returned by the
// Manager are snapshots; the Manager stays the only writer.
type ActiveSession struct {
	SessionID       string                     `json:"sessionId"`
	ConversationID  string                     `json:"conversationId"`
	SessionType     SessionType                `json:"sessionType"`
	State           SessionState               `json:"state"`
	ConnectionState webrtc.PeerConnectionState `json:"-"`
	Muted           bool                       `json:"muted"`
	VideoMuted      bool                       `json:"videoMuted"`
	Held            bool                       `json:"held"`
	Peer            PeerConnection             `json:"-"`
}

// ProposeInfo is the payload of a signaling propose.
type ProposeInfo struct {
	SessionID      string
	ConversationID string
	SessionType    SessionType
	FromAddress    string
	AutoAnswer     bool
	// SelfInitiated is set when this user started the session, e.g. by
	// joining a video conference.
	SelfInitiated bool
}

// InitiateRequest asks the signaling layer to start an outbound session.
type InitiateRequest struct {
	SessionType    SessionType
	ConversationID string
	Jid            string
	Audio          bool
	Video          bool
}

// ---- Conversation Updates ----

// Call states reported on a participant's calls.
const (
	CallStateAlerting     = "alerting"
	CallStateContacting   = "contacting"
	CallStateDialing      = "dialing"
	CallStateConnected    = "connected"
	CallStateDisconnected = "disconnected"
	CallStateTerminated   = "terminated"
)

// Call directions reported on a participant's calls.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ConversationUpdate is a normalized conversation snapshot.
type ConversationUpdate struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

// Participant is one party of a conversation.
type Participant struct {
	ID      string  `json:"id"`
	Purpose string  `json:"purpose"`
	UserID  string  `json:"userId,omitempty"`
	Address string  `json:"address,omitempty"`
	Calls   []Call  `json:"calls,omitempty"`
	Videos  []Video `json:"videos,omitempty"`
}

// Call is a voice leg of a participant.
type Call struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Direction string `json:"direction,omitempty"`
	Muted     bool   `json:"muted"`
	Held      bool   `json:"held"`
}

// Video is a video leg of a participant.
type Video struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	AudioMuted bool   `json:"audioMuted"`
	VideoMuted bool   `json:"videoMuted"`
}

// Participant returns the participant for userID, preferring one with a live call.
func (u ConversationUpdate) Participant(userID string) (Participant, bool) {
	var found Participant
	ok := false
	for _, p := range u.Participants {
		if p.UserID != userID {
			continue
		}
		if !ok {
			found, ok = p, true
		}
		if call, has := p.LatestCall(); has && !call.Ended() {
			return p, true
		}
	}
	return found, ok
}

// LatestCall returns the participant's most recent call leg.
func (p Participant) LatestCall() (Call, bool) {
	if len(p.Calls) == 0 {
		return Call{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// Ended reports whether the call leg is over.
func (c Call) Ended() bool {
	return c.State == CallStateDisconnected || c.State == CallStateTerminated
}

// ---- Stations ----

// Station is the phone a user is associated with.
type Station struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Status                  string `json:"status"`
	Type                    string `json:"type"`
	WebRTCPersistentEnabled bool   `json:"webRtcPersistentEnabled"`
}

// ParticipantPatch is a partial update of a conversation participant.
type ParticipantPatch struct {
	State string `json:"state,omitempty"`
	Muted *bool  `json:"muted,omitempty"`
	Held  *bool  `json:"held,omitempty"`
}

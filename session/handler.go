/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import "context"

// Handler is the behavior of one call modality. The Manager keeps all session
// records and dispatches to the Handler registered for a session's type.
type Handler interface {
	SessionType() SessionType
	// AutoProceed reports whether a propose continues without asking the application.
	AutoProceed(info ProposeInfo) bool
	// Accept answers a pending invitation.
	Accept(ctx context.Context, p PendingSession) error
	// Reject declines a pending invitation.
	Reject(ctx context.Context, p PendingSession) error
	// AcceptSession accepts media on a started session.
	AcceptSession(ctx context.Context, rtc RTCSession) error
	// End hangs up an active session.
	End(ctx context.Context, s ActiveSession, rtc RTCSession) error
}

// AudioMuter is implemented by handlers that can mute the microphone.
type AudioMuter interface {
	SetAudioMute(ctx context.Context, s ActiveSession, rtc RTCSession, muted bool) error
}

// Holder is implemented by handlers that can place a call on hold.
type Holder interface {
	SetHold(ctx context.Context, s ActiveSession, rtc RTCSession, held bool) error
}

// VideoMuter is implemented by handlers that can stop the camera.
type VideoMuter interface {
	SetVideoMute(ctx context.Context, s ActiveSession, rtc RTCSession, muted bool) error
}

// ConversationObserver is implemented by handlers that reconcile state from
// conversation updates.
type ConversationObserver interface {
	ObserveConversation(update ConversationUpdate)
}

// signalingHandler carries the behavior shared by modalities that are driven
// entirely through the signaling layer.
type signalingHandler struct {
	m           *Manager
	sessionType SessionType
}

func (h *signalingHandler) SessionType() SessionType { return h.sessionType }

// AutoProceed continues sessions the user started, such as joining a conference.
func (h *signalingHandler) AutoProceed(info ProposeInfo) bool {
	return info.SelfInitiated
}

func (h *signalingHandler) Accept(ctx context.Context, p PendingSession) error {
	return h.m.ProceedWithSession(ctx, p.SessionID)
}

func (h *signalingHandler) Reject(ctx context.Context, p PendingSession) error {
	return h.m.signaler.Reject(ctx, p.SessionID)
}

func (h *signalingHandler) AcceptSession(ctx context.Context, rtc RTCSession) error {
	return rtc.Accept(ctx)
}

func (h *signalingHandler) End(ctx context.Context, s ActiveSession, rtc RTCSession) error {
	if rtc == nil {
		return ErrSessionNotFound
	}
	return rtc.End(ctx)
}

// videoHandler handles collaborateVideo sessions. Hold is not supported.
type videoHandler struct {
	signalingHandler
}

func newVideoHandler(m *Manager) *videoHandler {
	return &videoHandler{signalingHandler{m: m, sessionType: SessionTypeCollaborateVideo}}
}

func (h *videoHandler) SetAudioMute(ctx context.Context, s ActiveSession, rtc RTCSession, muted bool) error {
	return rtc.Mute(ctx, MediaKindAudio, muted)
}

func (h *videoHandler) SetVideoMute(ctx context.Context, s ActiveSession, rtc RTCSession, muted bool) error {
	return rtc.Mute(ctx, MediaKindVideo, muted)
}

// screenShareHandler handles screenShare sessions. They carry no microphone
// and cannot be held.
type screenShareHandler struct {
	signalingHandler
}

func newScreenShareHandler(m *Manager) *screenShareHandler {
	return &screenShareHandler{signalingHandler{m: m, sessionType: SessionTypeScreenShare}}
}

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import "context"

// softphoneHandler handles ordinary voice calls. Call control goes through
// the conversation API so that it works on persistent connections, where the
// signaling session outlives individual calls.
type softphoneHandler struct {
	m *Manager
}

func newSoftphoneHandler(m *Manager) *softphoneHandler {
	return &softphoneHandler{m: m}
}

func (h *softphoneHandler) SessionType() SessionType { return SessionTypeSoftphone }

// AutoProceed is never used for voice calls; auto-answer is applied after the
// application has been told about the invitation.
func (h *softphoneHandler) AutoProceed(ProposeInfo) bool { return false }

func (h *softphoneHandler) Accept(ctx context.Context, p PendingSession) error {
	if p.SessionID == "" {
		return h.m.patchOwnParticipant(ctx, p.ConversationID, ParticipantPatch{State: CallStateConnected})
	}
	return h.m.ProceedWithSession(ctx, p.SessionID)
}

func (h *softphoneHandler) Reject(ctx context.Context, p PendingSession) error {
	if p.SessionID == "" {
		return h.m.patchOwnParticipant(ctx, p.ConversationID, ParticipantPatch{State: CallStateDisconnected})
	}
	return h.m.signaler.Reject(ctx, p.SessionID)
}

func (h *softphoneHandler) AcceptSession(ctx context.Context, rtc RTCSession) error {
	return rtc.Accept(ctx)
}

// End disconnects the user's participant. The signaling session is only torn
// down when no persistent connection keeps it alive.
func (h *softphoneHandler) End(ctx context.Context, s ActiveSession, rtc RTCSession) error {
	err := h.m.patchOwnParticipant(ctx, s.ConversationID, ParticipantPatch{State: CallStateDisconnected})
	switch {
	case err == nil:
		if rtc != nil && !h.m.PersistentConnectionEnabled() {
			return rtc.End(ctx)
		}
		return nil
	case IsParticipantUnknown(err) && rtc != nil && !h.m.PersistentConnectionEnabled():
		return rtc.End(ctx)
	default:
		return err
	}
}

func (h *softphoneHandler) SetAudioMute(ctx context.Context, s ActiveSession, rtc RTCSession, muted bool) error {
	err := h.m.patchOwnParticipant(ctx, s.ConversationID, ParticipantPatch{Muted: &muted})
	if IsParticipantUnknown(err) && rtc != nil {
		return rtc.Mute(ctx, MediaKindAudio, muted)
	}
	return err
}

func (h *softphoneHandler) SetHold(ctx context.Context, s ActiveSession, rtc RTCSession, held bool) error {
	return h.m.patchOwnParticipant(ctx, s.ConversationID, ParticipantPatch{Held: &held})
}

// ObserveConversation reconciles mute and hold with the platform and, on a
// persistent connection, surfaces alerting calls that will never be proposed.
func (h *softphoneHandler) ObserveConversation(update ConversationUpdate) {
	userID := h.m.config.UserID
	if userID == "" {
		return
	}
	own, ok := update.Participant(userID)
	if !ok {
		return
	}
	call, ok := own.LatestCall()
	if !ok {
		return
	}

	from := ""
	for _, p := range update.Participants {
		if p.ID != own.ID && p.Address != "" {
			from = p.Address
			break
		}
	}
	h.m.reconcileSoftphoneCall(update.ID, call, from)
}


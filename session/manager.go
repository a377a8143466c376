/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package session tracks call invitations and active sessions per conversation,
// reconciling signaling events with platform conversation updates.
package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Logger is the interface for session logging. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Config holds the configuration for the Manager
type Config struct {
	// UserID identifies the user's own participant in conversation updates.
	UserID string
	// ResolvedRetention is how long a resolved conversation is remembered for
	// recognizing stale proposes.
	ResolvedRetention time.Duration
	Logger            Logger
}

// DefaultConfig returns the default configuration for the Manager
func DefaultConfig() *Config {
	return &Config{
		ResolvedRetention: 10 * time.Minute,
	}
}

type resolution struct {
	outcome HandledOutcome
	at      time.Time
}

type activeRecord struct {
	session ActiveSession
	rtc     RTCSession
}

// Manager routes signaling and conversation events to the modality handlers
// and owns every pending and active session record.
type Manager struct {
	signaler Signaler
	api      ConversationAPI
	config   *Config
	logger   Logger
	emitter  *EventEmitter

	handlersMu sync.RWMutex
	handlers   map[SessionType]Handler

	mu           sync.Mutex
	pending      map[string]PendingSession // by conversation id
	active       map[string]*activeRecord  // by conversation id
	sessions     map[string]string         // active session id -> conversation id
	resolved     map[string]resolution     // by conversation id
	proceeded    map[string]bool           // session ids already proceeded
	participants map[string]string         // conversation id -> own participant id
	station      *Station
}

// NewManager creates a Manager with the softphone, collaborateVideo and
// screenShare handlers registered.
func NewManager(signaler Signaler, api ConversationAPI, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ResolvedRetention <= 0 {
		config.ResolvedRetention = DefaultConfig().ResolvedRetention
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	m := &Manager{
		signaler:     signaler,
		api:          api,
		config:       config,
		logger:       logger,
		emitter:      NewEventEmitter(),
		handlers:     make(map[SessionType]Handler),
		pending:      make(map[string]PendingSession),
		active:       make(map[string]*activeRecord),
		sessions:     make(map[string]string),
		resolved:     make(map[string]resolution),
		proceeded:    make(map[string]bool),
		participants: make(map[string]string),
	}
	m.RegisterHandler(newSoftphoneHandler(m))
	m.RegisterHandler(newVideoHandler(m))
	m.RegisterHandler(newScreenShareHandler(m))
	return m
}

// RegisterHandler installs h for its session type, replacing any previous one.
func (m *Manager) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[h.SessionType()] = h
}

func (m *Manager) handlerFor(t SessionType) (Handler, error) {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	h, ok := m.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSessionType, t)
	}
	return h, nil
}

func (m *Manager) observers() []ConversationObserver {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	out := make([]ConversationObserver, 0, len(m.handlers))
	for _, h := range m.handlers {
		if o, ok := h.(ConversationObserver); ok {
			out = append(out, o)
		}
	}
	return out
}

// ---- Events ----

// On registers an event handler for a specific event type
func (m *Manager) On(event EventName, handler EventHandler) { m.emitter.On(event, handler) }

// OnAny registers a handler for every session event and returns a func that removes it.
func (m *Manager) OnAny(handler EventHandler) func() { return m.emitter.OnAny(handler) }

// Off removes all handlers for a specific event type
func (m *Manager) Off(event EventName) { m.emitter.Off(event) }

func (m *Manager) emit(events ...Event) {
	for _, ev := range events {
		m.emitter.Emit(ev)
	}
}

// ---- Inbound signaling ----

// OnPropose handles a signaling propose. A propose for a conversation that was
// already resolved locally, or that has an active session, is stale: it is
// proceeded (or rejected) silently and never surfaced as a new pending session.
func (m *Manager) OnPropose(ctx context.Context, info ProposeInfo) error {
	if info.SessionID == "" || info.ConversationID == "" {
		return fmt.Errorf("propose requires session and conversation ids")
	}
	h, err := m.handlerFor(info.SessionType)
	if err != nil {
		m.logger.Printf("SessionManager: ignoring propose %s: %v", info.SessionID, err)
		return err
	}

	m.mu.Lock()
	if m.proceeded[info.SessionID] {
		m.mu.Unlock()
		return nil
	}
	if p, ok := m.pending[info.ConversationID]; ok && p.SessionID == info.SessionID {
		m.mu.Unlock()
		return nil
	}
	// An active session means the conversation is already answered here,
	// whether or not its resolution record has expired.
	if _, ok := m.active[info.ConversationID]; ok {
		m.mu.Unlock()
		return m.settleStalePropose(ctx, info, resolution{outcome: HandledAccepted})
	}
	if res, ok := m.resolvedLocked(info.ConversationID); ok {
		m.mu.Unlock()
		return m.settleStalePropose(ctx, info, res)
	}
	if h.AutoProceed(info) {
		m.mu.Unlock()
		return m.ProceedWithSession(ctx, info.SessionID)
	}

	p := PendingSession{
		SessionID:      info.SessionID,
		ConversationID: info.ConversationID,
		SessionType:    info.SessionType,
		FromAddress:    info.FromAddress,
		AutoAnswer:     info.AutoAnswer,
		State:          SessionStateProposed,
		ReceivedAt:     time.Now(),
	}
	if old, ok := m.pending[info.ConversationID]; ok {
		m.logger.Printf("SessionManager: propose %s replaces pending session %s for conversation %s",
			info.SessionID, old.SessionID, info.ConversationID)
	}
	m.pending[info.ConversationID] = p
	m.mu.Unlock()

	m.emit(PendingSessionEvent{Session: p})

	if p.AutoAnswer {
		return m.AcceptPendingSession(ctx, p.ConversationID)
	}
	return nil
}

func (m *Manager) settleStalePropose(ctx context.Context, info ProposeInfo, res resolution) error {
	switch res.outcome {
	case HandledAccepted:
		m.logger.Printf("SessionManager: proceeding stale propose %s for already answered conversation %s",
			info.SessionID, info.ConversationID)
		return m.ProceedWithSession(ctx, info.SessionID)
	case HandledRejected:
		m.logger.Printf("SessionManager: rejecting stale propose %s for declined conversation %s",
			info.SessionID, info.ConversationID)
		return m.signaler.Reject(ctx, info.SessionID)
	default:
		m.logger.Printf("SessionManager: ignoring propose %s, conversation %s was handled by another client",
			info.SessionID, info.ConversationID)
		return nil
	}
}

// OnCancelPendingSession handles the far end withdrawing an invitation.
// Either id may be empty.
func (m *Manager) OnCancelPendingSession(sessionID, conversationID string) {
	m.mu.Lock()
	p, ok := m.findPendingLocked(sessionID, conversationID)
	if !ok {
		m.mu.Unlock()
		m.logger.Printf("SessionManager: ignoring cancel for unknown pending session %s", sessionID)
		return
	}
	delete(m.pending, p.ConversationID)
	m.mu.Unlock()

	m.emit(CancelPendingSessionEvent{SessionID: p.SessionID, ConversationID: p.ConversationID})
}

// OnHandledPendingSession handles notice that another client of the user
// answered or declined an invitation.
func (m *Manager) OnHandledPendingSession(sessionID, conversationID string) {
	m.mu.Lock()
	p, ok := m.findPendingLocked(sessionID, conversationID)
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, p.ConversationID)
	if _, local := m.resolvedLocked(p.ConversationID); !local {
		m.markResolvedLocked(p.ConversationID, HandledElsewhere)
	}
	m.mu.Unlock()

	m.emit(HandledPendingSessionEvent{SessionID: p.SessionID, ConversationID: p.ConversationID, Outcome: HandledElsewhere})
}

// OnIncomingSession registers a started signaling session. It replaces the
// pending record for the conversation.
func (m *Manager) OnIncomingSession(ctx context.Context, rtc RTCSession) error {
	if rtc == nil {
		return fmt.Errorf("nil session")
	}
	sessionType := rtc.SessionType()
	if _, err := m.handlerFor(sessionType); err != nil {
		return err
	}
	sessionID, conversationID := rtc.ID(), rtc.ConversationID()
	peer := rtc.PeerConnection()
	connState := webrtc.PeerConnectionStateNew
	if peer != nil {
		connState = peer.ConnectionState()
	}

	m.mu.Lock()
	if _, dup := m.sessions[sessionID]; dup {
		m.mu.Unlock()
		return nil
	}
	var replaced *activeRecord
	if old, ok := m.active[conversationID]; ok {
		replaced = old
		delete(m.sessions, old.session.SessionID)
	}
	delete(m.pending, conversationID)

	rec := &activeRecord{
		session: ActiveSession{
			SessionID:       sessionID,
			ConversationID:  conversationID,
			SessionType:     sessionType,
			State:           SessionStateStarted,
			ConnectionState: connState,
			Peer:            peer,
		},
		rtc: rtc,
	}
	m.active[conversationID] = rec
	m.sessions[sessionID] = conversationID
	started := rec.session
	m.mu.Unlock()

	if replaced != nil {
		m.logger.Printf("SessionManager: session %s replaces %s for conversation %s",
			sessionID, replaced.session.SessionID, conversationID)
		ended := replaced.session
		ended.State = SessionStateTerminated
		m.emit(SessionEndedEvent{Session: ended, Reason: "replaced"})
	}
	if peer != nil {
		peer.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			m.OnSessionConnectionState(sessionID, s)
		})
	}
	m.emit(SessionStartedEvent{Session: started})
	return nil
}

// OnSessionConnectionState records a media transport state change.
func (m *Manager) OnSessionConnectionState(sessionID string, state webrtc.PeerConnectionState) {
	m.mu.Lock()
	rec, ok := m.recordBySessionLocked(sessionID)
	if !ok {
		m.mu.Unlock()
		return
	}
	if rec.session.ConnectionState == state {
		m.mu.Unlock()
		return
	}
	rec.session.ConnectionState = state
	if state == webrtc.PeerConnectionStateConnected && rec.session.State == SessionStateStarted {
		rec.session.State = SessionStateActive
	}
	conversationID := rec.session.ConversationID
	m.mu.Unlock()

	m.emit(ConnectionStateEvent{SessionID: sessionID, ConversationID: conversationID, State: state})
}

// OnSessionTerminated removes an ended session. Unknown sessions are ignored.
func (m *Manager) OnSessionTerminated(sessionID, reason string) {
	m.mu.Lock()
	rec, ok := m.recordBySessionLocked(sessionID)
	if !ok {
		m.mu.Unlock()
		m.logger.Printf("SessionManager: ignoring terminate for unknown session %s", sessionID)
		return
	}
	delete(m.active, rec.session.ConversationID)
	delete(m.sessions, sessionID)
	delete(m.proceeded, sessionID)
	ended := rec.session
	ended.State = SessionStateTerminated
	m.mu.Unlock()

	m.emit(SessionEndedEvent{Session: ended, Reason: reason})
}

// ---- Inbound platform notifications ----

// OnConversationUpdate reconciles session state with a conversation snapshot.
func (m *Manager) OnConversationUpdate(update ConversationUpdate) {
	if update.ID == "" {
		return
	}
	if userID := m.config.UserID; userID != "" {
		if own, ok := update.Participant(userID); ok {
			m.mu.Lock()
			m.participants[update.ID] = own.ID
			m.mu.Unlock()
		}
	}
	for _, o := range m.observers() {
		o.ObserveConversation(update)
	}
	m.emit(ConversationUpdatedEvent{Update: update})
}

// OnStationAssociated records the user's station.
func (m *Manager) OnStationAssociated(station Station) {
	m.mu.Lock()
	m.station = &station
	m.mu.Unlock()
	m.logger.Printf("SessionManager: associated with station %s (persistent=%v)", station.ID, station.WebRTCPersistentEnabled)
}

// OnStationDisassociated clears the user's station.
func (m *Manager) OnStationDisassociated() {
	m.mu.Lock()
	m.station = nil
	m.mu.Unlock()
}

// Station returns the associated station, if any.
func (m *Manager) Station() (Station, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.station == nil {
		return Station{}, false
	}
	return *m.station, true
}

// ---- Application operations ----

// AcceptPendingSession answers the invitation for conversationID. The pending
// record is removed before any I/O so a concurrent reject gets
// ErrNoPendingSession. On failure the record is restored.
func (m *Manager) AcceptPendingSession(ctx context.Context, conversationID string) error {
	return m.resolvePending(ctx, conversationID, HandledAccepted)
}

// RejectPendingSession declines the invitation for conversationID.
func (m *Manager) RejectPendingSession(ctx context.Context, conversationID string) error {
	return m.resolvePending(ctx, conversationID, HandledRejected)
}

func (m *Manager) resolvePending(ctx context.Context, conversationID string, outcome HandledOutcome) error {
	m.mu.Lock()
	p, ok := m.pending[conversationID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w for conversation %s", ErrNoPendingSession, conversationID)
	}
	h, err := m.handlerFor(p.SessionType)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.pending, conversationID)
	prev, hadPrev := m.resolved[conversationID]
	m.markResolvedLocked(conversationID, outcome)
	m.mu.Unlock()

	if outcome == HandledAccepted {
		err = h.Accept(ctx, p)
	} else {
		err = h.Reject(ctx, p)
	}
	if err != nil {
		m.mu.Lock()
		if _, taken := m.pending[conversationID]; !taken {
			m.pending[conversationID] = p
		}
		if hadPrev {
			m.resolved[conversationID] = prev
		} else {
			delete(m.resolved, conversationID)
		}
		m.mu.Unlock()
		return fmt.Errorf("failed to %s pending session for conversation %s: %w", verb(outcome), conversationID, err)
	}

	m.emit(HandledPendingSessionEvent{SessionID: p.SessionID, ConversationID: conversationID, Outcome: outcome})
	return nil
}

func verb(outcome HandledOutcome) string {
	if outcome == HandledAccepted {
		return "accept"
	}
	return "reject"
}

// ProceedWithSession tells the signaling layer to continue with sessionID.
// Repeated calls for the same session are no-ops.
func (m *Manager) ProceedWithSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	m.mu.Lock()
	if m.proceeded[sessionID] {
		m.mu.Unlock()
		return nil
	}
	m.proceeded[sessionID] = true
	m.mu.Unlock()

	if err := m.signaler.Proceed(ctx, sessionID); err != nil {
		m.mu.Lock()
		delete(m.proceeded, sessionID)
		m.mu.Unlock()
		return fmt.Errorf("failed to proceed with session %s: %w", sessionID, err)
	}
	return nil
}

// AnswerConversation answers a call through the conversation API instead of
// signaling. Any pending invitation for the conversation is resolved with it,
// and later proposes for the conversation are treated as stale.
func (m *Manager) AnswerConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	participantID := m.participants[conversationID]
	if participantID == "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrParticipantUnknown, conversationID)
	}
	p, hadPending := m.pending[conversationID]
	delete(m.pending, conversationID)
	prev, hadPrev := m.resolved[conversationID]
	m.markResolvedLocked(conversationID, HandledAccepted)
	m.mu.Unlock()

	err := m.api.PatchParticipant(ctx, conversationID, participantID, ParticipantPatch{State: CallStateConnected})
	if err != nil {
		m.mu.Lock()
		if _, taken := m.pending[conversationID]; hadPending && !taken {
			m.pending[conversationID] = p
		}
		if hadPrev {
			m.resolved[conversationID] = prev
		} else {
			delete(m.resolved, conversationID)
		}
		m.mu.Unlock()
		return fmt.Errorf("failed to answer conversation %s: %w", conversationID, err)
	}

	if !hadPending {
		return nil
	}
	if p.SessionID != "" {
		if err := m.ProceedWithSession(ctx, p.SessionID); err != nil {
			m.logger.Printf("SessionManager: %v", err)
		}
	}
	m.emit(HandledPendingSessionEvent{SessionID: p.SessionID, ConversationID: conversationID, Outcome: HandledAccepted})
	return nil
}

// AcceptSession accepts media on a started session.
func (m *Manager) AcceptSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	rec, ok := m.recordBySessionLocked(sessionID)
	var rtc RTCSession
	var sessionType SessionType
	if ok {
		rtc, sessionType = rec.rtc, rec.session.SessionType
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	h, err := m.handlerFor(sessionType)
	if err != nil {
		return err
	}
	if err := h.AcceptSession(ctx, rtc); err != nil {
		return fmt.Errorf("failed to accept session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession hangs up the conversation's active session. Removal happens when
// the signaling layer reports the termination.
func (m *Manager) EndSession(ctx context.Context, conversationID string) error {
	s, rtc, h, err := m.activeFor(conversationID)
	if err != nil {
		return err
	}
	if err := h.End(ctx, s, rtc); err != nil {
		return fmt.Errorf("failed to end session for conversation %s: %w", conversationID, err)
	}
	return nil
}

// SetAudioMute mutes or unmutes the microphone for the conversation.
func (m *Manager) SetAudioMute(ctx context.Context, conversationID string, muted bool) error {
	s, rtc, h, err := m.activeFor(conversationID)
	if err != nil {
		return err
	}
	muter, ok := h.(AudioMuter)
	if !ok {
		return fmt.Errorf("%w: audio mute on %s", ErrUnsupported, s.SessionType)
	}
	if err := muter.SetAudioMute(ctx, s, rtc, muted); err != nil {
		return fmt.Errorf("failed to set audio mute for conversation %s: %w", conversationID, err)
	}
	m.applyMute(conversationID, MediaKindAudio, muted)
	return nil
}

// SetVideoMute stops or restarts the camera for the conversation.
func (m *Manager) SetVideoMute(ctx context.Context, conversationID string, muted bool) error {
	s, rtc, h, err := m.activeFor(conversationID)
	if err != nil {
		return err
	}
	muter, ok := h.(VideoMuter)
	if !ok {
		return fmt.Errorf("%w: video mute on %s", ErrUnsupported, s.SessionType)
	}
	if err := muter.SetVideoMute(ctx, s, rtc, muted); err != nil {
		return fmt.Errorf("failed to set video mute for conversation %s: %w", conversationID, err)
	}
	m.applyMute(conversationID, MediaKindVideo, muted)
	return nil
}

// SetConversationHeld holds or resumes the conversation.
func (m *Manager) SetConversationHeld(ctx context.Context, conversationID string, held bool) error {
	s, rtc, h, err := m.activeFor(conversationID)
	if err != nil {
		return err
	}
	holder, ok := h.(Holder)
	if !ok {
		return fmt.Errorf("%w: hold on %s", ErrUnsupported, s.SessionType)
	}
	if err := holder.SetHold(ctx, s, rtc, held); err != nil {
		return fmt.Errorf("failed to set hold for conversation %s: %w", conversationID, err)
	}
	m.applyHold(conversationID, held)
	return nil
}

// StartVideoConference joins the conference room identified by jid. The
// resulting propose is proceeded automatically.
func (m *Manager) StartVideoConference(ctx context.Context, jid string) (string, error) {
	if jid == "" {
		return "", fmt.Errorf("room jid is required")
	}
	id, err := m.signaler.Initiate(ctx, InitiateRequest{
		SessionType: SessionTypeCollaborateVideo,
		Jid:         jid,
		Audio:       true,
		Video:       true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start video conference: %w", err)
	}
	return id, nil
}

// StartScreenShare starts sharing the screen into the conversation.
func (m *Manager) StartScreenShare(ctx context.Context, conversationID string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("conversation id is required")
	}
	id, err := m.signaler.Initiate(ctx, InitiateRequest{
		SessionType:    SessionTypeScreenShare,
		ConversationID: conversationID,
		Video:          true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start screen share: %w", err)
	}
	return id, nil
}

// ---- Lookups ----

// PendingSessions returns the pending invitations ordered by arrival.
func (m *Manager) PendingSessions() []PendingSession {
	m.mu.Lock()
	out := make([]PendingSession, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// ActiveSessions returns snapshots of all active sessions.
func (m *Manager) ActiveSessions() []ActiveSession {
	m.mu.Lock()
	out := make([]ActiveSession, 0, len(m.active))
	for _, rec := range m.active {
		out = append(out, rec.session)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out
}

// Lookup returns a snapshot of the conversation's active session.
func (m *Manager) Lookup(conversationID string) (ActiveSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[conversationID]
	if !ok {
		return ActiveSession{}, false
	}
	return rec.session, true
}

// PendingSession returns the conversation's pending invitation.
func (m *Manager) PendingSession(conversationID string) (PendingSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[conversationID]
	return p, ok
}

// HasActiveSoftphoneSession reports whether a voice call is in progress.
func (m *Manager) HasActiveSoftphoneSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.active {
		if rec.session.SessionType == SessionTypeSoftphone {
			return true
		}
	}
	return false
}

// PersistentConnectionEnabled reports whether the associated station keeps
// an always-on softphone connection.
func (m *Manager) PersistentConnectionEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.station != nil && m.station.WebRTCPersistentEnabled
}

// ---- Internal helpers ----

func (m *Manager) activeFor(conversationID string) (ActiveSession, RTCSession, Handler, error) {
	m.mu.Lock()
	rec, ok := m.active[conversationID]
	var s ActiveSession
	var rtc RTCSession
	if ok {
		s, rtc = rec.session, rec.rtc
	}
	m.mu.Unlock()
	if !ok {
		return ActiveSession{}, nil, nil, fmt.Errorf("%w for conversation %s", ErrSessionNotFound, conversationID)
	}
	h, err := m.handlerFor(s.SessionType)
	if err != nil {
		return ActiveSession{}, nil, nil, err
	}
	return s, rtc, h, nil
}

func (m *Manager) applyMute(conversationID string, kind MediaKind, muted bool) {
	m.mu.Lock()
	rec, ok := m.active[conversationID]
	if !ok {
		m.mu.Unlock()
		return
	}
	current := &rec.session.Muted
	if kind == MediaKindVideo {
		current = &rec.session.VideoMuted
	}
	if *current == muted {
		m.mu.Unlock()
		return
	}
	*current = muted
	sessionID := rec.session.SessionID
	m.mu.Unlock()

	m.emit(MuteChangedEvent{SessionID: sessionID, ConversationID: conversationID, Kind: kind, Muted: muted})
}

func (m *Manager) applyHold(conversationID string, held bool) {
	m.mu.Lock()
	ev, changed := m.setHeldLocked(conversationID, held)
	m.mu.Unlock()
	if changed {
		m.emit(ev)
	}
}

func (m *Manager) setHeldLocked(conversationID string, held bool) (HoldChangedEvent, bool) {
	rec, ok := m.active[conversationID]
	if !ok || rec.session.Held == held {
		return HoldChangedEvent{}, false
	}
	rec.session.Held = held
	next := SessionStateActive
	if held {
		next = SessionStateHeld
	}
	if CanTransition(rec.session.State, next) {
		rec.session.State = next
	}
	return HoldChangedEvent{SessionID: rec.session.SessionID, ConversationID: conversationID, Held: held}, true
}

// reconcileSoftphoneCall applies the user's latest call leg from a
// conversation update.
func (m *Manager) reconcileSoftphoneCall(conversationID string, call Call, fromAddress string) {
	var events []Event

	m.mu.Lock()
	rec, hasActive := m.active[conversationID]
	if hasActive && rec.session.SessionType == SessionTypeSoftphone && !call.Ended() {
		if rec.session.Muted != call.Muted {
			rec.session.Muted = call.Muted
			events = append(events, MuteChangedEvent{
				SessionID:      rec.session.SessionID,
				ConversationID: conversationID,
				Kind:           MediaKindAudio,
				Muted:          call.Muted,
			})
		}
		if ev, changed := m.setHeldLocked(conversationID, call.Held); changed {
			events = append(events, ev)
		}
	}

	p, hasPending := m.pending[conversationID]
	_, isResolved := m.resolvedLocked(conversationID)
	persistent := m.station != nil && m.station.WebRTCPersistentEnabled
	switch {
	case !hasPending && !hasActive && !isResolved && persistent &&
		call.State == CallStateAlerting && call.Direction == DirectionInbound:
		p = PendingSession{
			ConversationID: conversationID,
			SessionType:    SessionTypeSoftphone,
			FromAddress:    fromAddress,
			State:          SessionStateProposed,
			ReceivedAt:     time.Now(),
		}
		m.pending[conversationID] = p
		events = append(events, PendingSessionEvent{Session: p})
	case hasPending && p.SessionID == "" && call.Ended():
		delete(m.pending, conversationID)
		events = append(events, CancelPendingSessionEvent{ConversationID: conversationID})
	case hasPending && p.SessionID == "" && call.State == CallStateConnected:
		delete(m.pending, conversationID)
		m.markResolvedLocked(conversationID, HandledElsewhere)
		events = append(events, HandledPendingSessionEvent{ConversationID: conversationID, Outcome: HandledElsewhere})
	}
	m.mu.Unlock()

	m.emit(events...)
}

func (m *Manager) patchOwnParticipant(ctx context.Context, conversationID string, patch ParticipantPatch) error {
	m.mu.Lock()
	participantID := m.participants[conversationID]
	m.mu.Unlock()
	if participantID == "" {
		return fmt.Errorf("%w: %s", ErrParticipantUnknown, conversationID)
	}
	if m.api == nil {
		return fmt.Errorf("no conversation API configured")
	}
	return m.api.PatchParticipant(ctx, conversationID, participantID, patch)
}

func (m *Manager) findPendingLocked(sessionID, conversationID string) (PendingSession, bool) {
	if conversationID != "" {
		p, ok := m.pending[conversationID]
		if ok && (sessionID == "" || p.SessionID == sessionID) {
			return p, true
		}
		return PendingSession{}, false
	}
	if sessionID == "" {
		return PendingSession{}, false
	}
	for _, p := range m.pending {
		if p.SessionID == sessionID {
			return p, true
		}
	}
	return PendingSession{}, false
}

func (m *Manager) recordBySessionLocked(sessionID string) (*activeRecord, bool) {
	conversationID, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	rec, ok := m.active[conversationID]
	return rec, ok
}

func (m *Manager) resolvedLocked(conversationID string) (resolution, bool) {
	res, ok := m.resolved[conversationID]
	if !ok {
		return resolution{}, false
	}
	if time.Since(res.at) > m.config.ResolvedRetention {
		delete(m.resolved, conversationID)
		return resolution{}, false
	}
	return res, true
}

func (m *Manager) markResolvedLocked(conversationID string, outcome HandledOutcome) {
	now := time.Now()
	for id, res := range m.resolved {
		if now.Sub(res.at) > m.config.ResolvedRetention {
			delete(m.resolved, id)
		}
	}
	m.resolved[conversationID] = resolution{outcome: outcome, at: now}
}

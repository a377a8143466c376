/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package headset decides which of a user's client instances drives the
// physical headset, and relays call-control commands to the vendor driver
// while this instance holds controls.
package headset

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tejzpr/softphone-go-sdk/changequeue"
	"github.com/tejzpr/softphone-go-sdk/messagebus"
)

// Logger is the interface for orchestrator logging. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Config holds the configuration for the Orchestrator
type Config struct {
	Enabled            bool          // Headset support; when false every operation is a no-op
	RequestType        RequestType   // Requester class declared when negotiating
	NegotiationTimeout time.Duration // Wait before claiming controls
	SendTimeout        time.Duration // Bound on each broadcast send
	Logger             Logger
}

// DefaultConfig returns the default configuration for the Orchestrator
func DefaultConfig() *Config {
	return &Config{
		Enabled:            true,
		RequestType:        RequestTypeStandard,
		NegotiationTimeout: 1500 * time.Millisecond,
		SendTimeout:        5 * time.Second,
	}
}

// Orchestrator runs the headset-controls negotiation for one client instance.
type Orchestrator struct {
	config *Config
	driver Driver
	bus    messagebus.Bus
	queue  *changequeue.Queue
	calls  CallStateProvider
	logger Logger

	mu          sync.Mutex
	state       State
	deviceLabel string
	timer       *time.Timer
	timerGen    uint64
	unsubscribe []func()

	listenersMu    sync.RWMutex
	listeners      []listener
	nextListenerID uint64
}

type listener struct {
	id uint64
	fn func(Event)
}

// New creates an orchestrator. queue is owned by the caller; a nil queue gets a
// private one. calls may be nil when no session state is available.
func New(driver Driver, bus messagebus.Bus, queue *changequeue.Queue, calls CallStateProvider, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.NegotiationTimeout <= 0 {
		config.NegotiationTimeout = DefaultConfig().NegotiationTimeout
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultConfig().SendTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	if queue == nil {
		queue = changequeue.New(changequeue.WithLogger(logger))
	}
	o := &Orchestrator{
		config: config,
		driver: driver,
		bus:    bus,
		queue:  queue,
		calls:  calls,
		logger: logger,
	}
	if _, ok := Priority(config.RequestType); !ok {
		logger.Printf("HeadsetOrchestrator: unknown request type %q, using standard priority", config.RequestType)
	}
	return o
}

// Start subscribes to the message bus and the driver's device events.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.unsubscribe) > 0 {
		return
	}
	if o.bus != nil {
		o.unsubscribe = append(o.unsubscribe, o.bus.Subscribe(o.HandleMessage))
	}
	if o.driver != nil {
		o.unsubscribe = append(o.unsubscribe, o.driver.Subscribe(o.handleDeviceEvent))
	}
}

// Stop unsubscribes from the bus and driver and abandons any negotiation.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	unsubs := o.unsubscribe
	o.unsubscribe = nil
	var ev StateChanged
	if o.state == StateNegotiating {
		ev = o.enterStateLocked(StateNotStarted)
	}
	o.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	o.emitTransition(ev)
}

// State returns the current orchestration state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// OnEvent registers fn for the headset event stream and returns a function
// that removes it.
func (o *Orchestrator) OnEvent(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	o.listenersMu.Lock()
	o.nextListenerID++
	id := o.nextListenerID
	o.listeners = append(o.listeners, listener{id: id, fn: fn})
	o.listenersMu.Unlock()

	return func() {
		o.listenersMu.Lock()
		defer o.listenersMu.Unlock()
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// UpdateAudioInputDevice reacts to the user selecting the audio input label.
// An empty label means no device.
func (o *Orchestrator) UpdateAudioInputDevice(ctx context.Context, label string) error {
	if !o.config.Enabled {
		return nil
	}
	supported := label != "" && o.driver != nil && o.driver.IsSupported(label)

	o.mu.Lock()
	o.deviceLabel = label
	state := o.state

	if supported {
		switch state {
		case StateNotStarted, StateNegotiating:
			ev := o.enterStateLocked(StateNegotiating)
			o.armTimerLocked()
			o.mu.Unlock()

			o.emitTransition(ev)
			return o.sendRequest(ctx)
		case StateHasControls:
			o.mu.Unlock()
			o.applyDevice(label, "")
			o.emit(ImplementationChanged{DeviceLabel: label})
			return nil
		default:
			o.mu.Unlock()
			o.emit(StateChanged{From: StateAlternativeClient, To: StateAlternativeClient})
			return nil
		}
	}

	switch state {
	case StateAlternativeClient:
		o.mu.Unlock()
		return nil
	case StateHasControls:
		ev := o.enterStateLocked(StateNotStarted)
		o.mu.Unlock()

		o.applyDevice("", "")
		o.broadcast(messagebus.HeadsetControlsChanged{HasControls: false})
		o.emitTransition(ev)
	default:
		ev := o.enterStateLocked(StateNotStarted)
		o.mu.Unlock()
		o.emitTransition(ev)
	}
	o.emit(ImplementationChanged{DeviceLabel: label, NoVendor: true})
	return nil
}

// HandleMessage processes an arbitration message from the bus.
func (o *Orchestrator) HandleMessage(in messagebus.Inbound) {
	if !o.config.Enabled || in.FromMyClient {
		return
	}
	switch m := in.Message.(type) {
	case messagebus.HeadsetControlsRequest:
		o.handleRequest(in.ID, m)
	case messagebus.HeadsetControlsRejection:
		o.handleRejection(m)
	case messagebus.HeadsetControlsChanged:
		o.handleChanged(m)
	default:
		o.logger.Printf("HeadsetOrchestrator: ignoring message of type %T", in.Message)
	}
}

func (o *Orchestrator) handleRequest(requestID string, req messagebus.HeadsetControlsRequest) {
	peer, ok := Priority(req.RequestType)
	if !ok {
		o.logger.Printf("HeadsetOrchestrator: peer sent unknown request type %q, using standard priority", req.RequestType)
	}
	own, _ := Priority(o.config.RequestType)

	// Session state is read before taking o.mu; the provider has its own locks.
	activeCall := o.hasActiveCall()

	// A lower-priority peer is rejected in every state, including idle.
	if peer < own {
		o.broadcast(messagebus.HeadsetControlsRejection{
			RequestID: requestID,
			Reason:    o.rejectionReason(activeCall),
		})
		return
	}

	o.mu.Lock()
	switch o.state {
	case StateNegotiating:
		ev := o.enterStateLocked(StateAlternativeClient)
		o.mu.Unlock()
		o.emitTransition(ev)
	case StateHasControls:
		o.mu.Unlock()
		if activeCall || o.persistentConnection() {
			o.broadcast(messagebus.HeadsetControlsRejection{
				RequestID: requestID,
				Reason:    messagebus.RejectionReasonActiveCall,
			})
		}
	default:
		o.mu.Unlock()
	}
}

func (o *Orchestrator) handleRejection(rej messagebus.HeadsetControlsRejection) {
	o.mu.Lock()
	switch o.state {
	case StateNegotiating:
		ev := o.enterStateLocked(StateAlternativeClient)
		o.mu.Unlock()
		o.emitTransition(ev)
	case StateHasControls:
		o.mu.Unlock()
		o.logger.Printf("HeadsetOrchestrator: ignoring late rejection (%s) for request %s, controls already held", rej.Reason, rej.RequestID)
	default:
		o.mu.Unlock()
	}
}

func (o *Orchestrator) handleChanged(changed messagebus.HeadsetControlsChanged) {
	o.mu.Lock()
	state := o.state

	if changed.HasControls {
		if state != StateHasControls && state != StateNegotiating {
			o.mu.Unlock()
			return
		}
		ev := o.enterStateLocked(StateAlternativeClient)
		o.mu.Unlock()

		o.queue.Clear()
		o.applyDevice("", MicChangeReasonAlternativeClient)
		if state == StateHasControls {
			o.broadcast(messagebus.HeadsetControlsChanged{HasControls: false})
		}
		o.emitTransition(ev)
		return
	}

	label := o.deviceLabel
	if state != StateAlternativeClient || label == "" || o.driver == nil || !o.driver.IsSupported(label) {
		o.mu.Unlock()
		return
	}
	ev := o.enterStateLocked(StateNegotiating)
	o.armTimerLocked()
	o.mu.Unlock()

	o.emitTransition(ev)
	ctx, cancel := context.WithTimeout(context.Background(), o.config.SendTimeout)
	defer cancel()
	if err := o.sendRequest(ctx); err != nil {
		o.logger.Printf("HeadsetOrchestrator: renegotiation request failed: %v", err)
	}
}

func (o *Orchestrator) negotiationTimedOut(gen uint64) {
	o.mu.Lock()
	if o.state != StateNegotiating || gen != o.timerGen {
		o.mu.Unlock()
		return
	}
	o.timer = nil
	ev := o.enterStateLocked(StateHasControls)
	label := o.deviceLabel
	o.mu.Unlock()

	o.broadcast(messagebus.HeadsetControlsChanged{HasControls: true})
	o.applyDevice(label, "")
	o.emitTransition(ev)
	o.emit(ImplementationChanged{DeviceLabel: label})
}

// enterStateLocked is the only place state changes. Leaving or refreshing
// negotiating always stops the pending timer. Caller holds o.mu.
func (o *Orchestrator) enterStateLocked(to State) StateChanged {
	from := o.state
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
		o.timerGen++
	}
	o.state = to
	if from != to {
		o.logger.Printf("HeadsetOrchestrator: %s -> %s", from, to)
	}
	return StateChanged{From: from, To: to}
}

// armTimerLocked starts the negotiation timeout. Caller holds o.mu.
func (o *Orchestrator) armTimerLocked() {
	o.timerGen++
	gen := o.timerGen
	o.timer = time.AfterFunc(o.config.NegotiationTimeout, func() {
		o.negotiationTimedOut(gen)
	})
}

func (o *Orchestrator) sendRequest(ctx context.Context) error {
	if o.bus == nil {
		return nil
	}
	if _, err := o.bus.Send(ctx, messagebus.HeadsetControlsRequest{RequestType: o.config.RequestType}); err != nil {
		return fmt.Errorf("failed to send headset controls request: %w", err)
	}
	return nil
}

func (o *Orchestrator) broadcast(msg messagebus.Message) {
	if o.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.config.SendTimeout)
	defer cancel()
	if _, err := o.bus.Send(ctx, msg); err != nil {
		o.logger.Printf("HeadsetOrchestrator: failed to send %s: %v", msg.Method(), err)
	}
}

func (o *Orchestrator) applyDevice(label, reason string) {
	if o.driver == nil {
		return
	}
	o.queue.Enqueue(func(ctx context.Context) (any, error) {
		return nil, o.driver.ActiveMicChange(ctx, label, reason)
	})
}

func (o *Orchestrator) rejectionReason(activeCall bool) RejectionReason {
	switch {
	case o.config.RequestType == RequestTypeMediaHelper:
		return messagebus.RejectionReasonMediaHelper
	case activeCall:
		return messagebus.RejectionReasonActiveCall
	default:
		return messagebus.RejectionReasonPriority
	}
}

func (o *Orchestrator) hasActiveCall() bool {
	return o.calls != nil && o.calls.HasActiveSoftphoneSession()
}

func (o *Orchestrator) persistentConnection() bool {
	return o.calls != nil && o.calls.PersistentConnectionEnabled()
}

func (o *Orchestrator) handleDeviceEvent(ev DeviceEvent) {
	if ev == nil {
		return
	}
	o.emit(ev)
}

func (o *Orchestrator) emitTransition(ev StateChanged) {
	if ev.From == ev.To {
		return
	}
	o.emit(ev)
}

func (o *Orchestrator) emit(ev Event) {
	o.listenersMu.RLock()
	fns := make([]func(Event), 0, len(o.listeners))
	for _, l := range o.listeners {
		fns = append(fns, l.fn)
	}
	o.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// ---- Call-control relays ----

// IncomingCall rings the device. It returns nil when this instance does not
// hold controls.
func (o *Orchestrator) IncomingCall(call CallInfo) *changequeue.Future {
	return o.relay("incomingCall", func(ctx context.Context) error {
		return o.driver.IncomingCall(ctx, call)
	})
}

// OutgoingCall shows an outbound call on the device.
func (o *Orchestrator) OutgoingCall(call CallInfo) *changequeue.Future {
	return o.relay("outgoingCall", func(ctx context.Context) error {
		return o.driver.OutgoingCall(ctx, call)
	})
}

// AnswerCall moves the device to the answered state.
func (o *Orchestrator) AnswerCall(conversationID string) *changequeue.Future {
	return o.relay("answerCall", func(ctx context.Context) error {
		return o.driver.AnswerCall(ctx, conversationID)
	})
}

// RejectCall stops ringing for a declined call.
func (o *Orchestrator) RejectCall(conversationID string) *changequeue.Future {
	return o.relay("rejectCall", func(ctx context.Context) error {
		return o.driver.RejectCall(ctx, conversationID)
	})
}

// EndCall clears the call from the device.
func (o *Orchestrator) EndCall(conversationID string) *changequeue.Future {
	return o.relay("endCall", func(ctx context.Context) error {
		return o.driver.EndCall(ctx, conversationID)
	})
}

// SetMute sets the mute light.
func (o *Orchestrator) SetMute(muted bool) *changequeue.Future {
	return o.relay("setMute", func(ctx context.Context) error {
		return o.driver.SetMute(ctx, muted)
	})
}

// SetHold sets the hold light for the conversation.
func (o *Orchestrator) SetHold(conversationID string, held bool) *changequeue.Future {
	return o.relay("setHold", func(ctx context.Context) error {
		return o.driver.SetHold(ctx, conversationID, held)
	})
}

func (o *Orchestrator) relay(name string, fn func(ctx context.Context) error) *changequeue.Future {
	if !o.config.Enabled || o.driver == nil {
		return nil
	}
	if o.State() != StateHasControls {
		return nil
	}
	return o.queue.Enqueue(func(ctx context.Context) (any, error) {
		if err := fn(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, nil
	})
}

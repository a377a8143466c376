/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package headset

import "context"

// Reasons passed to Driver.ActiveMicChange.
const (
	MicChangeReasonAlternativeClient = "alternativeClient"
)

// CallInfo describes a call the device should ring or show.
type CallInfo struct {
	ConversationID string
	ContactName    string
	FromAddress    string
	AutoAnswer     bool
}

// Driver is the vendor headset library. Implementations must be safe for
// concurrent use, although the orchestrator only calls them from its change queue.
type Driver interface {
	// IsSupported reports whether a vendor implementation exists for the device label.
	IsSupported(label string) bool
	// ActiveMicChange binds the driver to label. An empty label releases the device.
	ActiveMicChange(ctx context.Context, label, reason string) error
	IncomingCall(ctx context.Context, call CallInfo) error
	OutgoingCall(ctx context.Context, call CallInfo) error
	AnswerCall(ctx context.Context, conversationID string) error
	RejectCall(ctx context.Context, conversationID string) error
	EndCall(ctx context.Context, conversationID string) error
	SetMute(ctx context.Context, muted bool) error
	SetHold(ctx context.Context, conversationID string, held bool) error
	// Subscribe registers fn for button presses and connection status.
	Subscribe(fn func(DeviceEvent)) (unsubscribe func())
}

// CallStateProvider exposes the call state the orchestrator needs when a
// peer asks for controls.
type CallStateProvider interface {
	HasActiveSoftphoneSession() bool
	PersistentConnectionEnabled() bool
}

// ---- Device Events ----

// DeviceEvent is emitted by a Driver. It is one of DeviceAnsweredCall,
// DeviceRejectedCall, DeviceEndedCall, DeviceMuteChanged, DeviceHoldChanged or
// ConnectionStatusChanged.
type DeviceEvent interface {
	Event
	isDeviceEvent()
}

// DeviceAnsweredCall is sent when the answer button is pressed.
type DeviceAnsweredCall struct{ ConversationID string }

// DeviceRejectedCall is sent when the reject button is pressed.
type DeviceRejectedCall struct{ ConversationID string }

// DeviceEndedCall is sent when the end-call button is pressed.
type DeviceEndedCall struct{ ConversationID string }

// DeviceMuteChanged is sent when the mute button toggles.
type DeviceMuteChanged struct {
	ConversationID string
	Muted          bool
}

// DeviceHoldChanged is sent when the hold button toggles.
type DeviceHoldChanged struct {
	ConversationID string
	Held           bool
}

// ConnectionStatusChanged reports the driver's link to the device.
type ConnectionStatusChanged struct {
	Status string
}

func (DeviceAnsweredCall) isHeadsetEvent()      {}
func (DeviceRejectedCall) isHeadsetEvent()      {}
func (DeviceEndedCall) isHeadsetEvent()         {}
func (DeviceMuteChanged) isHeadsetEvent()       {}
func (DeviceHoldChanged) isHeadsetEvent()       {}
func (ConnectionStatusChanged) isHeadsetEvent() {}

func (DeviceAnsweredCall) isDeviceEvent()      {}
func (DeviceRejectedCall) isDeviceEvent()      {}
func (DeviceEndedCall) isDeviceEvent()         {}
func (DeviceMuteChanged) isDeviceEvent()       {}
func (DeviceHoldChanged) isDeviceEvent()       {}
func (ConnectionStatusChanged) isDeviceEvent() {}

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package headset

import (
	"github.com/tejzpr/softphone-go-sdk/messagebus"
)

// ---- Orchestration State ----

// State is the headset-control ownership state of one client instance
type State int

const (
	StateNotStarted State = iota
	StateNegotiating
	StateAlternativeClient
	StateHasControls
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "notStarted"
	case StateNegotiating:
		return "negotiating"
	case StateAlternativeClient:
		return "alternativeClient"
	case StateHasControls:
		return "hasControls"
	default:
		return "unknown"
	}
}

// ---- Requester Priority ----

// RequestType is the requester class this instance declares when negotiating
type RequestType = messagebus.RequestType

// RejectionReason explains a refusal sent to a lower-priority requester
type RejectionReason = messagebus.RejectionReason

const (
	RequestTypeStandard    = messagebus.RequestTypeStandard
	RequestTypePrioritized = messagebus.RequestTypePrioritized
	RequestTypeMediaHelper = messagebus.RequestTypeMediaHelper
)

var requestPriorities = map[RequestType]int{
	RequestTypeStandard:    1,
	RequestTypePrioritized: 2,
	RequestTypeMediaHelper: 3,
}

// Priority returns the numeric rank of rt. Unknown types rank as standard and
// ok is false.
func Priority(rt RequestType) (priority int, ok bool) {
	p, ok := requestPriorities[rt]
	if !ok {
		return requestPriorities[RequestTypeStandard], false
	}
	return p, true
}

// ---- Headset Events ----

// Event is a notification on the headset event stream. It is one of
// StateChanged, ImplementationChanged or a DeviceEvent forwarded from the driver.
type Event interface {
	isHeadsetEvent()
}

// StateChanged reports an orchestration transition. From equals To when the
// current state is re-announced.
type StateChanged struct {
	From State
	To   State
}

// ImplementationChanged reports which device the SDK drives. NoVendor is set
// when the selected device has no supported vendor implementation.
type ImplementationChanged struct {
	DeviceLabel string
	NoVendor    bool
}

func (StateChanged) isHeadsetEvent()          {}
func (ImplementationChanged) isHeadsetEvent() {}

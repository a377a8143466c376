/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package messagebus carries headset-arbitration messages between client
// instances that belong to the same user.
package messagebus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Method discriminates arbitration messages on the wire.
type Method string

const (
	MethodHeadsetControlsRequest   Method = "headsetControlsRequest"
	MethodHeadsetControlsRejection Method = "headsetControlsRejection"
	MethodHeadsetControlsChanged   Method = "headsetControlsChanged"
)

// RequestType is the requester class declared in a controls request.
type RequestType string

const (
	RequestTypeStandard    RequestType = "standard"
	RequestTypePrioritized RequestType = "prioritized"
	RequestTypeMediaHelper RequestType = "mediaHelper"
)

// RejectionReason explains why a peer refused a controls request.
type RejectionReason string

const (
	RejectionReasonMediaHelper RejectionReason = "mediaHelper"
	RejectionReasonPriority    RejectionReason = "priority"
	RejectionReasonActiveCall  RejectionReason = "activeCall"
)

// ErrUnknownMethod is returned when decoding a message with an unrecognized method.
var ErrUnknownMethod = errors.New("unknown arbitration method")

// Message is one of HeadsetControlsRequest, HeadsetControlsRejection or
// HeadsetControlsChanged.
type Message interface {
	Method() Method
	isMessage()
}

// HeadsetControlsRequest asks peers for permission to drive the headset.
type HeadsetControlsRequest struct {
	RequestType RequestType `json:"requestType"`
}

// HeadsetControlsRejection refuses the request identified by RequestID.
type HeadsetControlsRejection struct {
	RequestID string          `json:"requestId"`
	Reason    RejectionReason `json:"reason"`
}

// HeadsetControlsChanged announces that the sender gained or gave up controls.
type HeadsetControlsChanged struct {
	HasControls bool `json:"hasControls"`
}

func (HeadsetControlsRequest) Method() Method   { return MethodHeadsetControlsRequest }
func (HeadsetControlsRejection) Method() Method { return MethodHeadsetControlsRejection }
func (HeadsetControlsChanged) Method() Method   { return MethodHeadsetControlsChanged }

func (HeadsetControlsRequest) isMessage()   {}
func (HeadsetControlsRejection) isMessage() {}
func (HeadsetControlsChanged) isMessage()   {}

// envelope is the JSON-RPC 2.0 shape of a message.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  Method          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Encode renders msg as a JSON-RPC 2.0 notification carrying id.
func Encode(id string, msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	params, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("error marshaling %s params: %w", msg.Method(), err)
	}
	return json.Marshal(envelope{
		JSONRPC: "2.0",
		ID:      id,
		Method:  msg.Method(),
		Params:  params,
	})
}

// Decode parses a JSON-RPC 2.0 arbitration message.
func Decode(data []byte) (string, Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("error parsing arbitration message: %w", err)
	}
	if env.JSONRPC != "2.0" {
		return "", nil, fmt.Errorf("unsupported jsonrpc version %q", env.JSONRPC)
	}

	var msg Message
	var err error
	switch env.Method {
	case MethodHeadsetControlsRequest:
		var m HeadsetControlsRequest
		err = decodeParams(env.Params, &m)
		msg = m
	case MethodHeadsetControlsRejection:
		var m HeadsetControlsRejection
		err = decodeParams(env.Params, &m)
		msg = m
	case MethodHeadsetControlsChanged:
		var m HeadsetControlsChanged
		err = decodeParams(env.Params, &m)
		msg = m
	default:
		return env.ID, nil, fmt.Errorf("%w: %q", ErrUnknownMethod, env.Method)
	}
	if err != nil {
		return env.ID, nil, fmt.Errorf("error parsing %s params: %w", env.Method, err)
	}
	return env.ID, msg, nil
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tejzpr/softphone-go-sdk/headset"
	"github.com/tejzpr/softphone-go-sdk/session"
)

// consoleDriver prints headset commands and turns typed commands into
// button presses.
type consoleDriver struct {
	supported []string

	mu      sync.Mutex
	handler func(headset.DeviceEvent)
}

func newConsoleDriver(supported []string) *consoleDriver {
	return &consoleDriver{supported: supported}
}

func (d *consoleDriver) IsSupported(label string) bool {
	for _, s := range d.supported {
		if s != "" && strings.Contains(strings.ToLower(label), strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func (d *consoleDriver) ActiveMicChange(ctx context.Context, label, reason string) error {
	if label == "" {
		fmt.Printf("[headset] released (%s)\n", orDash(reason))
		return nil
	}
	fmt.Printf("[headset] driving %q\n", label)
	return nil
}

func (d *consoleDriver) IncomingCall(ctx context.Context, call headset.CallInfo) error {
	fmt.Printf("[headset] ringing for %s from %s (auto-answer=%v)\n", call.ConversationID, orDash(call.FromAddress), call.AutoAnswer)
	return nil
}

func (d *consoleDriver) OutgoingCall(ctx context.Context, call headset.CallInfo) error {
	fmt.Printf("[headset] outgoing call %s\n", call.ConversationID)
	return nil
}

func (d *consoleDriver) AnswerCall(ctx context.Context, conversationID string) error {
	fmt.Printf("[headset] answered %s\n", conversationID)
	return nil
}

func (d *consoleDriver) RejectCall(ctx context.Context, conversationID string) error {
	fmt.Printf("[headset] stopped ringing for %s\n", conversationID)
	return nil
}

func (d *consoleDriver) EndCall(ctx context.Context, conversationID string) error {
	fmt.Printf("[headset] ended %s\n", conversationID)
	return nil
}

func (d *consoleDriver) SetMute(ctx context.Context, muted bool) error {
	fmt.Printf("[headset] mute light %v\n", muted)
	return nil
}

func (d *consoleDriver) SetHold(ctx context.Context, conversationID string, held bool) error {
	fmt.Printf("[headset] hold light %v for %s\n", held, conversationID)
	return nil
}

func (d *consoleDriver) Subscribe(fn func(headset.DeviceEvent)) func() {
	d.mu.Lock()
	d.handler = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.handler = nil
		d.mu.Unlock()
	}
}

// press parses "answer|reject|end <conv>", "mute|hold <conv> on|off".
func (d *consoleDriver) press(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("usage: answer|reject|end <conversation> or mute|hold <conversation> on|off")
	}
	conv := fields[1]
	on := len(fields) > 2 && fields[2] == "on"

	var ev headset.DeviceEvent
	switch fields[0] {
	case "answer":
		ev = headset.DeviceAnsweredCall{ConversationID: conv}
	case "reject":
		ev = headset.DeviceRejectedCall{ConversationID: conv}
	case "end":
		ev = headset.DeviceEndedCall{ConversationID: conv}
	case "mute":
		ev = headset.DeviceMuteChanged{ConversationID: conv, Muted: on}
	case "hold":
		ev = headset.DeviceHoldChanged{ConversationID: conv, Held: on}
	default:
		return fmt.Errorf("unknown button %q", fields[0])
	}

	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(ev)
	}
	return nil
}

// consoleSignaler stands in for a signaling client by printing what it would send.
type consoleSignaler struct{}

func (consoleSignaler) Proceed(ctx context.Context, sessionID string) error {
	fmt.Printf("[signaling] proceed %s\n", sessionID)
	return nil
}

func (consoleSignaler) Reject(ctx context.Context, sessionID string) error {
	fmt.Printf("[signaling] reject %s\n", sessionID)
	return nil
}

func (consoleSignaler) Initiate(ctx context.Context, req session.InitiateRequest) (string, error) {
	return "", fmt.Errorf("outbound %s sessions need a signaling client", req.SessionType)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

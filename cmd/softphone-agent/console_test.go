/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"testing"

	"github.com/tejzpr/softphone-go-sdk/headset"
)

func TestConsoleDriver_IsSupported(t *testing.T) {
	d := newConsoleDriver([]string{"jabra", "", "poly"})
	tests := map[string]bool{
		"Jabra Evolve2 65":   true,
		"Poly Voyager Focus": true,
		"MacBook Pro Mic":    false,
		"":                   false,
	}
	for label, want := range tests {
		if got := d.IsSupported(label); got != want {
			t.Errorf("IsSupported(%q) = %v, want %v", label, got, want)
		}
	}
}

func TestConsoleDriver_Press(t *testing.T) {
	d := newConsoleDriver(nil)
	var got []headset.DeviceEvent
	d.Subscribe(func(ev headset.DeviceEvent) { got = append(got, ev) })

	for _, line := range []string{"answer c1", "mute c1 on", "hold c1 off", "end c1"} {
		if err := d.press(line); err != nil {
			t.Fatalf("press(%q) failed: %v", line, err)
		}
	}
	if len(got) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(got))
	}
	if m, ok := got[1].(headset.DeviceMuteChanged); !ok || !m.Muted || m.ConversationID != "c1" {
		t.Errorf("unexpected mute event %+v", got[1])
	}
	if h, ok := got[2].(headset.DeviceHoldChanged); !ok || h.Held {
		t.Errorf("unexpected hold event %+v", got[2])
	}

	for _, bad := range []string{"answer", "wave c1"} {
		if err := d.press(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

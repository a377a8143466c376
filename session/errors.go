/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import "errors"

var (
	// ErrNoPendingSession is returned when accepting or rejecting a conversation
	// that has no pending invitation, including the loser of a concurrent
	// accept/reject pair.
	ErrNoPendingSession = errors.New("no matching pending session")

	// ErrSessionNotFound is returned for operations on an unknown active session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnsupported is returned when the session's modality lacks the capability.
	ErrUnsupported = errors.New("operation not supported for session type")

	// ErrUnknownSessionType is returned for sessions with no registered handler.
	ErrUnknownSessionType = errors.New("unknown session type")

	// ErrParticipantUnknown is returned when the user's participant in a
	// conversation has not been seen in any conversation update yet.
	ErrParticipantUnknown = errors.New("participant for user not known for conversation")
)

// IsNoPendingSession checks if the error is ErrNoPendingSession
func IsNoPendingSession(err error) bool {
	return errors.Is(err, ErrNoPendingSession)
}

// IsSessionNotFound checks if the error is ErrSessionNotFound
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsUnsupported checks if the error is ErrUnsupported
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsParticipantUnknown checks if the error is ErrParticipantUnknown
func IsParticipantUnknown(err error) bool {
	return errors.Is(err, ErrParticipantUnknown)
}

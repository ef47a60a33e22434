// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// State is the lifecycle position of the controller's current send.
type State int

const (
	// Idle means no send has started yet.
	Idle State = iota
	// AwaitingResponse means the request is sent and no body has arrived.
	AwaitingResponse
	// Streaming means the response body is being consumed.
	Streaming
	// Completed means the turn finished normally.
	Completed
	// Cancelled means the caller stopped the turn. Not an error.
	Cancelled
	// Failed means the turn ended with an error.
	Failed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a send in this state has ended.
func (s State) IsTerminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// IsActive reports whether a send is in flight.
func (s State) IsActive() bool {
	return s == AwaitingResponse || s == Streaming
}

// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package brokererr defines the sentinel error kinds the broker, the
// upstream session, and the tool executor surface to callers. Every
// per-frame validation error is local to one session and never
// terminates the process; callers decide whether a kind is fatal to
// the session (SessionClosed, UpstreamUnavailable, UpstreamError) or
// merely reported and continued (everything else).
package brokererr

import "errors"

var (
	// ErrInvalidAudio marks a misaligned PCM16 buffer (an empty buffer
	// is not an error; it yields no chunks).
	ErrInvalidAudio = errors.New("invalid audio")

	// ErrInvalidMessage marks malformed JSON or a missing channel/type field.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnknownChannel marks a channel the broker does not route.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnknownType marks a recognized channel but unroutable type.
	ErrUnknownType = errors.New("unknown type")

	// ErrSessionClosed marks an operation attempted on a closed upstream session.
	ErrSessionClosed = errors.New("session closed")

	// ErrUpstreamUnavailable marks a failed or timed-out upstream handshake.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamError marks a protocol-level error event from the upstream.
	ErrUpstreamError = errors.New("upstream error")

	// ErrToolFailure marks a retrieval call that errored or returned malformed data.
	ErrToolFailure = errors.New("tool failure")

	// ErrRateLimited marks a tool-call dispatch rejected for arriving too soon.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists marks a Session Registry insert for an id already held.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound marks an unknown session id. The Session Registry does
	// not return it: Lookup reports absence with a bool and Remove ignores
	// unknown ids.
	ErrNotFound = errors.New("not found")
)

// Code maps an error kind to an HTTP-style numeric code, per spec.md §7.
// The broker's `openai:error` envelopes set their codes directly and do
// not call Code.
func Code(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAudio), errors.Is(err, ErrInvalidMessage),
		errors.Is(err, ErrUnknownChannel), errors.Is(err, ErrUnknownType):
		return 400
	case errors.Is(err, ErrUpstreamUnavailable):
		return 503
	case errors.Is(err, ErrSessionClosed):
		return 409
	default:
		return 500
	}
}

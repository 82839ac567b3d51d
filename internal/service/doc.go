// Package service describes the remote subsystems the orchestrator depends on
// and implements the JSON-over-HTTP client used to reach them.
//
// # Remote services
//
// Two services are registered by name:
//
//	interpreter  POST /process-question  {question, userId, requestId}
//	             → {response, detectedChords[], audioUrl?}
//	tracker      POST /detect            {image, chord, requestId}
//	             → {guitar_detected, chord_positions[], transformation?}
//
// Both expose GET /health (full liveness probe) and GET /ping (quick pulse).
//
// # Descriptors
//
// A Descriptor records where a service lives, what it declares it can do and
// what the health monitor last observed. Descriptors are plain values; the
// coordinator's registry replaces them wholesale so readers never observe a
// half-updated descriptor.
//
// # Errors
//
// Client methods classify failures so callers can pick a policy with
// errors.Is:
//
//	ErrRemoteTimeout      deadline exceeded (retry, then fall back)
//	ErrRemoteUnavailable  refused, reset, or non-2xx status (retry, then fall back)
//	ErrBadResponse        2xx with a body of the wrong shape (no retry)
//
// Timeouts are carried by the caller's context. The client itself sets none,
// so the same client serves 10s interpreter calls and 2s pulses.
package service

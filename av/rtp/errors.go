package rtp

import (
	"errors"

	"github.com/opd-ai/toxrtp/limits"
)

// Sentinel errors for rtp package operations.
// These errors enable reliable error classification using errors.Is().
// None of them is fatal: the session stays usable after any of them.

// Receive errors.
var (
	// ErrMalformedHeader indicates an RTP header that could not be decoded.
	ErrMalformedHeader = errors.New("malformed RTP header")

	// ErrOffsetOutOfBounds indicates a fragment whose offset/length does not
	// fit the message it belongs to, or that overlaps data already received.
	ErrOffsetOutOfBounds = errors.New("fragment offset out of bounds")

	// ErrPayloadTypeMismatch indicates a fragment for another media type.
	ErrPayloadTypeMismatch = errors.New("payload type mismatch")

	// ErrLateFragment indicates a legacy fragment older than the watermark.
	ErrLateFragment = errors.New("late fragment")

	// ErrLateMessage indicates a video fragment of a message that is older
	// than the watermark and no longer has a work buffer slot.
	ErrLateMessage = errors.New("late message")

	// ErrSlotExhausted indicates all work buffer slots are busy and the
	// oldest one is a protected key frame.
	ErrSlotExhausted = errors.New("work buffer slots exhausted")
)

// Send and shared errors.
var (
	// ErrMessageTooLarge indicates a message longer than the configured limit.
	ErrMessageTooLarge = limits.ErrMessageTooLarge

	// ErrSendFailed indicates that one or more fragments could not be sent.
	ErrSendFailed = errors.New("fragment send failed")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidConfig indicates unusable session settings.
	ErrInvalidConfig = errors.New("invalid RTP config")
)

// Session registry errors.
var (
	// ErrSessionNotFound indicates no session exists for a friend or address.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists indicates the friend already has a session of that media type.
	ErrSessionExists = errors.New("session already exists")
)

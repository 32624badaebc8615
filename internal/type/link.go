// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_type

import "context"

// =============================================================================
// Telephony link contract
// =============================================================================

// TelephonyLink is one call's duplex media connection to the telephony
// provider. Frames on both directions are companded 8-bit audio in the
// provider's native format (µ-law or A-law, 8kHz mono).
//
// Receive blocks until the next inbound media frame and returns io.EOF once
// the provider signals an orderly stream stop. Send must be safe to call
// concurrently with Receive.
type TelephonyLink interface {
	// Send writes one companded media frame to the caller.
	Send(frame []byte) error

	// SendMark emits a playback marker after queued media, so the provider
	// reports when everything sent before it has been played out.
	SendMark(name string) error

	// Clear asks the provider to drop any media it has buffered but not yet
	// played. Used on barge-in together with the local scheduler flush.
	Clear() error

	// Receive returns the next inbound companded frame, or io.EOF on an
	// orderly close of the media stream.
	Receive() ([]byte, error)

	Close() error
}

// =============================================================================
// Speech link contract
// =============================================================================

// SpeechEventKind discriminates the messages a speech link can deliver.
type SpeechEventKind string

const (
	// SpeechEventAudio carries a chunk of synthesized linear16 audio.
	SpeechEventAudio SpeechEventKind = "audio"

	// SpeechEventTurnComplete marks the end of one synthesized response.
	// More turns may follow on the same connection.
	SpeechEventTurnComplete SpeechEventKind = "turn_complete"

	// SpeechEventInterrupted reports that the caller started speaking while
	// synthesis was still playing; queued output must be flushed.
	SpeechEventInterrupted SpeechEventKind = "interrupted"
)

// SpeechEvent is one inbound message from the speech service.
type SpeechEvent struct {
	Kind  SpeechEventKind
	Audio []byte // linear16, only set for SpeechEventAudio
}

// SpeechLink is one call's duplex connection to the realtime speech service.
// The link is already past its setup handshake when handed to a session.
type SpeechLink interface {
	// SendAudio forwards caller audio as linear16 at the given sample rate.
	// Chunk sizes are arbitrary; the service accepts whatever it is given.
	SendAudio(pcm []byte, sampleRateHz int) error

	// Receive returns the next event from the service, or io.EOF once the
	// connection closes.
	Receive() (SpeechEvent, error)

	Close() error
}

// SpeechDialer opens a speech-service connection and completes its setup
// handshake. Dial must respect ctx cancellation and deadline so a session
// can bound the handshake.
type SpeechDialer interface {
	Dial(ctx context.Context) (SpeechLink, error)
}

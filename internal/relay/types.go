// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"errors"
	"time"

	internal_audio "github.com/rapidaai/voice-bridge/internal/audio"
	internal_audio_scheduler "github.com/rapidaai/voice-bridge/internal/audio/scheduler"
)

// SessionState is the relay state machine position. Transitions are linear:
// Connecting → Active → Draining → Closed, with Connecting → Closed on a
// failed speech handshake.
type SessionState string

const (
	StateConnecting SessionState = "connecting"
	StateActive     SessionState = "active"
	StateDraining   SessionState = "draining"
	StateClosed     SessionState = "closed"
)

// CloseReason records why a session reached Closed.
type CloseReason string

const (
	ReasonNormal           CloseReason = "normal"
	ReasonHandshakeFailure CloseReason = "handshake_failure"
	ReasonTelephonyClosed  CloseReason = "telephony_closed"
	ReasonSpeechClosed     CloseReason = "speech_closed"
	ReasonTransportFailure CloseReason = "transport_failure"
	ReasonCodecViolation   CloseReason = "codec_violation"
	ReasonShutdown         CloseReason = "shutdown"
)

// ErrDuplicateCall is returned by the registry when a session already
// exists for the call identifier. The original session is unaffected.
var ErrDuplicateCall = errors.New("a session already exists for this call identifier")

// Config carries the per-call relay settings. One value is shared by every
// session the registry creates.
type Config struct {
	// Codec converts between the telephony companded format and linear16.
	Codec internal_audio.Codec

	// TelephonyRate is the telephony leg's sample rate (8000 for PSTN).
	TelephonyRate int

	// SpeechInputRate is the linear16 rate sent to the speech service.
	SpeechInputRate int

	// SpeechOutputRate is the linear16 rate the speech service synthesizes.
	SpeechOutputRate int

	// FrameDuration is the telephony frame cadence (typically 20ms).
	FrameDuration time.Duration

	// HighWater bounds the scheduler buffer, expressed as audio duration.
	HighWater time.Duration

	// DropPolicy picks which audio gives way on scheduler overrun.
	DropPolicy internal_audio_scheduler.DropPolicy

	// DrainGrace bounds how long a draining session may flush buffered
	// audio before being forced closed.
	DrainGrace time.Duration

	// HandshakeTimeout bounds the speech-service setup handshake.
	HandshakeTimeout time.Duration

	// SendRetries is how many times a failed transport send is retried
	// before the frame is dropped.
	SendRetries int
}

// frameBytes is the linear16 byte size of one telephony-cadence frame.
func (c Config) frameBytes() int {
	audio := internal_audio.NewLinear16MonoAudioConfig(c.TelephonyRate)
	return audio.BytesPerMillisecond() * int(c.FrameDuration.Milliseconds())
}

// highWaterBytes converts the high-water duration to linear16 bytes at the
// telephony rate.
func (c Config) highWaterBytes() int {
	audio := internal_audio.NewLinear16MonoAudioConfig(c.TelephonyRate)
	return audio.BytesPerMillisecond() * int(c.HighWater.Milliseconds())
}

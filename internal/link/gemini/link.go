// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_gemini_link

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

const (
	// readLimit caps a single live-API message. Synthesized audio arrives in
	// chunks well under this.
	readLimit = 10 * 1024 * 1024

	handshakeTimeout = 30 * time.Second
)

// =============================================================================
// Live API wire messages
// =============================================================================

type setupEnvelope struct {
	Setup setupMessage `json:"setup"`
}

type setupMessage struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	RealtimeInput     realtimeConfig   `json:"realtimeInput"`
	SystemInstruction string           `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type realtimeConfig struct {
	// Server-side voice activity detection stays on its defaults; the
	// service detects barge-in and reports it as an interrupted turn.
	AutomaticActivityDetection struct{} `json:"automaticActivityDetection"`
}

type realtimeInputEnvelope struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio inlineAudio `json:"audio"`
}

type inlineAudio struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// serverEnvelope covers every inbound message shape the live API emits.
// Audio can arrive either as a top-level outputAudio or embedded in
// serverContent model-turn parts.
type serverEnvelope struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	OutputAudio   *inlineAudio   `json:"outputAudio,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []turnPart `json:"parts"`
}

type turnPart struct {
	Audio      *inlineAudio `json:"audio,omitempty"`
	InlineData *inlineAudio `json:"inlineData,omitempty"`
	Text       string       `json:"text,omitempty"`
}

// =============================================================================
// Dialer
// =============================================================================

// DialerConfig holds the live-API connection settings.
type DialerConfig struct {
	// Endpoint is the BidiGenerateContent WebSocket URL.
	Endpoint string

	APIKey string
	Model  string
	Voice  string

	// SystemInstruction steers the agent's phone persona.
	SystemInstruction string
}

// Dialer opens live-API connections, one per call.
type Dialer struct {
	logger commons.Logger
	cfg    DialerConfig
}

// NewDialer builds a speech dialer for the configured model and endpoint.
func NewDialer(logger commons.Logger, cfg DialerConfig) *Dialer {
	return &Dialer{logger: logger, cfg: cfg}
}

// Dial connects, sends the session setup, and waits for the service's
// setup acknowledgement. The returned link is ready to relay. ctx bounds
// the whole handshake.
func (d *Dialer) Dial(ctx context.Context) (internal_type.SpeechLink, error) {
	endpoint, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse speech endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("key", d.cfg.APIKey)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to speech service: %w", err)
	}
	conn.SetReadLimit(readLimit)

	link := &Link{
		logger:  d.logger,
		conn:    conn,
		encoder: base64.StdEncoding,
	}

	setup := setupEnvelope{
		Setup: setupMessage{
			Model: d.cfg.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{VoiceName: d.cfg.Voice},
				},
			},
			SystemInstruction: d.cfg.SystemInstruction,
		},
	}
	if err := link.writeJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send setup: %w", err)
	}

	if err := link.awaitSetupComplete(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	d.logger.Debugw("Speech session ready", "model", d.cfg.Model)
	return link, nil
}

// =============================================================================
// Link
// =============================================================================

// Link is one live-API connection. SendAudio may be called concurrently
// with Receive; writes are serialized on their own mutex.
type Link struct {
	logger  commons.Logger
	conn    *websocket.Conn
	encoder *base64.Encoding

	writeMu   sync.Mutex
	closeOnce sync.Once

	// pending holds events decoded from a message that carried more than
	// one (audio parts plus a turn boundary). Only Receive touches it.
	pending []internal_type.SpeechEvent
}

// awaitSetupComplete reads until the service acknowledges the setup.
func (l *Link) awaitSetupComplete(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = l.conn.SetReadDeadline(deadline)
		defer l.conn.SetReadDeadline(time.Time{})
	}
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("speech handshake failed: %w", err)
		}
		var envelope serverEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		if envelope.SetupComplete != nil {
			return nil
		}
	}
}

// SendAudio forwards caller audio as a realtime input chunk. Chunk sizes
// are arbitrary; the service buffers internally.
func (l *Link) SendAudio(pcm []byte, sampleRateHz int) error {
	return l.writeJSON(realtimeInputEnvelope{
		RealtimeInput: realtimeInput{
			Audio: inlineAudio{
				Data:     l.encoder.EncodeToString(pcm),
				MimeType: fmt.Sprintf("audio/pcm;rate=%d", sampleRateHz),
			},
		},
	})
}

// Receive returns the next speech event. A single wire message may decode
// to several events; they are delivered one per call, in wire order.
func (l *Link) Receive() (internal_type.SpeechEvent, error) {
	for {
		if len(l.pending) > 0 {
			ev := l.pending[0]
			l.pending = l.pending[1:]
			return ev, nil
		}

		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return internal_type.SpeechEvent{}, io.EOF
			}
			return internal_type.SpeechEvent{}, err
		}

		var envelope serverEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			l.logger.Debugw("Skipping unparseable speech message", "error", err.Error())
			continue
		}
		l.pending = l.decode(&envelope)
	}
}

// decode flattens one server message into ordered events. Interruption is
// surfaced before any audio in the same message so stale frames never
// outlive the flush.
func (l *Link) decode(envelope *serverEnvelope) []internal_type.SpeechEvent {
	var events []internal_type.SpeechEvent

	if sc := envelope.ServerContent; sc != nil && sc.Interrupted {
		events = append(events, internal_type.SpeechEvent{Kind: internal_type.SpeechEventInterrupted})
	}

	appendAudio := func(audio *inlineAudio) {
		if audio == nil || audio.Data == "" {
			return
		}
		pcm, err := l.encoder.DecodeString(audio.Data)
		if err != nil {
			l.logger.Debugw("Skipping undecodable audio chunk", "error", err.Error())
			return
		}
		events = append(events, internal_type.SpeechEvent{
			Kind:  internal_type.SpeechEventAudio,
			Audio: pcm,
		})
	}

	appendAudio(envelope.OutputAudio)
	if sc := envelope.ServerContent; sc != nil && sc.ModelTurn != nil {
		for i := range sc.ModelTurn.Parts {
			part := &sc.ModelTurn.Parts[i]
			appendAudio(part.Audio)
			appendAudio(part.InlineData)
		}
	}

	if sc := envelope.ServerContent; sc != nil && sc.TurnComplete {
		events = append(events, internal_type.SpeechEvent{Kind: internal_type.SpeechEventTurnComplete})
	}
	return events
}

// Close sends a close frame and releases the socket. Idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		l.writeMu.Unlock()
		_ = l.conn.Close()
	})
	return nil
}

func (l *Link) writeJSON(v interface{}) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal speech message: %w", err)
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write speech message: %w", err)
	}
	return nil
}

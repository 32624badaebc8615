// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_twilio_link

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voice-bridge/pkg/commons"
)

// =============================================================================
// Twilio Media Streams wire messages
// =============================================================================

// mediaMessage is the envelope for every event on a media stream socket.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startMessage `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markMessage  `json:"mark,omitempty"`
	Stop      *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  mediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 companded audio
}

type markMessage struct {
	Name string `json:"name"`
}

type stopMessage struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// StartInfo is what Twilio announces when a media stream begins.
type StartInfo struct {
	CallSID      string
	StreamSID    string
	Encoding     string
	SampleRate   int
	Channels     int
	CustomParams map[string]string
}

// =============================================================================
// Link
// =============================================================================

// Link adapts one Twilio Media Streams WebSocket to the relay's telephony
// link contract. Send/SendMark/Clear may be called concurrently with
// Receive; writes are serialized on their own mutex.
type Link struct {
	logger    commons.Logger
	conn      *websocket.Conn
	streamSID string
	encoder   *base64.Encoding

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Accept consumes the stream preamble ("connected" then "start") on an
// upgraded media socket and returns a ready link plus the start metadata.
func Accept(logger commons.Logger, conn *websocket.Conn) (*Link, *StartInfo, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, nil, fmt.Errorf("media stream closed before start: %w", err)
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "connected":
			continue
		case "start":
			if msg.Start == nil {
				return nil, nil, fmt.Errorf("start event missing payload")
			}
			link := &Link{
				logger:    logger,
				conn:      conn,
				streamSID: msg.Start.StreamSID,
				encoder:   base64.StdEncoding,
			}
			info := &StartInfo{
				CallSID:      msg.Start.CallSID,
				StreamSID:    msg.Start.StreamSID,
				Encoding:     msg.Start.MediaFormat.Encoding,
				SampleRate:   msg.Start.MediaFormat.SampleRate,
				Channels:     msg.Start.MediaFormat.Channels,
				CustomParams: msg.Start.CustomParams,
			}
			return link, info, nil
		case "stop":
			return nil, nil, fmt.Errorf("media stream stopped before start")
		}
	}
}

// StreamSID returns the provider's media stream identifier.
func (l *Link) StreamSID() string {
	return l.streamSID
}

// Send writes one companded frame to the caller as a media event.
func (l *Link) Send(frame []byte) error {
	return l.writeJSON(mediaMessage{
		Event:     "media",
		StreamSID: l.streamSID,
		Media:     &mediaPayload{Payload: l.encoder.EncodeToString(frame)},
	})
}

// SendMark asks Twilio to echo the mark back once everything queued before
// it has played out.
func (l *Link) SendMark(name string) error {
	return l.writeJSON(mediaMessage{
		Event:     "mark",
		StreamSID: l.streamSID,
		Mark:      &markMessage{Name: name},
	})
}

// Clear empties Twilio's own playback buffer. Paired with the scheduler
// flush on barge-in.
func (l *Link) Clear() error {
	return l.writeJSON(mediaMessage{
		Event:     "clear",
		StreamSID: l.streamSID,
	})
}

// Receive blocks for the next inbound media frame. Marks and other
// non-media events are skipped; a stop event or normal socket close is
// reported as io.EOF.
func (l *Link) Receive() ([]byte, error) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Debugw("Skipping unparseable media stream message", "error", err.Error())
			continue
		}

		switch msg.Event {
		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			frame, err := l.encoder.DecodeString(msg.Media.Payload)
			if err != nil {
				l.logger.Debugw("Skipping undecodable media payload", "error", err.Error())
				continue
			}
			return frame, nil
		case "stop":
			return nil, io.EOF
		default:
			// connected, mark, dtmf: not media.
			continue
		}
	}
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

func (l *Link) writeJSON(msg mediaMessage) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal media message: %w", err)
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write media message: %w", err)
	}
	return nil
}

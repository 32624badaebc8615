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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

// ============================================================================
// Fake live API server
// ============================================================================

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type fakeLiveServer struct {
	t *testing.T

	// conns delivers each accepted socket after the setup handshake.
	conns chan *websocket.Conn
	// setups delivers the raw setup message each connection opened with.
	setups chan map[string]interface{}
	// keys delivers the api key query parameter.
	keys chan string

	// ackSetup controls whether the server completes the handshake.
	ackSetup bool
}

func newFakeLiveServer(t *testing.T, ackSetup bool) (*fakeLiveServer, string) {
	t.Helper()
	fake := &fakeLiveServer{
		t:        t,
		conns:    make(chan *websocket.Conn, 1),
		setups:   make(chan map[string]interface{}, 1),
		keys:     make(chan string, 1),
		ackSetup: ackSetup,
	}
	srv := httptest.NewServer(http.HandlerFunc(fake.handle))
	t.Cleanup(srv.Close)
	return fake, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeLiveServer) handle(w http.ResponseWriter, r *http.Request) {
	f.keys <- r.URL.Query().Get("key")

	conn, err := testUpgrader.Upgrade(w, r, nil)
	require.NoError(f.t, err)

	_, data, err := conn.ReadMessage()
	require.NoError(f.t, err)
	var setup map[string]interface{}
	require.NoError(f.t, json.Unmarshal(data, &setup))
	f.setups <- setup

	if !f.ackSetup {
		_ = conn.Close()
		return
	}
	require.NoError(f.t, conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)))
	f.conns <- conn
}

func (f *fakeLiveServer) conn() *websocket.Conn {
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(time.Second):
		f.t.Fatal("server connection never completed setup")
		return nil
	}
}

func (f *fakeLiveServer) send(conn *websocket.Conn, raw string) {
	require.NoError(f.t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func testDialer(endpoint string) *Dialer {
	logger, _ := commons.NewApplicationLogger()
	return NewDialer(logger, DialerConfig{
		Endpoint:          endpoint,
		APIKey:            "test-key",
		Model:             "models/test-live",
		Voice:             "Charon",
		SystemInstruction: "Be brief.",
	})
}

// ============================================================================
// Dial
// ============================================================================

func TestDial_SendsSetupAndWaitsForAck(t *testing.T) {
	fake, endpoint := newFakeLiveServer(t, true)

	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()

	assert.Equal(t, "test-key", <-fake.keys, "api key must travel as a query parameter")

	setup := (<-fake.setups)["setup"].(map[string]interface{})
	assert.Equal(t, "models/test-live", setup["model"])
	assert.Equal(t, "Be brief.", setup["systemInstruction"])

	gen := setup["generationConfig"].(map[string]interface{})
	assert.Equal(t, []interface{}{"AUDIO"}, gen["responseModalities"])
	voice := gen["speechConfig"].(map[string]interface{})["voiceConfig"].(map[string]interface{})
	assert.Equal(t, "Charon", voice["voiceName"])
}

func TestDial_FailsWhenSetupNotAcknowledged(t *testing.T) {
	_, endpoint := newFakeLiveServer(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := testDialer(endpoint).Dial(ctx)
	assert.Error(t, err)
}

func TestDial_HonoursContextDeadline(t *testing.T) {
	// A server that upgrades but never acknowledges the setup.
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(stall.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := testDialer("ws" + strings.TrimPrefix(stall.URL, "http")).Dial(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "handshake must respect the context deadline")
}

// ============================================================================
// SendAudio
// ============================================================================

func TestSendAudio_WrapsChunkAsRealtimeInput(t *testing.T) {
	fake, endpoint := newFakeLiveServer(t, true)

	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()
	conn := fake.conn()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, link.SendAudio(pcm, 16000))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	audio := msg["realtimeInput"].(map[string]interface{})["audio"].(map[string]interface{})
	assert.Equal(t, "audio/pcm;rate=16000", audio["mimeType"])

	decoded, err := base64.StdEncoding.DecodeString(audio["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
}

// ============================================================================
// Receive
// ============================================================================

func TestReceive_TopLevelOutputAudio(t *testing.T) {
	fake, endpoint := newFakeLiveServer(t, true)
	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()

	pcm := []byte{0x10, 0x20}
	fake.send(fake.conn(), `{"outputAudio":{"data":"`+base64.StdEncoding.EncodeToString(pcm)+`"}}`)

	ev, err := link.Receive()
	require.NoError(t, err)
	assert.Equal(t, internal_type.SpeechEventAudio, ev.Kind)
	assert.Equal(t, pcm, ev.Audio)
}

func TestReceive_ModelTurnPartsAndTurnCompleteInOrder(t *testing.T) {
	fake, endpoint := newFakeLiveServer(t, true)
	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()

	a := base64.StdEncoding.EncodeToString([]byte{0x01, 0x01})
	b := base64.StdEncoding.EncodeToString([]byte{0x02, 0x02})
	fake.send(fake.conn(), `{"serverContent":{"modelTurn":{"parts":[`+
		`{"inlineData":{"data":"`+a+`","mimeType":"audio/pcm;rate=24000"}},`+
		`{"inlineData":{"data":"`+b+`","mimeType":"audio/pcm;rate=24000"}}`+
		`]},"turnComplete":true}}`)

	ev, err := link.Receive()
	require.NoError(t, err)
	assert.Equal(t, internal_type.SpeechEventAudio, ev.Kind)
	assert.Equal(t, []byte{0x01, 0x01}, ev.Audio)

	ev, err = link.Receive()
	require.NoError(t, err)
	assert.Equal(t, internal_type.SpeechEventAudio, ev.Kind)
	assert.Equal(t, []byte{0x02, 0x02}, ev.Audio)

	ev, err = link.Receive()
	require.NoError(t, err)
	assert.Equal(t, internal_type.SpeechEventTurnComplete, ev.Kind, "turn boundary must follow its audio")
}

func TestReceive_InterruptedPrecedesAudioInSameMessage(t *testing.T) {
	fake, endpoint := newFakeLiveServer(t, true)
	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()

	stale := base64.StdEncoding.EncodeToString([]byte{0x0A, 0x0A})
	fake.send(fake.conn(), `{"serverContent":{"interrupted":true,"modelTurn":{"parts":[`+
		`{"inlineData":{"data":"`+stale+`"}}]}}}`)

	ev, err := link.Receive()
	require.NoError(t, err)
	assert.Equal(t, internal_type.SpeechEventInterrupted, ev.Kind,
		"interruption must surface before audio so stale frames get flushed")

	ev, err = link.Receive()
	require.NoError(t, err)
	assert.Equal(t, internal_type.SpeechEventAudio, ev.Kind)
}

func TestReceive_SkipsTextOnlyMessages(t *testing.T) {
	fake, endpoint := newFakeLiveServer(t, true)
	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()
	conn := fake.conn()

	fake.send(conn, `{"serverContent":{"modelTurn":{"parts":[{"text":"hello"}]}}}`)
	pcm := base64.StdEncoding.EncodeToString([]byte{0x03, 0x03})
	fake.send(conn, `{"outputAudio":{"data":"`+pcm+`"}}`)

	ev, err := link.Receive()
	require.NoError(t, err)
	assert.Equal(t, internal_type.SpeechEventAudio, ev.Kind, "text-only turns carry no events for the relay")
}

func TestReceive_NormalCloseReportsEOF(t *testing.T) {
	fake, endpoint := newFakeLiveServer(t, true)
	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()

	conn := fake.conn()
	require.NoError(t, conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	))

	_, err = link.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

// ============================================================================
// Close
// ============================================================================

func TestClose_Idempotent(t *testing.T) {
	_, endpoint := newFakeLiveServer(t, true)
	link, err := testDialer(endpoint).Dial(context.Background())
	require.NoError(t, err)

	assert.NoError(t, link.Close())
	assert.NoError(t, link.Close())
}

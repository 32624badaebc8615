// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package bridge_routers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/voice-bridge/config"
	internal_audio "github.com/rapidaai/voice-bridge/internal/audio"
	internal_twilio_link "github.com/rapidaai/voice-bridge/internal/link/twilio"
	internal_relay "github.com/rapidaai/voice-bridge/internal/relay"
	internal_twilio_telephony "github.com/rapidaai/voice-bridge/internal/telephony/twilio"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// BridgeApi serves the telephony provider's webhooks and the media stream
// socket that feeds the relay.
type BridgeApi struct {
	cfg      *config.BridgeConfig
	logger   commons.Logger
	registry *internal_relay.Registry
}

func NewBridgeApi(cfg *config.BridgeConfig, logger commons.Logger, registry *internal_relay.Registry) *BridgeApi {
	return &BridgeApi{cfg: cfg, logger: logger, registry: registry}
}

// BridgeRoutes attaches the answer webhook, the media stream endpoint and
// the health probe to the engine.
func BridgeRoutes(cfg *config.BridgeConfig, engine *gin.Engine, logger commons.Logger, registry *internal_relay.Registry) {
	logger.Info("Bridge routes added to engine.")
	api := NewBridgeApi(cfg, logger, registry)
	{
		engine.POST("/voice", api.Voice)
		engine.GET("/voice", api.Voice)
		engine.GET("/media-stream", api.MediaStream)
		engine.GET("/healthz", api.Healthz)
	}
}

// Voice answers the provider's call webhook with a document that connects
// the call to the media stream endpoint.
func (bApi *BridgeApi) Voice(c *gin.Context) {
	doc, err := internal_twilio_telephony.AnswerDocument(bApi.cfg.StreamURL(), "")
	if err != nil {
		bApi.logger.Errorf("Failed to render answer document: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to render answer document"})
		return
	}
	c.Data(http.StatusOK, "text/xml", doc)
}

// MediaStream upgrades the provider's media socket, reads the stream
// preamble and hands the call to the relay. The handler blocks until the
// session closes so the socket outlives the call.
func (bApi *BridgeApi) MediaStream(c *gin.Context) {
	conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		bApi.logger.Errorf("WebSocket upgrade failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to upgrade to WebSocket"})
		return
	}

	link, info, err := internal_twilio_link.Accept(bApi.logger, conn)
	if err != nil {
		bApi.logger.Warnw("Media stream ended before start", "error", err.Error())
		_ = conn.Close()
		return
	}
	bApi.logger.Infow("Media stream started",
		"call_sid", info.CallSID,
		"stream_sid", info.StreamSID,
		"encoding", info.Encoding,
		"sample_rate", info.SampleRate,
	)

	expected := bApi.expectedAudioConfig()
	if info.SampleRate != 0 && (info.SampleRate != expected.SampleRate || info.Channels != expected.Channels) {
		bApi.logger.Warnw("Media stream format differs from configured telephony format",
			"call_sid", info.CallSID,
			"announced_rate", info.SampleRate,
			"announced_channels", info.Channels,
			"expected_rate", expected.SampleRate,
			"expected_channels", expected.Channels,
		)
	}

	callID := info.CallSID
	if callID == "" {
		callID = info.StreamSID
	}
	if callID == "" {
		callID = uuid.NewString()
	}

	session, err := bApi.registry.OnCallStart(callID, link)
	if err != nil {
		if errors.Is(err, internal_relay.ErrDuplicateCall) {
			bApi.logger.Warnw("Rejecting duplicate media stream", "call_id", callID)
		} else {
			bApi.logger.Errorf("Failed to start session: %v", err)
		}
		_ = link.Close()
		return
	}

	<-session.Done()
}

// expectedAudioConfig is the telephony-leg format the bridge was configured
// for.
func (bApi *BridgeApi) expectedAudioConfig() internal_audio.AudioConfig {
	audio := internal_audio.NewMulaw8khzMonoAudioConfig()
	if bApi.cfg.Telephony.Companding == string(internal_audio.StandardAlaw) {
		audio = internal_audio.NewAlaw8khzMonoAudioConfig()
	}
	audio.SampleRate = bApi.cfg.Telephony.SampleRate
	return audio
}

// Healthz reports liveness plus the number of active calls.
func (bApi *BridgeApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"service":      bApi.cfg.Name,
		"version":      bApi.cfg.Version,
		"active_calls": bApi.registry.Len(),
	})
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voice-bridge/config"
	internal_audio "github.com/rapidaai/voice-bridge/internal/audio"
	internal_audio_scheduler "github.com/rapidaai/voice-bridge/internal/audio/scheduler"
	internal_gemini_link "github.com/rapidaai/voice-bridge/internal/link/gemini"
	internal_relay "github.com/rapidaai/voice-bridge/internal/relay"
	"github.com/rapidaai/voice-bridge/pkg/commons"
	bridge_routers "github.com/rapidaai/voice-bridge/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetBridgeConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := commons.NewApplicationLogger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	relayCfg, err := relayConfig(cfg)
	if err != nil {
		logger.Errorf("Invalid relay configuration: %v", err)
		return
	}

	dialer := internal_gemini_link.NewDialer(logger, internal_gemini_link.DialerConfig{
		Endpoint:          cfg.Speech.Endpoint,
		APIKey:            cfg.Speech.APIKey,
		Model:             cfg.Speech.Model,
		Voice:             cfg.Speech.Voice,
		SystemInstruction: cfg.Speech.SystemInstruction,
	})
	registry := internal_relay.NewRegistry(logger, relayCfg, dialer)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	bridge_routers.BridgeRoutes(cfg, engine, logger, registry)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("Voice bridge listening",
			"addr", server.Addr,
			"service", cfg.Name,
			"version", cfg.Version,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down voice bridge.")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		registry.Shutdown(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Errorf("Voice bridge stopped with error: %v", err)
	}
}

// relayConfig maps the application config onto the per-call relay settings.
func relayConfig(cfg *config.BridgeConfig) (internal_relay.Config, error) {
	standard, err := internal_audio.ParseStandard(cfg.Telephony.Companding)
	if err != nil {
		return internal_relay.Config{}, err
	}
	codec, err := internal_audio.NewCodec(standard)
	if err != nil {
		return internal_relay.Config{}, err
	}

	dropPolicy := internal_audio_scheduler.DropOldest
	if cfg.Scheduler.DropPolicy == "newest" {
		dropPolicy = internal_audio_scheduler.DropNewest
	}

	return internal_relay.Config{
		Codec:            codec,
		TelephonyRate:    cfg.Telephony.SampleRate,
		SpeechInputRate:  cfg.Speech.InputSampleRate,
		SpeechOutputRate: cfg.Speech.OutputSampleRate,
		FrameDuration:    cfg.FrameDuration(),
		HighWater:        time.Duration(cfg.Scheduler.HighWaterMs) * time.Millisecond,
		DropPolicy:       dropPolicy,
		DrainGrace:       time.Duration(cfg.Relay.DrainGraceMs) * time.Millisecond,
		HandshakeTimeout: time.Duration(cfg.Speech.HandshakeTimeoutMs) * time.Millisecond,
		SendRetries:      cfg.Relay.SendRetries,
	}, nil
}

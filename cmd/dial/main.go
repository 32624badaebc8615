// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command dial places a single outbound call through the configured
// telephony account and connects it to the running bridge.
package main

import (
	"flag"
	"log"

	"github.com/rapidaai/voice-bridge/config"
	internal_twilio_telephony "github.com/rapidaai/voice-bridge/internal/telephony/twilio"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

func main() {
	to := flag.String("to", "", "destination number in E.164 format")
	flag.Parse()
	if *to == "" {
		log.Fatal("usage: dial -to +15551234567")
	}

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

	caller, err := internal_twilio_telephony.NewCaller(logger, cfg.Twilio, cfg.PublicBaseURL)
	if err != nil {
		logger.Errorf("Failed to build caller: %v", err)
		return
	}

	callSID, err := caller.Dial(*to)
	if err != nil {
		logger.Errorf("Failed to place call: %v", err)
		return
	}
	logger.Infow("Call placed", "to", *to, "call_sid", callSID)
}

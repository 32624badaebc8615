// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PUBLIC_BASE_URL", "https://bridge.example.com")
	t.Setenv("SPEECH__API_KEY", "test-key")
}

func TestGetBridgeConfig_Defaults(t *testing.T) {
	validEnv(t)

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetBridgeConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "voice-bridge", cfg.Name)
	assert.Equal(t, 5050, cfg.Port)
	assert.Equal(t, "mulaw", cfg.Telephony.Companding)
	assert.Equal(t, 8000, cfg.Telephony.SampleRate)
	assert.Equal(t, 16000, cfg.Speech.InputSampleRate)
	assert.Equal(t, 24000, cfg.Speech.OutputSampleRate)
	assert.Equal(t, "oldest", cfg.Scheduler.DropPolicy)
	assert.Equal(t, 20*time.Millisecond, cfg.FrameDuration())
}

func TestGetBridgeConfig_MissingAPIKeyRejected(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://bridge.example.com")
	t.Setenv("SPEECH__API_KEY", "")

	v, err := InitConfig()
	require.NoError(t, err)
	_, err = GetBridgeConfig(v)
	assert.Error(t, err, "the speech api key is required")
}

func TestGetBridgeConfig_InvalidCompandingRejected(t *testing.T) {
	validEnv(t)
	t.Setenv("TELEPHONY__COMPANDING", "g722")

	v, err := InitConfig()
	require.NoError(t, err)
	_, err = GetBridgeConfig(v)
	assert.Error(t, err)
}

func TestGetBridgeConfig_EnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("TELEPHONY__COMPANDING", "alaw")
	t.Setenv("SCHEDULER__DROP_POLICY", "newest")
	t.Setenv("RELAY__SEND_RETRIES", "5")

	v, err := InitConfig()
	require.NoError(t, err)
	cfg, err := GetBridgeConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "alaw", cfg.Telephony.Companding)
	assert.Equal(t, "newest", cfg.Scheduler.DropPolicy)
	assert.Equal(t, 5, cfg.Relay.SendRetries)
}

func TestStreamURL_DerivedFromPublicBase(t *testing.T) {
	cfg := &BridgeConfig{PublicBaseURL: "https://bridge.example.com"}
	assert.Equal(t, "wss://bridge.example.com/media-stream", cfg.StreamURL())

	cfg.PublicBaseURL = "http://localhost:5050/"
	assert.Equal(t, "ws://localhost:5050/media-stream", cfg.StreamURL())
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SpeechConfig is the realtime speech service connection surface.
type SpeechConfig struct {
	Endpoint          string `mapstructure:"endpoint" validate:"required"`
	APIKey            string `mapstructure:"api_key" validate:"required"`
	Model             string `mapstructure:"model" validate:"required"`
	Voice             string `mapstructure:"voice"`
	SystemInstruction string `mapstructure:"system_instruction"`

	// InputSampleRate is the linear16 rate caller audio is sent at;
	// OutputSampleRate is the rate the service synthesizes at.
	InputSampleRate    int `mapstructure:"input_sample_rate" validate:"required,gt=0"`
	OutputSampleRate   int `mapstructure:"output_sample_rate" validate:"required,gt=0"`
	HandshakeTimeoutMs int `mapstructure:"handshake_timeout_ms" validate:"required,gt=0"`
}

// TelephonyConfig describes the provider leg's native audio.
type TelephonyConfig struct {
	// Companding selects the G.711 table: "mulaw" or "alaw".
	Companding      string `mapstructure:"companding" validate:"required,oneof=mulaw alaw"`
	SampleRate      int    `mapstructure:"sample_rate" validate:"required,gt=0"`
	FrameDurationMs int    `mapstructure:"frame_duration_ms" validate:"required,gt=0"`
}

// SchedulerConfig bounds the outbound pacing buffer.
type SchedulerConfig struct {
	HighWaterMs int    `mapstructure:"high_water_ms" validate:"required,gt=0"`
	DropPolicy  string `mapstructure:"drop_policy" validate:"required,oneof=oldest newest"`
}

// RelayConfig tunes per-call failure handling.
type RelayConfig struct {
	DrainGraceMs int `mapstructure:"drain_grace_ms" validate:"required,gt=0"`
	SendRetries  int `mapstructure:"send_retries" validate:"gte=0"`
}

// TwilioConfig carries REST credentials for outbound call origination.
// Inbound-only deployments can leave it empty.
type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

// BridgeConfig is the whole application configuration.
type BridgeConfig struct {
	Name          string `mapstructure:"service_name" validate:"required"`
	Version       string `mapstructure:"version" validate:"required"`
	Host          string `mapstructure:"host" validate:"required"`
	Port          int    `mapstructure:"port" validate:"required"`
	LogLevel      string `mapstructure:"log_level" validate:"required"`
	PublicBaseURL string `mapstructure:"public_base_url" validate:"required"`

	Speech    SpeechConfig    `mapstructure:"speech" validate:"required"`
	Telephony TelephonyConfig `mapstructure:"telephony" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Relay     RelayConfig     `mapstructure:"relay" validate:"required"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
}

// StreamURL derives the media-stream WebSocket URL the answer document
// points the telephony provider at.
func (c *BridgeConfig) StreamURL() string {
	base := c.PublicBaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return strings.TrimRight(base, "/") + "/media-stream"
}

// FrameDuration returns the telephony frame cadence.
func (c *BridgeConfig) FrameDuration() time.Duration {
	return time.Duration(c.Telephony.FrameDurationMs) * time.Millisecond
}

// InitConfig wires viper to the env file / environment.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "voice-bridge")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 5050)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("PUBLIC_BASE_URL", "")

	v.SetDefault("SPEECH__ENDPOINT", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent")
	v.SetDefault("SPEECH__API_KEY", "")
	v.SetDefault("SPEECH__MODEL", "gemini-2.0-flash-live-001")
	v.SetDefault("SPEECH__VOICE", "Charon")
	v.SetDefault("SPEECH__SYSTEM_INSTRUCTION", "You are a concise, polite phone agent. Keep answers to 1-2 sentences.")
	v.SetDefault("SPEECH__INPUT_SAMPLE_RATE", 16000)
	v.SetDefault("SPEECH__OUTPUT_SAMPLE_RATE", 24000)
	v.SetDefault("SPEECH__HANDSHAKE_TIMEOUT_MS", 10000)

	v.SetDefault("TELEPHONY__COMPANDING", "mulaw")
	v.SetDefault("TELEPHONY__SAMPLE_RATE", 8000)
	v.SetDefault("TELEPHONY__FRAME_DURATION_MS", 20)

	v.SetDefault("SCHEDULER__HIGH_WATER_MS", 5000)
	v.SetDefault("SCHEDULER__DROP_POLICY", "oldest")

	v.SetDefault("RELAY__DRAIN_GRACE_MS", 2000)
	v.SetDefault("RELAY__SEND_RETRIES", 2)

	v.SetDefault("TWILIO__ACCOUNT_SID", "")
	v.SetDefault("TWILIO__AUTH_TOKEN", "")
	v.SetDefault("TWILIO__FROM_NUMBER", "")
}

// GetBridgeConfig unmarshals and validates the application config.
func GetBridgeConfig(v *viper.Viper) (*BridgeConfig, error) {
	var config BridgeConfig
	if err := v.Unmarshal(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

// AudioFormat identifies a sample encoding.
type AudioFormat string

const (
	FormatMulaw8   AudioFormat = "mulaw8"
	FormatAlaw8    AudioFormat = "alaw8"
	FormatLinear16 AudioFormat = "linear16"
)

// AudioConfig describes one leg's audio representation.
type AudioConfig struct {
	SampleRate  int
	AudioFormat AudioFormat
	Channels    int
}

// NewMulaw8khzMonoAudioConfig is the Twilio media-stream native format.
func NewMulaw8khzMonoAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 8000, AudioFormat: FormatMulaw8, Channels: 1}
}

// NewAlaw8khzMonoAudioConfig is the A-law telephony variant used outside
// North America and Japan.
func NewAlaw8khzMonoAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 8000, AudioFormat: FormatAlaw8, Channels: 1}
}

// NewLinear16MonoAudioConfig builds an uncompressed 16-bit mono config at
// the given rate.
func NewLinear16MonoAudioConfig(sampleRateHz int) AudioConfig {
	return AudioConfig{SampleRate: sampleRateHz, AudioFormat: FormatLinear16, Channels: 1}
}

// BytesPerMillisecond returns the byte rate of this format.
func (c AudioConfig) BytesPerMillisecond() int {
	bytesPerSample := 1
	if c.AudioFormat == FormatLinear16 {
		bytesPerSample = 2
	}
	return c.SampleRate * c.Channels * bytesPerSample / 1000
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

// clipLevel is the largest linear magnitude the companding tables represent.
// Samples beyond it are clamped before encoding; the tables wrap on the most
// negative sample otherwise, turning a full-scale peak into near-silence.
const clipLevel = 32635

// Standard selects which G.711 companding table a codec uses. Twilio (and
// most North American trunks) use µ-law; European trunks use A-law.
type Standard string

const (
	StandardMulaw Standard = "mulaw"
	StandardAlaw  Standard = "alaw"
)

// ParseStandard maps a config string to a companding Standard.
func ParseStandard(raw string) (Standard, error) {
	switch Standard(raw) {
	case StandardMulaw:
		return StandardMulaw, nil
	case StandardAlaw:
		return StandardAlaw, nil
	}
	return "", fmt.Errorf("unknown companding standard %q (want mulaw or alaw)", raw)
}

// Codec converts between companded 8-bit telephony audio and linear16.
// It is stateless; one value can serve any number of calls concurrently.
type Codec struct {
	standard Standard
}

// NewCodec builds a codec for the given companding standard.
func NewCodec(standard Standard) (Codec, error) {
	switch standard {
	case StandardMulaw, StandardAlaw:
		return Codec{standard: standard}, nil
	}
	return Codec{}, fmt.Errorf("unknown companding standard %q", standard)
}

// Standard returns the companding standard this codec applies.
func (c Codec) Standard() Standard {
	return c.standard
}

// Decode expands companded 8-bit samples to linear16 (little endian).
// Every input byte is a valid companded sample, so Decode is total.
func (c Codec) Decode(companded []byte) []byte {
	if len(companded) == 0 {
		return nil
	}
	if c.standard == StandardAlaw {
		return g711.DecodeAlaw(companded)
	}
	return g711.DecodeUlaw(companded)
}

// Encode compresses linear16 samples (little endian) to companded 8-bit.
// Out-of-range magnitudes are clamped by the companding table, never
// rejected. An odd-length input violates the linear16 contract.
func (c Codec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("linear16 input must be even-length, got %d bytes", len(pcm))
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	pcm = clampLinear(pcm)
	if c.standard == StandardAlaw {
		return g711.EncodeAlaw(pcm), nil
	}
	return g711.EncodeUlaw(pcm), nil
}

// clampLinear bounds every sample to the companded range. The input is only
// copied when a sample actually needs clamping.
func clampLinear(pcm []byte) []byte {
	out := pcm
	copied := false
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		if s >= -clipLevel && s <= clipLevel {
			continue
		}
		if !copied {
			out = make([]byte, len(pcm))
			copy(out, pcm)
			copied = true
		}
		if s > clipLevel {
			s = clipLevel
		} else {
			s = -clipLevel
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(s))
	}
	return out
}

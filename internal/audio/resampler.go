// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"encoding/binary"
	"fmt"
)

// Resample converts mono linear16 audio (little endian) between sample
// rates by linear interpolation. It consumes exactly the samples it is
// given and produces output for them immediately, with no lookahead and
// no added latency. Equal rates return the input unchanged.
func Resample(pcm []byte, fromRateHz, toRateHz int) ([]byte, error) {
	if fromRateHz <= 0 || toRateHz <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", fromRateHz, toRateHz)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("linear16 input must be even-length, got %d bytes", len(pcm))
	}
	if fromRateHz == toRateHz || len(pcm) == 0 {
		return pcm, nil
	}

	inSamples := len(pcm) / 2
	outSamples := inSamples * toRateHz / fromRateHz
	if outSamples == 0 {
		return nil, nil
	}

	out := make([]byte, outSamples*2)
	ratio := float64(fromRateHz) / float64(toRateHz)

	for i := 0; i < outSamples; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= inSamples-1 {
			// Tail samples hold the last input value.
			last := int16(binary.LittleEndian.Uint16(pcm[(inSamples-1)*2:]))
			binary.LittleEndian.PutUint16(out[i*2:], uint16(last))
			continue
		}
		frac := pos - float64(idx)
		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s1 := int16(binary.LittleEndian.Uint16(pcm[(idx+1)*2:]))
		interp := int16(float64(s0) + (float64(s1)-float64(s0))*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(interp))
	}
	return out, nil
}

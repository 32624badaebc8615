// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test helpers
// ============================================================================

// frameBytes matches a 20ms frame of linear16 at 8kHz.
const frameBytes = 320

func newTestScheduler(opts ...Option) *FrameScheduler {
	return New(frameBytes, opts...)
}

func patterned(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func silence(n int) []byte {
	return make([]byte, n)
}

// ============================================================================
// Pacing
// ============================================================================

func TestNextFrame_BurstPacedIntoFrames(t *testing.T) {
	s := newTestScheduler()

	// A 500ms burst arrives at once; it must come back as 25 ordered frames.
	burst := patterned(frameBytes*25, 1)
	assert.Zero(t, s.Push(burst))

	for i := 0; i < 25; i++ {
		frame, ok := s.NextFrame()
		require.True(t, ok)
		require.Len(t, frame, frameBytes)
		assert.Equal(t, burst[i*frameBytes:(i+1)*frameBytes], frame,
			"frame %d out of order", i)
	}
	assert.Zero(t, s.Buffered(), "burst should be fully consumed")
}

func TestNextFrame_UnderrunEmitsSilence(t *testing.T) {
	s := newTestScheduler()

	frame, ok := s.NextFrame()
	require.True(t, ok, "a live session always gets a frame")
	assert.Equal(t, silence(frameBytes), frame, "underrun must be padded with silence")
}

func TestNextFrame_PartialFrameHeldBack(t *testing.T) {
	s := newTestScheduler()
	partial := patterned(100, 7)
	s.Push(partial)

	frame, ok := s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, silence(frameBytes), frame, "a partial frame is held, not emitted early")
	assert.Equal(t, 100, s.Buffered(), "the partial must survive the tick")

	// Once the rest arrives the partial leads the next frame.
	s.Push(patterned(frameBytes, 50))
	frame, ok = s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, partial, frame[:100], "held partial should come out first")
}

// ============================================================================
// Barge-in flush
// ============================================================================

func TestFlush_DiscardsEverythingBuffered(t *testing.T) {
	s := newTestScheduler()
	s.Push(patterned(frameBytes*10, 3))

	s.Flush()
	assert.Zero(t, s.Buffered())

	frame, ok := s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, silence(frameBytes), frame, "post-flush ticks get silence until new audio arrives")
}

func TestFlush_ThenNewAudioPlays(t *testing.T) {
	s := newTestScheduler()
	s.Push(patterned(frameBytes*5, 9))
	s.Flush()

	fresh := patterned(frameBytes, 60)
	s.Push(fresh)

	frame, ok := s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, fresh, frame, "audio pushed after a flush must not be affected by it")
}

// ============================================================================
// High-water mark
// ============================================================================

func TestPush_DropOldestOnOverrun(t *testing.T) {
	s := newTestScheduler(WithHighWaterMark(frameBytes * 2))

	old := patterned(frameBytes*2, 1)
	s.Push(old)
	fresh := patterned(frameBytes, 101)
	dropped := s.Push(fresh)

	assert.Equal(t, frameBytes, dropped, "overflow beyond the mark is discarded")
	assert.Equal(t, frameBytes*2, s.Buffered())

	// The stalest frame went; the survivors keep arrival order.
	frame, ok := s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, old[frameBytes:], frame, "oldest audio should have been dropped")

	frame, ok = s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, fresh, frame)
}

func TestPush_DropNewestOnOverrun(t *testing.T) {
	s := newTestScheduler(WithHighWaterMark(frameBytes*2), WithDropPolicy(DropNewest))

	old := patterned(frameBytes*2, 1)
	s.Push(old)
	dropped := s.Push(patterned(frameBytes, 101))

	assert.Equal(t, frameBytes, dropped)

	frame, ok := s.NextFrame()
	require.True(t, ok)
	assert.Equal(t, old[:frameBytes], frame, "newest-drop keeps the already buffered audio")
}

func TestPush_NoCapWithoutHighWater(t *testing.T) {
	s := newTestScheduler()
	dropped := s.Push(patterned(frameBytes*100, 5))
	assert.Zero(t, dropped)
	assert.Equal(t, frameBytes*100, s.Buffered())
}

// ============================================================================
// Draining
// ============================================================================

func TestDraining_EmitsRemainderThenExhausts(t *testing.T) {
	s := newTestScheduler()
	s.Push(patterned(frameBytes+100, 11))
	s.SetDraining()

	// Full frame first.
	frame, ok := s.NextFrame()
	require.True(t, ok)
	require.Len(t, frame, frameBytes)

	// Then the zero-padded remainder.
	frame, ok = s.NextFrame()
	require.True(t, ok)
	require.Len(t, frame, frameBytes)
	assert.Equal(t, patterned(frameBytes+100, 11)[frameBytes:], frame[:100])
	assert.Equal(t, silence(frameBytes-100), frame[100:], "remainder must be zero-padded to a full frame")

	// Then exhaustion, not silence.
	_, ok = s.NextFrame()
	assert.False(t, ok, "a drained scheduler reports exhaustion instead of padding")
}

func TestDraining_EmptyBufferExhaustsImmediately(t *testing.T) {
	s := newTestScheduler()
	s.SetDraining()
	_, ok := s.NextFrame()
	assert.False(t, ok)
}

// ============================================================================
// Concurrency
// ============================================================================

func TestPushAndNextFrame_Concurrent(t *testing.T) {
	s := newTestScheduler(WithHighWaterMark(frameBytes * 50))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Push(patterned(frameBytes/2, byte(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			frame, ok := s.NextFrame()
			assert.True(t, ok)
			assert.Len(t, frame, frameBytes)
		}
	}()
	wg.Wait()
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio_scheduler

import "sync"

// DropPolicy picks which side of the buffer gives way on overrun.
type DropPolicy string

const (
	// DropOldest discards the stalest unsent audio first. This is the
	// default; it keeps caller-perceived latency lowest.
	DropOldest DropPolicy = "oldest"

	// DropNewest discards the just-pushed audio instead.
	DropNewest DropPolicy = "newest"
)

// Option configures a FrameScheduler.
type Option func(*FrameScheduler)

// WithHighWaterMark caps the buffer at the given byte count. Zero or
// negative disables the cap.
func WithHighWaterMark(bytes int) Option {
	return func(s *FrameScheduler) { s.highWater = bytes }
}

// WithDropPolicy selects which audio is discarded on overrun.
func WithDropPolicy(p DropPolicy) Option {
	return func(s *FrameScheduler) { s.dropPolicy = p }
}

// FrameScheduler absorbs bursty linear16 audio from the speech service and
// hands it back as fixed-duration frames, one per pacing tick. Telephony
// transports degrade if the frame cadence wobbles, so the scheduler pads
// with silence on underrun and drops audio (bounded by the high-water mark)
// rather than ever stalling a tick.
//
// All methods are safe for concurrent use: the speech reader pushes while
// the output writer ticks.
type FrameScheduler struct {
	mu         sync.Mutex
	buf        []byte
	frameBytes int
	highWater  int
	dropPolicy DropPolicy
	draining   bool
}

// New builds a scheduler that emits frames of frameBytes linear16 bytes.
func New(frameBytes int, opts ...Option) *FrameScheduler {
	s := &FrameScheduler{
		frameBytes: frameBytes,
		dropPolicy: DropOldest,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push appends audio to the buffer, in arrival order, and never blocks.
// When the high-water mark is exceeded the overflow is discarded per the
// drop policy; the number of dropped bytes is returned so the caller can
// surface the overrun.
func (s *FrameScheduler) Push(pcm []byte) (dropped int) {
	if len(pcm) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, pcm...)
	if s.highWater <= 0 || len(s.buf) <= s.highWater {
		return 0
	}

	dropped = len(s.buf) - s.highWater
	if s.dropPolicy == DropNewest {
		s.buf = s.buf[:s.highWater]
	} else {
		s.buf = append(s.buf[:0], s.buf[dropped:]...)
	}
	return dropped
}

// NextFrame is called once per pacing tick. It returns exactly one frame:
//
//   - a full frame of buffered audio when enough is available;
//   - pure silence when the buffer holds less than a frame and the session
//     is still live (a partial frame is held back, not emitted early);
//   - the zero-padded remainder when draining with a partial frame left;
//   - nothing (ok=false) when draining and the buffer is empty.
func (s *FrameScheduler) NextFrame() (frame []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) >= s.frameBytes {
		frame = make([]byte, s.frameBytes)
		copy(frame, s.buf)
		s.buf = append(s.buf[:0], s.buf[s.frameBytes:]...)
		return frame, true
	}

	if s.draining {
		if len(s.buf) == 0 {
			return nil, false
		}
		frame = make([]byte, s.frameBytes)
		copy(frame, s.buf)
		s.buf = s.buf[:0]
		return frame, true
	}

	// Underrun while live: keep the cadence with silence, retain any partial.
	return make([]byte, s.frameBytes), true
}

// Flush discards all buffered audio. Called on barge-in so the caller never
// hears stale synthesis after starting to speak.
func (s *FrameScheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}

// SetDraining switches the scheduler to drain mode: remaining audio is
// emitted (last frame zero-padded) and then NextFrame reports exhaustion.
func (s *FrameScheduler) SetDraining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
}

// Buffered returns the number of buffered, unsent bytes.
func (s *FrameScheduler) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

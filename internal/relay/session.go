// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_audio "github.com/rapidaai/voice-bridge/internal/audio"
	internal_audio_scheduler "github.com/rapidaai/voice-bridge/internal/audio/scheduler"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
	"github.com/rapidaai/voice-bridge/pkg/utils"
)

// Session owns one call: the telephony link, the speech link, the codec
// passes between them, and the paced output toward the caller. Three
// goroutines serve it: the telephony reader, the speech reader, and the
// output writer driven by the frame ticker. Shared state (state field,
// scheduler buffer) is mutex-guarded; neither reader ever blocks the
// ticker, and a slow telephony send only ever costs frames on its own leg.
type Session struct {
	id        string
	logger    commons.Logger
	cfg       Config
	telephony internal_type.TelephonyLink
	dialer    internal_type.SpeechDialer
	scheduler *internal_audio_scheduler.FrameScheduler
	registry  *Registry
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       SessionState
	reason      CloseReason
	speech      internal_type.SpeechLink
	pendingMark bool

	drainOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(
	logger commons.Logger,
	cfg Config,
	id string,
	telephony internal_type.TelephonyLink,
	dialer internal_type.SpeechDialer,
	registry *Registry,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		logger:    logger,
		cfg:       cfg,
		telephony: telephony,
		dialer:    dialer,
		registry:  registry,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateConnecting,
		scheduler: internal_audio_scheduler.New(cfg.frameBytes(),
			internal_audio_scheduler.WithHighWaterMark(cfg.highWaterBytes()),
			internal_audio_scheduler.WithDropPolicy(cfg.DropPolicy),
		),
		done: make(chan struct{}),
	}
}

// ID returns the call identifier the session was created for.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state machine position.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the close reason once the session has started shutting
// down; empty before that.
func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// CreatedAt returns when the telephony leg announced stream start.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Done is closed once the session reaches Closed and has been removed from
// the registry.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close requests an orderly teardown. Idempotent.
func (s *Session) Close() {
	s.shutdown(ReasonNormal)
}

// run drives the Connecting state: dial the speech service with a bounded
// handshake, then go Active and start the relay goroutines.
func (s *Session) run() {
	hsCtx, hsCancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer hsCancel()

	hsStart := time.Now()
	speech, err := s.dialer.Dial(hsCtx)
	s.logger.Benchmark("speech_handshake", time.Since(hsStart))
	if err != nil {
		s.logger.Errorw("Speech handshake failed, closing call",
			"call_id", s.id,
			"error", err.Error(),
		)
		s.close(ReasonHandshakeFailure)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Torn down while dialing.
		s.mu.Unlock()
		_ = speech.Close()
		return
	}
	s.speech = speech
	s.state = StateActive
	s.mu.Unlock()

	s.logger.Infow("Session active",
		"call_id", s.id,
		"telephony_rate", s.cfg.TelephonyRate,
		"speech_input_rate", s.cfg.SpeechInputRate,
		"speech_output_rate", s.cfg.SpeechOutputRate,
	)

	utils.Go(s.ctx, s.runTelephonyReader)
	utils.Go(s.ctx, s.runSpeechReader)
	utils.Go(s.ctx, s.runOutputWriter)
}

// speechLink returns the speech link, nil until the handshake completes.
func (s *Session) speechLink() internal_type.SpeechLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speech
}

// =============================================================================
// Telephony → speech leg
// =============================================================================

// runTelephonyReader pumps caller audio to the speech service: receive a
// companded frame, expand to linear16, resample to the service's rate, and
// forward as-is. This leg is unbuffered: the service accepts arbitrary
// chunk sizes, so each frame is forwarded on arrival, in arrival order.
func (s *Session) runTelephonyReader() {
	for {
		frame, err := s.telephony.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Infow("Telephony stream ended", "call_id", s.id)
				s.shutdown(ReasonTelephonyClosed)
			} else {
				s.logger.Errorw("Telephony receive failed",
					"call_id", s.id,
					"error", err.Error(),
				)
				s.shutdown(ReasonTransportFailure)
			}
			return
		}
		if s.State() != StateActive {
			continue
		}

		pcm := s.cfg.Codec.Decode(frame)
		pcm, err = internal_audio.Resample(pcm, s.cfg.TelephonyRate, s.cfg.SpeechInputRate)
		if err != nil {
			// Decode output is always even-length and rates are validated at
			// construction, so this can only be a programming error.
			s.logger.Errorw("CODEC CONTRACT VIOLATION on caller audio, aborting call",
				"call_id", s.id,
				"error", err.Error(),
			)
			s.close(ReasonCodecViolation)
			return
		}

		speech := s.speechLink()
		if speech == nil {
			continue
		}
		sendErr := s.sendWithRetry(func() error {
			return speech.SendAudio(pcm, s.cfg.SpeechInputRate)
		})
		if sendErr != nil {
			s.logger.Warnw("Dropping caller audio chunk after send retries",
				"call_id", s.id,
				"bytes", len(pcm),
				"error", sendErr.Error(),
			)
		}
	}
}

// =============================================================================
// Speech → telephony leg
// =============================================================================

// runSpeechReader pumps service events into the scheduler. Synthesized
// audio is resampled down to the telephony rate and buffered for pacing;
// interruption flushes both the local buffer and the provider's.
func (s *Session) runSpeechReader() {
	speech := s.speechLink()
	for {
		ev, err := speech.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Infow("Speech stream ended", "call_id", s.id)
				s.shutdown(ReasonSpeechClosed)
			} else {
				s.logger.Errorw("Speech receive failed",
					"call_id", s.id,
					"error", err.Error(),
				)
				// The caller keeps hearing scheduler silence until the drain
				// grace elapses, not an abrupt cut.
				s.shutdown(ReasonTransportFailure)
			}
			return
		}

		switch ev.Kind {
		case internal_type.SpeechEventAudio:
			pcm, rerr := internal_audio.Resample(ev.Audio, s.cfg.SpeechOutputRate, s.cfg.TelephonyRate)
			if rerr != nil {
				s.logger.Errorw("CODEC CONTRACT VIOLATION on synthesized audio, aborting call",
					"call_id", s.id,
					"error", rerr.Error(),
				)
				s.close(ReasonCodecViolation)
				return
			}
			if dropped := s.scheduler.Push(pcm); dropped > 0 {
				s.logger.Warnw("Output buffer overrun, stale synthesis dropped",
					"call_id", s.id,
					"dropped_bytes", dropped,
				)
			}

		case internal_type.SpeechEventTurnComplete:
			// The call stays Active; more caller turns may follow. Queue a
			// playback mark for when the buffered turn has been paced out.
			s.mu.Lock()
			s.pendingMark = true
			s.mu.Unlock()
			s.logger.Debugw("Speech turn complete", "call_id", s.id)

		case internal_type.SpeechEventInterrupted:
			s.scheduler.Flush()
			if cerr := s.telephony.Clear(); cerr != nil {
				s.logger.Warnw("Failed to clear provider playback buffer",
					"call_id", s.id,
					"error", cerr.Error(),
				)
			}
			s.logger.Debugw("Barge-in, flushed queued synthesis", "call_id", s.id)
		}
	}
}

// =============================================================================
// Paced output writer
// =============================================================================

// runOutputWriter ticks at the telephony frame cadence and sends exactly
// one frame per tick: buffered synthesis when available, silence otherwise.
// Nothing on this leg may block ingestion; send failures cost only the
// frame being sent.
func (s *Session) runOutputWriter() {
	ticker := time.NewTicker(s.cfg.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		switch s.State() {
		case StateConnecting:
			continue
		case StateClosed:
			return
		}

		frame, ok := s.scheduler.NextFrame()
		if !ok {
			// Draining and fully flushed.
			s.close(s.Reason())
			return
		}

		encoded, err := s.cfg.Codec.Encode(frame)
		if err != nil {
			s.logger.Errorw("CODEC CONTRACT VIOLATION on outbound frame, aborting call",
				"call_id", s.id,
				"error", err.Error(),
			)
			s.close(ReasonCodecViolation)
			return
		}

		if sendErr := s.sendWithRetry(func() error { return s.telephony.Send(encoded) }); sendErr != nil {
			s.logger.Warnw("Dropping outbound frame after send retries",
				"call_id", s.id,
				"error", sendErr.Error(),
			)
			continue
		}

		s.maybeSendMark()
	}
}

// maybeSendMark emits the queued playback mark once the buffered turn has
// fully left the scheduler.
func (s *Session) maybeSendMark() {
	if s.scheduler.Buffered() > 0 {
		return
	}
	s.mu.Lock()
	pending := s.pendingMark && s.state == StateActive
	if pending {
		s.pendingMark = false
	}
	s.mu.Unlock()
	if !pending {
		return
	}
	if err := s.telephony.SendMark("turn-" + uuid.NewString()); err != nil {
		s.logger.Debugw("Failed to send playback mark", "call_id", s.id, "error", err.Error())
	}
}

// sendWithRetry retries a transient transport send a bounded number of
// times. On exhaustion the frame is the caller's to drop.
func (s *Session) sendWithRetry(send func() error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.SendRetries; attempt++ {
		if err = send(); err == nil {
			return nil
		}
		select {
		case <-s.ctx.Done():
			return err
		default:
		}
	}
	return err
}

// =============================================================================
// Teardown
// =============================================================================

// shutdown moves the session into Draining exactly once. The surviving leg
// gets DrainGrace to flush; when the telephony leg itself is gone there is
// nothing to flush to, so the buffer is discarded and the next tick closes.
func (s *Session) shutdown(reason CloseReason) {
	s.drainOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		fromConnecting := s.state == StateConnecting
		s.state = StateDraining
		if s.reason == "" {
			s.reason = reason
		}
		s.mu.Unlock()

		if fromConnecting {
			// No legs relaying yet, nothing to drain.
			s.close(reason)
			return
		}

		s.logger.Infow("Session draining",
			"call_id", s.id,
			"reason", string(reason),
			"buffered_bytes", s.scheduler.Buffered(),
		)

		if reason == ReasonTelephonyClosed || reason == ReasonShutdown {
			s.scheduler.Flush()
		}
		s.scheduler.SetDraining()

		grace := s.cfg.DrainGrace
		time.AfterFunc(grace, func() { s.close(reason) })
	})
}

// close is the terminal transition. Idempotent: both links are released,
// the registry entry removed, and Done closed exactly once.
func (s *Session) close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		if s.reason == "" {
			s.reason = reason
		}
		reason = s.reason
		speech := s.speech
		s.mu.Unlock()

		s.cancel()
		if speech != nil {
			_ = speech.Close()
		}
		_ = s.telephony.Close()

		if s.registry != nil {
			s.registry.remove(s.id, s)
		}
		close(s.done)

		s.logger.Infow("Session closed",
			"call_id", s.id,
			"reason", string(reason),
			"duration_ms", time.Since(s.createdAt).Milliseconds(),
		)
	})
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_relay

import (
	"context"
	"fmt"
	"sync"

	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
	"github.com/rapidaai/voice-bridge/pkg/utils"
)

// Registry is the process-wide map of active sessions, keyed by the call
// identifier the telephony provider issued. It guarantees at most one
// session per identifier and is the only state shared across calls.
// Entries never leave the guarded accessors.
type Registry struct {
	logger commons.Logger
	cfg    Config
	dialer internal_type.SpeechDialer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds a registry whose sessions share cfg and dial the
// speech service through dialer.
func NewRegistry(logger commons.Logger, cfg Config, dialer internal_type.SpeechDialer) *Registry {
	return &Registry{
		logger:   logger,
		cfg:      cfg,
		dialer:   dialer,
		sessions: make(map[string]*Session),
	}
}

// OnCallStart creates and starts a session for a new media stream.
// Atomic create-or-reject: a second stream claiming the same call
// identifier gets ErrDuplicateCall and the original session is untouched.
func (r *Registry) OnCallStart(callID string, telephony internal_type.TelephonyLink) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[callID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("call %s: %w", callID, ErrDuplicateCall)
	}
	session := newSession(r.logger, r.cfg, callID, telephony, r.dialer, r)
	r.sessions[callID] = session
	r.mu.Unlock()

	r.logger.Infow("Call started", "call_id", callID, "active_calls", r.Len())
	utils.Go(session.ctx, session.run)
	return session, nil
}

// OnCallEnd is invoked when the handshake collaborator observes the
// telephony leg closing externally. Unknown identifiers are a no-op.
func (r *Registry) OnCallEnd(callID string) {
	if session, ok := r.Lookup(callID); ok {
		session.shutdown(ReasonTelephonyClosed)
	}
}

// Lookup returns the active session for a call identifier, if any.
func (r *Registry) Lookup(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[callID]
	return session, ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// remove drops a session's entry once it reaches Closed. The pointer check
// keeps a late removal from evicting a newer session reusing the id.
func (r *Registry) remove(callID string, session *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[callID]; ok && current == session {
		delete(r.sessions, callID)
	}
	r.mu.Unlock()
}

// Shutdown tears down every active session and waits for them to close or
// for ctx to expire, whichever comes first.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	active := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		active = append(active, session)
	}
	r.mu.Unlock()

	for _, session := range active {
		session.shutdown(ReasonShutdown)
	}
	for _, session := range active {
		select {
		case <-session.Done():
		case <-ctx.Done():
			return
		}
	}
}

// Package session tracks per-session ceremony and login state.
package session

import (
	"time"

	"github.com/louisbranch/keyless.space/internal/passkey"
)

// Phase names the session's position in the ceremony state machine.
type Phase string

const (
	// PhaseIdle means no ceremony is outstanding.
	PhaseIdle Phase = "idle"
	// PhaseAwaitingRegistration means registration options were issued.
	PhaseAwaitingRegistration Phase = "awaiting_registration"
	// PhaseAwaitingAuthentication means authentication options were issued.
	PhaseAwaitingAuthentication Phase = "awaiting_authentication"
)

// State is the logical session the orchestrator reads and writes.
//
// The zero value is a fresh, unauthenticated session. Transport concerns
// (cookies, session ids) live at the HTTP edge; this type only models the
// ceremony window and the logged-in identity.
type State struct {
	// CurrentChallenge is the outstanding ceremony challenge, empty when idle.
	CurrentChallenge string
	// PendingUserID is set between registration options and verify only.
	PendingUserID string
	// AuthenticatedUserID is the logged-in identity after a verified ceremony.
	// It is never cleared here; logout is outside this core.
	AuthenticatedUserID string

	// EngineSession is the ceremony engine's serialized session payload,
	// opaque to this package. It lives and dies with CurrentChallenge.
	EngineSession []byte
	// Kind records which ceremony the challenge belongs to.
	Kind passkey.CeremonyKind
	// IssuedAt is when the outstanding challenge was stored.
	IssuedAt time.Time
}

// Phase derives the state machine position from the stored fields.
func (s *State) Phase() Phase {
	if s.CurrentChallenge == "" {
		return PhaseIdle
	}
	if s.Kind == passkey.CeremonyKindRegistration {
		return PhaseAwaitingRegistration
	}
	return PhaseAwaitingAuthentication
}

// BeginRegistration stores a registration challenge and the pending user.
// Any outstanding ceremony state is overwritten, so a client retrying the
// options request gets a fresh challenge without leaking the old one.
func (s *State) BeginRegistration(challenge string, engineSession []byte, pendingUserID string, issuedAt time.Time) {
	s.CurrentChallenge = challenge
	s.EngineSession = engineSession
	s.PendingUserID = pendingUserID
	s.Kind = passkey.CeremonyKindRegistration
	s.IssuedAt = issuedAt.UTC()
}

// BeginAuthentication stores an authentication challenge.
func (s *State) BeginAuthentication(challenge string, engineSession []byte, issuedAt time.Time) {
	s.CurrentChallenge = challenge
	s.EngineSession = engineSession
	s.PendingUserID = ""
	s.Kind = passkey.CeremonyKindAuthentication
	s.IssuedAt = issuedAt.UTC()
}

// CompleteCeremony unconditionally closes the ceremony window.
//
// It runs on every verify path, success or failure, so a failed ceremony
// never leaves a reusable challenge behind. The caller passes the verified
// user id on success, or empty to leave the login state untouched.
func (s *State) CompleteCeremony(authenticatedUserID string) {
	s.CurrentChallenge = ""
	s.EngineSession = nil
	s.PendingUserID = ""
	s.Kind = ""
	s.IssuedAt = time.Time{}
	if authenticatedUserID != "" {
		s.AuthenticatedUserID = authenticatedUserID
	}
}

// ExpireCeremony drops ceremony state older than ttl without touching the
// logged-in identity.
func (s *State) ExpireCeremony(now time.Time, ttl time.Duration) {
	if s.CurrentChallenge == "" || ttl <= 0 {
		return
	}
	if now.UTC().Sub(s.IssuedAt) > ttl {
		s.CompleteCeremony("")
	}
}

// Empty reports whether the session carries no state worth keeping.
func (s *State) Empty() bool {
	return s.CurrentChallenge == "" && s.PendingUserID == "" && s.AuthenticatedUserID == ""
}

package session

import (
	"testing"
	"time"
)

func TestZeroValueIsIdle(t *testing.T) {
	var state State
	if state.Phase() != PhaseIdle {
		t.Fatalf("Phase = %q, want %q", state.Phase(), PhaseIdle)
	}
	if !state.Empty() {
		t.Fatal("expected zero value to be empty")
	}
}

func TestBeginRegistrationTransitions(t *testing.T) {
	var state State
	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	state.BeginRegistration("challenge-1", []byte("engine"), "user-1", issued)

	if state.Phase() != PhaseAwaitingRegistration {
		t.Fatalf("Phase = %q, want %q", state.Phase(), PhaseAwaitingRegistration)
	}
	if state.CurrentChallenge != "challenge-1" {
		t.Fatalf("CurrentChallenge = %q", state.CurrentChallenge)
	}
	if state.PendingUserID != "user-1" {
		t.Fatalf("PendingUserID = %q", state.PendingUserID)
	}
}

func TestBeginRegistrationOverwritesStaleChallenge(t *testing.T) {
	var state State
	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	state.BeginRegistration("challenge-1", []byte("one"), "user-1", issued)
	state.BeginRegistration("challenge-2", []byte("two"), "user-1", issued.Add(time.Second))

	if state.CurrentChallenge != "challenge-2" {
		t.Fatalf("CurrentChallenge = %q, want challenge-2", state.CurrentChallenge)
	}
	if string(state.EngineSession) != "two" {
		t.Fatalf("EngineSession = %q", state.EngineSession)
	}
}

func TestBeginAuthenticationClearsPendingUser(t *testing.T) {
	var state State
	issued := time.Now()
	state.BeginRegistration("challenge-1", nil, "user-1", issued)
	state.BeginAuthentication("challenge-2", []byte("engine"), issued)

	if state.Phase() != PhaseAwaitingAuthentication {
		t.Fatalf("Phase = %q, want %q", state.Phase(), PhaseAwaitingAuthentication)
	}
	if state.PendingUserID != "" {
		t.Fatalf("PendingUserID = %q, want empty", state.PendingUserID)
	}
}

func TestCompleteCeremonyAlwaysClosesReplayWindow(t *testing.T) {
	var state State
	state.BeginRegistration("challenge-1", []byte("engine"), "user-1", time.Now())

	// Failure path: no authenticated user, but the window still closes.
	state.CompleteCeremony("")
	if state.Phase() != PhaseIdle {
		t.Fatalf("Phase = %q, want idle after failed verify", state.Phase())
	}
	if state.CurrentChallenge != "" || state.PendingUserID != "" || state.EngineSession != nil {
		t.Fatalf("ceremony state leaked: %+v", state)
	}
	if state.AuthenticatedUserID != "" {
		t.Fatalf("AuthenticatedUserID = %q, want empty", state.AuthenticatedUserID)
	}
}

func TestCompleteCeremonySetsAuthenticatedUserOnSuccess(t *testing.T) {
	var state State
	state.BeginAuthentication("challenge-1", nil, time.Now())
	state.CompleteCeremony("user-1")

	if state.AuthenticatedUserID != "user-1" {
		t.Fatalf("AuthenticatedUserID = %q, want user-1", state.AuthenticatedUserID)
	}
	if state.Phase() != PhaseIdle {
		t.Fatalf("Phase = %q, want idle", state.Phase())
	}
}

func TestCompleteCeremonyKeepsExistingLogin(t *testing.T) {
	var state State
	state.AuthenticatedUserID = "user-1"
	state.BeginAuthentication("challenge-1", nil, time.Now())
	state.CompleteCeremony("")

	if state.AuthenticatedUserID != "user-1" {
		t.Fatalf("AuthenticatedUserID = %q, want user-1", state.AuthenticatedUserID)
	}
}

func TestExpireCeremonyClosesOnlyStaleWindows(t *testing.T) {
	var state State
	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	state.AuthenticatedUserID = "user-1"
	state.BeginAuthentication("challenge-1", nil, issued)

	state.ExpireCeremony(issued.Add(time.Minute), 5*time.Minute)
	if state.CurrentChallenge != "challenge-1" {
		t.Fatal("fresh ceremony must survive expiry check")
	}

	state.ExpireCeremony(issued.Add(6*time.Minute), 5*time.Minute)
	if state.CurrentChallenge != "" {
		t.Fatal("stale ceremony must be closed")
	}
	if state.AuthenticatedUserID != "user-1" {
		t.Fatal("expiry must not log the user out")
	}
}

func TestTrackerLoadSaveRoundTrip(t *testing.T) {
	tracker := NewTracker(5 * time.Minute)

	state := tracker.Load("session-1")
	state.BeginRegistration("challenge-1", []byte("engine"), "user-1", time.Now())
	tracker.Save("session-1", state)

	loaded := tracker.Load("session-1")
	if loaded.CurrentChallenge != "challenge-1" {
		t.Fatalf("CurrentChallenge = %q", loaded.CurrentChallenge)
	}
	if loaded.PendingUserID != "user-1" {
		t.Fatalf("PendingUserID = %q", loaded.PendingUserID)
	}
}

func TestTrackerSessionsAreIndependent(t *testing.T) {
	tracker := NewTracker(5 * time.Minute)

	first := tracker.Load("session-1")
	first.BeginRegistration("challenge-1", nil, "user-1", time.Now())
	tracker.Save("session-1", first)

	second := tracker.Load("session-2")
	if second.Phase() != PhaseIdle {
		t.Fatalf("session-2 Phase = %q, want idle", second.Phase())
	}
}

func TestTrackerLoadExpiresStaleCeremony(t *testing.T) {
	tracker := NewTracker(5 * time.Minute)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker.clock = func() time.Time { return now }

	state := tracker.Load("session-1")
	state.BeginAuthentication("challenge-1", nil, now)
	tracker.Save("session-1", state)

	now = now.Add(10 * time.Minute)
	loaded := tracker.Load("session-1")
	if loaded.CurrentChallenge != "" {
		t.Fatal("expected stale challenge to be dropped on load")
	}
}

func TestTrackerSweepDropsEmptySessions(t *testing.T) {
	tracker := NewTracker(time.Minute)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker.clock = func() time.Time { return now }

	ceremonyOnly := tracker.Load("ceremony-only")
	ceremonyOnly.BeginAuthentication("challenge-1", nil, now)
	tracker.Save("ceremony-only", ceremonyOnly)

	loggedIn := tracker.Load("logged-in")
	loggedIn.AuthenticatedUserID = "user-1"
	loggedIn.BeginAuthentication("challenge-2", nil, now)
	tracker.Save("logged-in", loggedIn)

	tracker.Sweep(now.Add(2 * time.Minute))

	if got := tracker.Load("ceremony-only"); !got.Empty() {
		t.Fatalf("expected ceremony-only session to be dropped, got %+v", got)
	}
	kept := tracker.Load("logged-in")
	if kept.AuthenticatedUserID != "user-1" {
		t.Fatal("sweep must not log out authenticated sessions")
	}
	if kept.CurrentChallenge != "" {
		t.Fatal("sweep must close the stale ceremony window")
	}
}

func TestTrackerSaveIgnoresEmptySessionID(t *testing.T) {
	tracker := NewTracker(time.Minute)
	var state State
	state.AuthenticatedUserID = "user-1"
	tracker.Save("", state)

	if got := tracker.Load(""); !got.Empty() {
		t.Fatalf("expected no state under empty id, got %+v", got)
	}
}

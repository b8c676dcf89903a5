package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/louisbranch/keyless.space/internal/ceremony"
	apperrors "github.com/louisbranch/keyless.space/internal/platform/errors"
	"github.com/louisbranch/keyless.space/internal/session"
)

type fakeCeremonies struct {
	registrationOptions   func(state *session.State, fingerprint string) (*protocol.CredentialCreation, error)
	verifyRegistration    func(state *session.State, body []byte) (ceremony.Result, error)
	authenticationOptions func(state *session.State, fingerprint string) (*protocol.CredentialAssertion, error)
	verifyAuthentication  func(state *session.State, body []byte) (ceremony.Result, error)
	confirmLogin          func(state *session.State) (string, error)
}

func (f *fakeCeremonies) RegistrationOptions(_ context.Context, state *session.State, fingerprint string) (*protocol.CredentialCreation, error) {
	if f.registrationOptions == nil {
		return &protocol.CredentialCreation{}, nil
	}
	return f.registrationOptions(state, fingerprint)
}

func (f *fakeCeremonies) VerifyRegistration(_ context.Context, state *session.State, body []byte) (ceremony.Result, error) {
	if f.verifyRegistration == nil {
		return ceremony.Result{}, errors.New("unexpected call")
	}
	return f.verifyRegistration(state, body)
}

func (f *fakeCeremonies) AuthenticationOptions(_ context.Context, state *session.State, fingerprint string) (*protocol.CredentialAssertion, error) {
	if f.authenticationOptions == nil {
		return &protocol.CredentialAssertion{}, nil
	}
	return f.authenticationOptions(state, fingerprint)
}

func (f *fakeCeremonies) VerifyAuthentication(_ context.Context, state *session.State, body []byte) (ceremony.Result, error) {
	if f.verifyAuthentication == nil {
		return ceremony.Result{}, errors.New("unexpected call")
	}
	return f.verifyAuthentication(state, body)
}

func (f *fakeCeremonies) ConfirmLogin(state *session.State) (string, error) {
	if f.confirmLogin == nil {
		if state.AuthenticatedUserID == "" {
			return "", apperrors.New(apperrors.CodeUnauthenticated, "not authenticated")
		}
		return state.AuthenticatedUserID, nil
	}
	return f.confirmLogin(state)
}

func newTestHandler(ceremonies Ceremonies) (*Handler, *session.Tracker, *SessionCodec) {
	tracker := session.NewTracker(5 * time.Minute)
	codec := NewSessionCodec([]byte("test-secret"), nil)
	handler := NewHandler(ceremonies, tracker, codec)
	counter := 0
	handler.newSessionID = func() (string, error) {
		counter++
		return "session-" + strings.Repeat("x", counter), nil
	}
	return handler, tracker, codec
}

func sessionCookieFor(t *testing.T, codec *SessionCodec, sessionID string) *http.Cookie {
	t.Helper()
	value, err := codec.Encode(sessionID)
	if err != nil {
		t.Fatalf("encode cookie: %v", err)
	}
	return &http.Cookie{Name: CookieName, Value: value}
}

func TestRegisterOptionsMintsSession(t *testing.T) {
	var gotFingerprint string
	ceremonies := &fakeCeremonies{
		registrationOptions: func(state *session.State, fingerprint string) (*protocol.CredentialCreation, error) {
			gotFingerprint = fingerprint
			state.BeginRegistration("challenge-1", []byte("{}"), "user-1", time.Now())
			return &protocol.CredentialCreation{}, nil
		},
	}
	handler, tracker, codec := newTestHandler(ceremonies)
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodGet, "/register/options", nil)
	req.Header.Set(DeviceIDHeader, "fp-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotFingerprint != "fp-1" {
		t.Fatalf("expected fingerprint forwarded, got %q", gotFingerprint)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	if !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes %+v", cookies[0])
	}

	sessionID, err := codec.Decode(cookies[0].Value)
	if err != nil {
		t.Fatalf("decode cookie: %v", err)
	}
	state := tracker.Load(sessionID)
	if state.PendingUserID != "user-1" || state.CurrentChallenge != "challenge-1" {
		t.Fatalf("expected ceremony state saved, got %+v", state)
	}
}

func TestRegisterOptionsReusesSessionCookie(t *testing.T) {
	handler, tracker, codec := newTestHandler(&fakeCeremonies{
		registrationOptions: func(state *session.State, _ string) (*protocol.CredentialCreation, error) {
			state.BeginRegistration("challenge-1", []byte("{}"), "user-1", time.Now())
			return &protocol.CredentialCreation{}, nil
		},
	})
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodGet, "/register/options", nil)
	req.AddCookie(sessionCookieFor(t, codec, "existing-session"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("expected no new cookie for an existing session")
	}
	if state := tracker.Load("existing-session"); state.PendingUserID != "user-1" {
		t.Fatalf("expected state saved under existing session, got %+v", state)
	}
}

func TestRegisterVerifySuccess(t *testing.T) {
	ceremonies := &fakeCeremonies{
		verifyRegistration: func(state *session.State, body []byte) (ceremony.Result, error) {
			state.CompleteCeremony("user-1")
			return ceremony.Result{Verified: true, UserID: "user-1", LoggedIn: true}, nil
		},
	}
	handler, tracker, codec := newTestHandler(ceremonies)
	mux := NewMux(handler)

	seeded := session.State{}
	seeded.BeginRegistration("challenge-1", []byte("{}"), "user-1", time.Now())
	tracker.Save("session-1", seeded)

	req := httptest.NewRequest(http.MethodPost, "/register/verify", strings.NewReader("{}"))
	req.AddCookie(sessionCookieFor(t, codec, "session-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result ceremony.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Verified || result.UserID != "user-1" || !result.LoggedIn {
		t.Fatalf("unexpected result %+v", result)
	}

	state := tracker.Load("session-1")
	if state.CurrentChallenge != "" || state.AuthenticatedUserID != "user-1" {
		t.Fatalf("expected saved post-ceremony state, got %+v", state)
	}
}

func TestRegisterVerifyFailureSavesClearedState(t *testing.T) {
	ceremonies := &fakeCeremonies{
		verifyRegistration: func(state *session.State, body []byte) (ceremony.Result, error) {
			state.CompleteCeremony("")
			return ceremony.Result{}, apperrors.New(apperrors.CodeNoPendingRegistration, "No pending registration found")
		},
	}
	handler, tracker, codec := newTestHandler(ceremonies)
	mux := NewMux(handler)

	seeded := session.State{}
	seeded.BeginRegistration("challenge-1", []byte("{}"), "user-1", time.Now())
	tracker.Save("session-1", seeded)

	req := httptest.NewRequest(http.MethodPost, "/register/verify", strings.NewReader("{}"))
	req.AddCookie(sessionCookieFor(t, codec, "session-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error != "No pending registration found" {
		t.Fatalf("unexpected error body %+v", body)
	}
	if state := tracker.Load("session-1"); state.CurrentChallenge != "" {
		t.Fatal("expected challenge cleared even on failure")
	}
}

func TestAuthVerifyUnknownCredential(t *testing.T) {
	ceremonies := &fakeCeremonies{
		verifyAuthentication: func(state *session.State, body []byte) (ceremony.Result, error) {
			state.CompleteCeremony("")
			return ceremony.Result{}, apperrors.New(apperrors.CodeCredentialNotFound, "Credential not found")
		},
	}
	handler, _, codec := newTestHandler(ceremonies)
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader("{}"))
	req.AddCookie(sessionCookieFor(t, codec, "session-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error != "Credential not found" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestMe(t *testing.T) {
	handler, tracker, codec := newTestHandler(&fakeCeremonies{})
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var anonymous loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &anonymous); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if anonymous.LoggedIn || anonymous.UserID != "" {
		t.Fatalf("expected anonymous session, got %+v", anonymous)
	}

	tracker.Save("session-1", session.State{AuthenticatedUserID: "user-1"})
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(sessionCookieFor(t, codec, "session-1"))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var authenticated loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &authenticated); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !authenticated.LoggedIn || authenticated.UserID != "user-1" {
		t.Fatalf("expected logged-in session, got %+v", authenticated)
	}
}

func TestLoginAfterRegister(t *testing.T) {
	handler, tracker, codec := newTestHandler(&fakeCeremonies{})
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodPost, "/auth/login-after-register", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var anonymous loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &anonymous); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if anonymous.LoggedIn {
		t.Fatalf("expected loggedIn false, got %+v", anonymous)
	}

	tracker.Save("session-1", session.State{AuthenticatedUserID: "user-1"})
	req = httptest.NewRequest(http.MethodPost, "/auth/login-after-register", nil)
	req.AddCookie(sessionCookieFor(t, codec, "session-1"))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var confirmed loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &confirmed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !confirmed.LoggedIn || confirmed.UserID != "user-1" {
		t.Fatalf("expected confirmed login, got %+v", confirmed)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _, _ := newTestHandler(&fakeCeremonies{})
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodPost, "/me", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodGet) {
		t.Fatalf("expected Allow header with GET, got %q", allow)
	}
}

func TestHealthz(t *testing.T) {
	handler, _, _ := newTestHandler(&fakeCeremonies{})
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestInvalidCookieMintsNewSession(t *testing.T) {
	handler, _, _ := newTestHandler(&fakeCeremonies{})
	mux := NewMux(handler)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-token"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cookies := rec.Result().Cookies(); len(cookies) != 1 {
		t.Fatalf("expected replacement cookie, got %v", cookies)
	}
}

func TestSessionCodecRoundTrip(t *testing.T) {
	codec := NewSessionCodec([]byte("secret-a"), nil)

	value, err := codec.Encode("session-1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	sessionID, err := codec.Decode(value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sessionID != "session-1" {
		t.Fatalf("unexpected session id %q", sessionID)
	}

	other := NewSessionCodec([]byte("secret-b"), nil)
	if _, err := other.Decode(value); err == nil {
		t.Fatal("expected decode to fail with a different secret")
	}
}

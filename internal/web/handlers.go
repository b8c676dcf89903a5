package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/louisbranch/keyless.space/internal/ceremony"
	apperrors "github.com/louisbranch/keyless.space/internal/platform/errors"
	"github.com/louisbranch/keyless.space/internal/platform/id"
	"github.com/louisbranch/keyless.space/internal/session"
)

// DeviceIDHeader carries the opaque device fingerprint computed client-side.
const DeviceIDHeader = "X-Device-Id"

// maxBodyBytes caps ceremony response payloads. Attestation objects for
// platform authenticators stay well under this.
const maxBodyBytes = 1 << 20

// Ceremonies defines the orchestrator operations the HTTP surface consumes.
type Ceremonies interface {
	RegistrationOptions(ctx context.Context, state *session.State, fingerprint string) (*protocol.CredentialCreation, error)
	VerifyRegistration(ctx context.Context, state *session.State, body []byte) (ceremony.Result, error)
	AuthenticationOptions(ctx context.Context, state *session.State, fingerprint string) (*protocol.CredentialAssertion, error)
	VerifyAuthentication(ctx context.Context, state *session.State, body []byte) (ceremony.Result, error)
	ConfirmLogin(state *session.State) (string, error)
}

// Handler serves the ceremony endpoints.
type Handler struct {
	ceremonies   Ceremonies
	sessions     *session.Tracker
	codec        *SessionCodec
	newSessionID func() (string, error)
}

// NewHandler wires the HTTP surface to its collaborators.
func NewHandler(ceremonies Ceremonies, sessions *session.Tracker, codec *SessionCodec) *Handler {
	return &Handler{
		ceremonies:   ceremonies,
		sessions:     sessions,
		codec:        codec,
		newSessionID: id.NewID,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type loginResponse struct {
	LoggedIn bool   `json:"loggedIn"`
	UserID   string `json:"userId,omitempty"`
}

// HandleRegisterOptions issues registration ceremony options.
func (h *Handler) HandleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	sessionID, state, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	options, err := h.ceremonies.RegistrationOptions(r.Context(), &state, deviceFingerprint(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Save(sessionID, state)

	writeJSON(w, http.StatusOK, options)
}

// HandleRegisterVerify validates a registration ceremony response.
func (h *Handler) HandleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	sessionID, state, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "read request body", err))
		return
	}

	result, verifyErr := h.ceremonies.VerifyRegistration(r.Context(), &state, body)
	// The verify attempt mutates the ceremony window even on failure.
	h.sessions.Save(sessionID, state)
	if verifyErr != nil {
		writeError(w, verifyErr)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleAuthOptionsQuick issues authentication ceremony options, biased by
// the device fingerprint when the device is linked.
func (h *Handler) HandleAuthOptionsQuick(w http.ResponseWriter, r *http.Request) {
	sessionID, state, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	options, err := h.ceremonies.AuthenticationOptions(r.Context(), &state, deviceFingerprint(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Save(sessionID, state)

	writeJSON(w, http.StatusOK, options)
}

// HandleAuthVerify validates an authentication ceremony response.
func (h *Handler) HandleAuthVerify(w http.ResponseWriter, r *http.Request) {
	sessionID, state, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidInput, "read request body", err))
		return
	}

	result, verifyErr := h.ceremonies.VerifyAuthentication(r.Context(), &state, body)
	h.sessions.Save(sessionID, state)
	if verifyErr != nil {
		writeError(w, verifyErr)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleMe reports the session's login state.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	_, state, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	if state.AuthenticatedUserID == "" {
		writeJSON(w, http.StatusOK, loginResponse{LoggedIn: false})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{LoggedIn: true, UserID: state.AuthenticatedUserID})
}

// HandleLoginAfterRegister confirms the login established by a registration
// ceremony without running a second ceremony.
func (h *Handler) HandleLoginAfterRegister(w http.ResponseWriter, r *http.Request) {
	_, state, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	userID, err := h.ceremonies.ConfirmLogin(&state)
	if err != nil {
		writeJSON(w, apperrors.HTTPStatus(err), loginResponse{LoggedIn: false})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{LoggedIn: true, UserID: userID})
}

// HandleHealthz reports process liveness.
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, "ok"); err != nil {
		log.Printf("write health response: %v", err)
	}
}

// ensureSession resolves the request's session id, minting a fresh session
// and setting the cookie when none is present or the cookie fails to verify.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) (string, session.State, error) {
	if value, ok := readSessionCookie(r); ok {
		if sessionID, err := h.codec.Decode(value); err == nil {
			return sessionID, h.sessions.Load(sessionID), nil
		}
	}

	sessionID, err := h.newSessionID()
	if err != nil {
		return "", session.State{}, apperrors.Wrap(apperrors.CodeUnknown, "mint session id", err)
	}
	value, err := h.codec.Encode(sessionID)
	if err != nil {
		return "", session.State{}, apperrors.Wrap(apperrors.CodeUnknown, "encode session cookie", err)
	}
	writeSessionCookie(w, r, value)
	return sessionID, session.State{}, nil
}

func deviceFingerprint(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(DeviceIDHeader))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

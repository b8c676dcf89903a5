package ceremony

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/louisbranch/keyless.space/internal/platform/errors"
	"github.com/louisbranch/keyless.space/internal/session"
	"github.com/louisbranch/keyless.space/internal/storage"
)

// AuthenticationOptions produces assertion options and opens the ceremony
// window on the session.
//
// A device link with at least one stored credential yields an allow-list
// biased toward the linked user's credentials. Everything else falls back to
// a discoverable (usernameless) ceremony where the authenticator picks the
// resident credential.
func (o *Orchestrator) AuthenticationOptions(ctx context.Context, state *session.State, fingerprint string) (*protocol.CredentialAssertion, error) {
	if o.engineInitErr != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "ceremony engine unavailable", o.engineInitErr)
	}

	assertion, engineSession, err := o.beginAssertion(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(engineSession)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode engine session", err)
	}
	state.BeginAuthentication(engineSession.Challenge, payload, o.clock())

	return assertion, nil
}

func (o *Orchestrator) beginAssertion(ctx context.Context, fingerprint string) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	verification := webauthn.WithUserVerification(protocol.VerificationRequired)

	if fingerprint != "" {
		linkedID, err := o.deviceLinks.LookupDeviceLink(ctx, fingerprint)
		switch {
		case err == nil:
			stored, err := o.credentials.ListCredentialsByUser(ctx, linkedID)
			if err != nil {
				return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "list credentials", err)
			}
			if len(stored) > 0 {
				linked, err := o.users.GetUser(ctx, linkedID)
				if err != nil {
					return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "load linked user", err)
				}
				credentials, err := toEngineCredentials(stored)
				if err != nil {
					return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "decode stored credentials", err)
				}
				assertion, engineSession, err := o.engine.BeginLogin(&ceremonyUser{user: linked, credentials: credentials}, verification)
				if err != nil {
					return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "begin login", err)
				}
				return assertion, engineSession, nil
			}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "lookup device link", err)
		}
	}

	assertion, engineSession, err := o.engine.BeginDiscoverableLogin(verification)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeUnknown, "begin discoverable login", err)
	}
	return assertion, engineSession, nil
}

// VerifyAuthentication validates an assertion response, enforces sign-count
// monotonicity, records credential use, and logs the session in.
//
// Like registration, the ceremony window closes on every path out of this
// method.
func (o *Orchestrator) VerifyAuthentication(ctx context.Context, state *session.State, body []byte) (Result, error) {
	if o.engineInitErr != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "ceremony engine unavailable", o.engineInitErr)
	}

	if state.Phase() != session.PhaseAwaitingAuthentication {
		state.CompleteCeremony("")
		return Result{}, apperrors.New(apperrors.CodeCeremonyVerificationFailed, "no pending authentication ceremony")
	}
	engineSessionPayload := state.EngineSession

	parsed, err := o.parser.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid authentication response", err)
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := o.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		state.CompleteCeremony("")
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, apperrors.New(apperrors.CodeCredentialNotFound, "Credential not found")
		}
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "load credential", err)
	}

	owner, err := o.users.GetUser(ctx, stored.UserID)
	if err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "load credential owner", err)
	}

	var engineSession webauthn.SessionData
	if err := json.Unmarshal(engineSessionPayload, &engineSession); err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeCeremonyVerificationFailed, "decode engine session", err)
	}

	engineCredential, err := toEngineCredential(stored)
	if err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "decode stored credential", err)
	}
	target := &ceremonyUser{user: owner, credentials: []webauthn.Credential{engineCredential}}

	validated, err := o.validateAssertion(target, engineSession, parsed)
	if err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeCeremonyVerificationFailed, "authentication verification failed", err)
	}

	// The engine flags counter regressions without failing the ceremony.
	// A stale or repeated counter on an authenticator that implements one
	// means the proof may come from a cloned credential.
	newCount := validated.Authenticator.SignCount
	countersInUse := stored.SignCount != 0 || newCount != 0
	if validated.Authenticator.CloneWarning || (countersInUse && newCount <= stored.SignCount) {
		state.CompleteCeremony("")
		return Result{}, apperrors.New(apperrors.CodeCloneDetected, "credential sign counter did not advance")
	}

	if err := o.credentials.RecordCredentialUse(ctx, credentialID, newCount, o.clock()); err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "record credential use", err)
	}

	state.CompleteCeremony(owner.ID)
	return Result{Verified: true, UserID: owner.ID, LoggedIn: true}, nil
}

func (o *Orchestrator) validateAssertion(target *ceremonyUser, engineSession webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	// Allow-list ceremonies carry the user id in the engine session;
	// discoverable ceremonies resolve the user from the assertion's
	// user handle instead.
	if len(engineSession.UserID) > 0 {
		return o.engine.ValidateLogin(target, engineSession, parsed)
	}
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		return target, nil
	}
	_, validated, err := o.engine.ValidatePasskeyLogin(handler, engineSession, parsed)
	return validated, err
}

// ConfirmLogin reports the session's logged-in identity without running a
// ceremony. It backs the post-registration login confirmation endpoint.
func (o *Orchestrator) ConfirmLogin(state *session.State) (string, error) {
	if state.AuthenticatedUserID == "" {
		return "", apperrors.New(apperrors.CodeUnauthenticated, "not authenticated")
	}
	return state.AuthenticatedUserID, nil
}

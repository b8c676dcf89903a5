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
	"github.com/louisbranch/keyless.space/internal/user"
)

// RegistrationOptions resolves the target user for a registration ceremony,
// asks the engine for creation options, and opens the ceremony window on the
// session.
//
// Target resolution order: an unexpired pending user on the session wins, then
// a device link for the supplied fingerprint, then a freshly minted user. A
// fingerprint supplied alongside a minted user is linked immediately so a
// retry of the options request before verifying reuses the same identity.
func (o *Orchestrator) RegistrationOptions(ctx context.Context, state *session.State, fingerprint string) (*protocol.CredentialCreation, error) {
	if o.engineInitErr != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "ceremony engine unavailable", o.engineInitErr)
	}

	target, err := o.resolveRegistrationUser(ctx, state, fingerprint)
	if err != nil {
		return nil, err
	}

	stored, err := o.credentials.ListCredentialsByUser(ctx, target.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list credentials", err)
	}
	exclusions, err := toEngineCredentials(stored)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "decode stored credentials", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementRequired,
			UserVerification:        protocol.VerificationRequired,
		}),
		webauthn.WithConveyancePreference(protocol.PreferDirectAttestation),
		webauthn.WithCredentialParameters(defaultCredentialParameters()),
	}
	if len(exclusions) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(exclusions).CredentialDescriptors()))
	}

	creation, engineSession, err := o.engine.BeginRegistration(&ceremonyUser{user: target, credentials: exclusions}, options...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin registration", err)
	}

	payload, err := json.Marshal(engineSession)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode engine session", err)
	}
	state.BeginRegistration(engineSession.Challenge, payload, target.ID, o.clock())

	return creation, nil
}

// VerifyRegistration validates a registration ceremony response and, on
// success, persists the new credential and logs the session in.
//
// The ceremony window closes on every path out of this method, success or
// failure, so a rejected attestation never leaves a reusable challenge.
func (o *Orchestrator) VerifyRegistration(ctx context.Context, state *session.State, body []byte) (Result, error) {
	if o.engineInitErr != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "ceremony engine unavailable", o.engineInitErr)
	}

	if state.Phase() != session.PhaseAwaitingRegistration || state.PendingUserID == "" {
		state.CompleteCeremony("")
		return Result{}, apperrors.New(apperrors.CodeNoPendingRegistration, "No pending registration found")
	}
	pendingUserID := state.PendingUserID

	parsed, err := o.parser.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid registration response", err)
	}

	var engineSession webauthn.SessionData
	if err := json.Unmarshal(state.EngineSession, &engineSession); err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeCeremonyVerificationFailed, "decode engine session", err)
	}

	target, err := o.users.GetUser(ctx, pendingUserID)
	if err != nil {
		state.CompleteCeremony("")
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, apperrors.New(apperrors.CodeNoPendingRegistration, "No pending registration found")
		}
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "load pending user", err)
	}

	credential, err := o.engine.CreateCredential(&ceremonyUser{user: target}, engineSession, parsed)
	if err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeCeremonyVerificationFailed, "registration verification failed", err)
	}

	record := toStoredCredential(*credential, target.ID, o.clock())
	if err := o.credentials.PutCredential(ctx, record); err != nil {
		state.CompleteCeremony("")
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "store credential", err)
	}

	state.CompleteCeremony(target.ID)
	return Result{Verified: true, UserID: target.ID, LoggedIn: true}, nil
}

func (o *Orchestrator) resolveRegistrationUser(ctx context.Context, state *session.State, fingerprint string) (user.User, error) {
	if state.PendingUserID != "" {
		existing, err := o.users.GetUser(ctx, state.PendingUserID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load pending user", err)
		}
	}

	if fingerprint != "" {
		linkedID, err := o.deviceLinks.LookupDeviceLink(ctx, fingerprint)
		switch {
		case err == nil:
			linked, err := o.users.GetUser(ctx, linkedID)
			if err == nil {
				return linked, nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load linked user", err)
			}
		case !errors.Is(err, storage.ErrNotFound):
			return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "lookup device link", err)
		}
	}

	minted, err := user.CreateUser(user.CreateUserInput{DisplayName: defaultDisplayName}, o.clock, o.idGenerator)
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "mint user", err)
	}
	if err := o.users.PutUser(ctx, minted); err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "store user", err)
	}

	if fingerprint != "" {
		// Two sessions can race to claim the same fingerprint; the store
		// picks one winner and both sessions proceed with that identity.
		winnerID, err := o.deviceLinks.LinkDeviceIfAbsent(ctx, fingerprint, minted.ID)
		if err != nil {
			return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "link device", err)
		}
		if winnerID != minted.ID {
			winner, err := o.users.GetUser(ctx, winnerID)
			if err != nil {
				return user.User{}, apperrors.Wrap(apperrors.CodeUnknown, "load linked user", err)
			}
			return winner, nil
		}
	}

	return minted, nil
}

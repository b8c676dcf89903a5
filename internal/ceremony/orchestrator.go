// Package ceremony orchestrates WebAuthn registration and authentication.
//
// The orchestrator is the state machine between the HTTP surface, the
// session tracker, the stores, and the ceremony engine. It owns the
// decisions the engine cannot make: which user a ceremony targets, when a
// device link biases options, when a credential is persisted, and when a
// session becomes authenticated.
package ceremony

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/louisbranch/keyless.space/internal/passkey"
	"github.com/louisbranch/keyless.space/internal/platform/id"
	"github.com/louisbranch/keyless.space/internal/storage"
	"github.com/louisbranch/keyless.space/internal/user"
)

// defaultDisplayName labels minted users until a profile surface exists.
const defaultDisplayName = "user@example.com"

// Result reports the outcome of a verify operation.
type Result struct {
	Verified bool   `json:"verified"`
	UserID   string `json:"userId,omitempty"`
	LoggedIn bool   `json:"loggedIn"`
}

// Orchestrator drives both ceremonies against the injected collaborators.
type Orchestrator struct {
	users         storage.UserStore
	credentials   storage.CredentialStore
	deviceLinks   storage.DeviceLinkStore
	engine        Engine
	engineInitErr error
	parser        Parser
	config        passkey.Config
	clock         func() time.Time
	idGenerator   func() (string, error)
}

// New builds an orchestrator with a real go-webauthn engine.
func New(store storage.Store, config passkey.Config) *Orchestrator {
	engine, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: config.ChallengeTimeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: config.ChallengeTimeout,
			},
		},
	})
	return &Orchestrator{
		users:         store,
		credentials:   store,
		deviceLinks:   store,
		engine:        engine,
		engineInitErr: err,
		parser:        defaultParser{},
		config:        config,
		clock:         time.Now,
		idGenerator:   id.NewID,
	}
}

// ceremonyUser adapts a stored user and credentials to webauthn.User.
type ceremonyUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.user.ID
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// defaultCredentialParameters advertises ES256 first, RS256 as a fallback
// for older platform authenticators.
func defaultCredentialParameters() []protocol.CredentialParameter {
	return []protocol.CredentialParameter{
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	}
}

// encodeCredentialID renders a raw credential id as its storage key.
func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}

func encodeAAGUID(raw []byte) string {
	value, err := uuid.FromBytes(raw)
	if err != nil {
		return ""
	}
	return value.String()
}

func decodeAAGUID(encoded string) []byte {
	value, err := uuid.Parse(encoded)
	if err != nil {
		return nil
	}
	return value[:]
}

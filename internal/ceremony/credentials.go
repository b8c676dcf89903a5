package ceremony

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/louisbranch/keyless.space/internal/storage"
)

// toStoredCredential converts a verified engine credential into its stored
// form, tagged with the verified owner and ceremony metadata.
func toStoredCredential(credential webauthn.Credential, userID string, createdAt time.Time) storage.Credential {
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}

	deviceType := storage.DeviceTypeSingleDevice
	if credential.Flags.BackupEligible {
		deviceType = storage.DeviceTypeMultiDevice
	}

	return storage.Credential{
		CredentialID: encodeCredentialID(credential.ID),
		UserID:       userID,
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		Transports:   transports,
		AAGUID:       encodeAAGUID(credential.Authenticator.AAGUID),
		DeviceType:   deviceType,
		BackedUp:     credential.Flags.BackupState,
		CreatedAt:    createdAt.UTC(),
	}
}

// toEngineCredential rebuilds the engine's credential view from storage so
// allow-lists and assertion validation see the persisted key material.
func toEngineCredential(stored storage.Credential) (webauthn.Credential, error) {
	rawID, err := decodeCredentialID(stored.CredentialID)
	if err != nil {
		return webauthn.Credential{}, err
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(stored.Transports))
	for _, transport := range stored.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}

	return webauthn.Credential{
		ID:        rawID,
		PublicKey: stored.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			UserVerified:   true,
			BackupEligible: stored.DeviceType == storage.DeviceTypeMultiDevice,
			BackupState:    stored.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    decodeAAGUID(stored.AAGUID),
			SignCount: stored.SignCount,
		},
	}, nil
}

func toEngineCredentials(stored []storage.Credential) ([]webauthn.Credential, error) {
	if len(stored) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, record := range stored {
		credential, err := toEngineCredential(record)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

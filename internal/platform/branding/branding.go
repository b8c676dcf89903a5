// Package branding holds canonical product naming shared across surfaces.
package branding

// AppName is the canonical product name, used as the WebAuthn relying
// party display name and in user-facing copy.
const AppName = "Keyless.Space"

package core

import "time"

// CredentialTokenState captures access/refresh lifecycle state derived from a stored record.
type CredentialTokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
}

// ResolveCredentialTokenState evaluates expiry flags for record at now. An
// expiry equal to now counts as expired.
func ResolveCredentialTokenState(now time.Time, record CredentialRecord) CredentialTokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}

	state := CredentialTokenState{
		HasAccessToken:  record.HasAccessToken(),
		HasRefreshToken: record.Linked(),
	}
	if record.ExpiresAt == nil {
		state.IsExpired = state.HasAccessToken
		return state
	}
	expiresAt := record.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	state.IsExpired = !expiresAt.After(now)
	return state
}

// Usable reports whether the access token can be handed out as is.
func (s CredentialTokenState) Usable() bool {
	return s.HasAccessToken && !s.IsExpired
}

// NeedsRefresh reports whether a refresh grant should run before serving.
func (s CredentialTokenState) NeedsRefresh() bool {
	return s.HasRefreshToken && !s.Usable()
}

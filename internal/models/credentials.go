package models

// CredentialPair is the access/refresh token pair issued on login and
// rotated on refresh. At most one valid pair exists at a time; the two
// tokens are always persisted together so a new access token is never
// paired with a stale refresh token.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero reports whether no credentials are present (logged out).
func (p CredentialPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

package models

import "time"

// Credential is the stored OAuth state for one WHOOP user, linked to a wallet.
type Credential struct {
	WhoopUserID          int64      `json:"whoopUserId"`
	WalletAddress        string     `json:"walletAddress"`
	AccessToken          string     `json:"accessToken"`
	RefreshToken         string     `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt *time.Time `json:"accessTokenExpiresAt"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// TokenUpdate is the result of a refresh, persisted over an existing Credential.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// RegisterRequest is the POST /register payload.
type RegisterRequest struct {
	WhoopUserID   int64  `json:"whoopUserId"`
	WalletAddress string `json:"walletAddress"`
	AccessToken   string `json:"accessToken"`
	RefreshToken  string `json:"refreshToken,omitempty"`
	ExpiresIn     int64  `json:"expiresIn,omitempty"`
}

// Credential builds the record to upsert. expiresIn <= 0 means no known expiry.
func (r RegisterRequest) Credential(now time.Time) Credential {
	c := Credential{
		WhoopUserID:   r.WhoopUserID,
		WalletAddress: r.WalletAddress,
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
	}
	if r.ExpiresIn > 0 {
		exp := now.Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
		c.AccessTokenExpiresAt = &exp
	}
	return c
}

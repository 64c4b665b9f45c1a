package models

import "time"

// Account is the single persisted entity. An account is pending until its
// OTP fields are cleared by a successful verification; OTPCode and
// OTPExpiresAt are always both nil or both set.
type Account struct {
	AccountBucket int        `json:"account_bucket" db:"account_bucket"`
	AccountID     string     `json:"account_id" db:"account_id"` // UUID
	Name          string     `json:"name" db:"name"`
	Email         string     `json:"email" db:"email"` // normalized: trimmed, lower-cased
	PasswordHash  string     `json:"password_hash" db:"password_hash"`
	OTPCode       *string    `json:"otp_code" db:"otp_code"`
	OTPExpiresAt  *time.Time `json:"otp_expires_at" db:"otp_expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// PublicAccount is the projection returned to clients. It never carries the
// password hash or OTP fields.
type PublicAccount struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Verified reports whether the account has completed OTP verification.
func (a *Account) Verified() bool {
	return a.OTPCode == nil
}

// Public returns the client-safe projection of the account.
func (a *Account) Public() *PublicAccount {
	return &PublicAccount{
		ID:    a.AccountID,
		Name:  a.Name,
		Email: a.Email,
	}
}

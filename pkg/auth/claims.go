package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PayerClaims identifies the payer behind an API call. Tokens from older
// identity releases carry only the subject, so UserID may be filled from it.
type PayerClaims struct {
	UserID uuid.UUID `json:"user_id,omitempty"`
	Email  string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// resolveUserID settles the payer id from user_id or, failing that, sub.
// Both present and different is treated as a forged token.
func (c *PayerClaims) resolveUserID() error {
	var fromSubject uuid.UUID
	if c.Subject != "" {
		parsed, err := uuid.Parse(c.Subject)
		if err != nil {
			if c.UserID == uuid.Nil {
				return ErrMissingPayer
			}
		} else {
			fromSubject = parsed
		}
	}
	switch {
	case c.UserID == uuid.Nil && fromSubject == uuid.Nil:
		return ErrMissingPayer
	case c.UserID == uuid.Nil:
		c.UserID = fromSubject
	case fromSubject != uuid.Nil && fromSubject != c.UserID:
		return ErrSubjectMismatch
	}
	return nil
}

// MintRequest describes a token for local tooling and tests.
type MintRequest struct {
	UserID uuid.UUID
	Email  string
	JTI    string
}

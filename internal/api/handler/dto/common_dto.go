package dto

import "fmt"

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// TokenRequest asks the development issuer for a token on behalf of a borrower.
type TokenRequest struct {
	BorrowerID int64  `json:"borrowerId"`
	Role       string `json:"role,omitempty"`
}

func (r *TokenRequest) Validate() error {
	if r.BorrowerID <= 0 {
		return fmt.Errorf("borrowerId must be a positive number")
	}
	switch r.Role {
	case "", "USER", "ADMIN":
		return nil
	}
	return fmt.Errorf("role must be USER or ADMIN")
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

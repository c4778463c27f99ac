// Package identity carries the resolved caller of a request. It is produced by the
// transport layer and handed explicitly to every workflow call.
package identity

import "context"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Identity struct {
	BorrowerID int64
	Role       Role
}

func New(borrowerID int64, role Role) Identity {
	if role == "" {
		role = RoleUser
	}
	return Identity{BorrowerID: borrowerID, Role: role}
}

func (i Identity) Authenticated() bool {
	return i.BorrowerID > 0
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the zero Identity when the request carried none.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

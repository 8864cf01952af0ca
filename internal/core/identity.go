package core

import "context"

// IdentityResolver maps a caller-supplied identity token to an authenticated
// user id. Token issuance and validation live in the external identity
// service; the coordinator only consumes the resolved id.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (identity string, err error)
}

// PasswordVerifier checks a cleartext meeting password against the stored
// hash. Hashing itself is out of scope and owned by the identity service.
type PasswordVerifier interface {
	Verify(hash, password string) bool
}

// Package auth provides the default implementations of the identity-side
// interfaces. Real deployments replace these with the identity service.
package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/huddlekit/huddle/internal/core"
)

// BcryptVerifier verifies meeting passwords against bcrypt hashes.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// TokenResolver treats the token itself as the identity; it stands in for a
// real identity service in tests and single-node deployments. Empty and
// whitespace tokens resolve to the guest (empty) identity.
type TokenResolver struct{}

func (TokenResolver) Resolve(_ context.Context, token string) (string, error) {
	return strings.TrimSpace(token), nil
}

var (
	_ core.PasswordVerifier = BcryptVerifier{}
	_ core.IdentityResolver = TokenResolver{}
)

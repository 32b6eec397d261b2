// Package identity establishes who is on the other end of a bus connection.
// A connect attempt carries a username and either the account password or a
// delegated token handle; the gateway tries both and yields a Principal that
// stays fixed for the life of the connection.
package identity

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/emstrack/mqttgate/pkg/observability"
)

// Principal is an authenticated identity.
type Principal struct {
	Username    string
	IsSuperuser bool
}

// User is an account record as stored by the user store.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsSuperuser  bool
	IsActive     bool
}

// ErrInvalidCredentials is returned when neither the primary password nor a
// delegated token handle matches. Callers must not expose which check failed;
// on the wire every rejection looks the same.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUserNotFound is returned by user stores for unknown usernames.
var ErrUserNotFound = errors.New("user not found")

// UserStore looks up account records.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*User, error)
}

// TokenVerifier checks a submitted secret against the user's delegated token
// handle. A false result with a nil error is a deliberate mismatch; a non-nil
// error is a transient store failure.
type TokenVerifier interface {
	Verify(ctx context.Context, username, submitted string) (bool, error)
}

// Gateway authenticates connect attempts.
type Gateway struct {
	users  UserStore
	tokens TokenVerifier
	log    *observability.Logger
}

// NewGateway creates a gateway over the given collaborators. tokens may be
// nil, in which case only the primary credential is accepted.
func NewGateway(users UserStore, tokens TokenVerifier, log *observability.Logger) *Gateway {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Gateway{users: users, tokens: tokens, log: log}
}

// Authenticate verifies a username/secret pair. The secret is first checked
// against the account's password hash and then against the delegated token
// handle; the first match wins. A mismatch returns ErrInvalidCredentials,
// a store failure returns a wrapped error distinguishable only in logs.
func (g *Gateway) Authenticate(ctx context.Context, username, secret string) (*Principal, error) {
	user, err := g.users.GetUser(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret)) == nil {
		return g.principal(user, "primary"), nil
	}

	if g.tokens != nil {
		ok, err := g.tokens.Verify(ctx, username, secret)
		if err != nil {
			return nil, fmt.Errorf("token verification failed: %w", err)
		}
		if ok {
			return g.principal(user, "token"), nil
		}
	}

	return nil, ErrInvalidCredentials
}

func (g *Gateway) principal(user *User, method string) *Principal {
	g.log.WithField("username", user.Username).
		WithField("method", method).
		Debug("authenticated")
	return &Principal{Username: user.Username, IsSuperuser: user.IsSuperuser}
}

// HashPassword produces a bcrypt hash for storage in the user store. It lives
// here so that seeding code and tests hash passwords the same way the gateway
// verifies them.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

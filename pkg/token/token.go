// Package token implements the delegated credential scheme. Each user holds
// at most one live token: a random secret the server keeps, never sent over
// the bus. What clients receive, and later present at login, is the secret's
// salted one-way hash (the handle). The handle itself is the bearer
// credential: verification recomputes it from the stored secret and compares
// strings, so rotating the secret invalidates every previously issued handle.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// secretLength is the number of random bytes behind a token secret.
	secretLength = 32
	// saltLength is the number of random bytes behind a token's salt.
	saltLength = 12
	// DefaultIterations is the PBKDF2 work factor used for handles.
	DefaultIterations = 36000

	algorithm = "pbkdf2_sha256"
	keyLength = sha256.Size
)

// ErrNoToken is returned when a handle is requested for a user who has never
// been issued a token.
var ErrNoToken = errors.New("no token issued")

// Token is the per-user delegated credential record. Secret and Salt are
// random, regenerated together on every rotation; neither ever leaves the
// server.
type Token struct {
	Username string
	Secret   string
	Salt     string
	IssuedAt time.Time
}

// Store persists token records. Put must replace the user's record
// atomically so a failed rotation leaves the previous token intact and a
// concurrent read sees either the old record or the new one, never a mix.
type Store interface {
	GetToken(ctx context.Context, username string) (*Token, error)
	PutToken(ctx context.Context, tok *Token) error
}

// Manager issues and verifies delegated tokens.
type Manager struct {
	store      Store
	iterations int
}

// NewManager creates a manager over the given store. iterations <= 0 selects
// DefaultIterations.
func NewManager(store Store, iterations int) *Manager {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Manager{store: store, iterations: iterations}
}

// Issue replaces the user's token with a fresh secret and salt. Any handle
// exported before this call stops verifying.
func (m *Manager) Issue(ctx context.Context, username string) (*Token, error) {
	secret, err := randomString(secretLength)
	if err != nil {
		return nil, err
	}
	salt, err := randomString(saltLength)
	if err != nil {
		return nil, err
	}

	tok := &Token{
		Username: username,
		Secret:   secret,
		Salt:     salt,
		IssuedAt: time.Now().UTC(),
	}
	if err := m.store.PutToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return tok, nil
}

// Handle returns the user's current handle, recomputed from the stored
// secret on every call. It is deterministic until the next Issue. Returns
// ErrNoToken when the user holds no token.
func (m *Manager) Handle(ctx context.Context, username string) (string, error) {
	tok, err := m.store.GetToken(ctx, username)
	if err != nil {
		return "", fmt.Errorf("token lookup failed: %w", err)
	}
	if tok == nil {
		return "", ErrNoToken
	}
	return m.encode(tok), nil
}

// HandleOrIssue returns the current handle, issuing a token first if the
// user has none. This backs the lazy creation at the retrieval boundary.
func (m *Manager) HandleOrIssue(ctx context.Context, username string) (string, error) {
	handle, err := m.Handle(ctx, username)
	if errors.Is(err, ErrNoToken) {
		tok, err := m.Issue(ctx, username)
		if err != nil {
			return "", err
		}
		return m.encode(tok), nil
	}
	return handle, err
}

// Verify reports whether submitted equals the user's current handle. The
// comparison is constant time. A user without a token, or a stale or
// tampered handle, verifies false with a nil error; only store failures
// return an error.
func (m *Manager) Verify(ctx context.Context, username, submitted string) (bool, error) {
	tok, err := m.store.GetToken(ctx, username)
	if err != nil {
		return false, fmt.Errorf("token lookup failed: %w", err)
	}
	if tok == nil {
		return false, nil
	}
	handle := m.encode(tok)
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(handle)) == 1, nil
}

// encode derives the handle string from a token record. The layout follows
// the common password-hash convention: algorithm$iterations$salt$digest.
func (m *Manager) encode(tok *Token) string {
	digest := pbkdf2.Key([]byte(tok.Secret), []byte(tok.Salt), m.iterations, keyLength, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		algorithm, m.iterations, tok.Salt,
		base64.StdEncoding.EncodeToString(digest))
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package identity

import (
	"context"
	"errors"
	"testing"
)

type fakeUserStore struct {
	users map[string]*User
	err   error
}

func (s *fakeUserStore) GetUser(_ context.Context, username string) (*User, error) {
	if s.err != nil {
		return nil, s.err
	}
	user, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

type fakeTokenVerifier struct {
	handles map[string]string
	err     error
}

func (v *fakeTokenVerifier) Verify(_ context.Context, username, submitted string) (bool, error) {
	if v.err != nil {
		return false, v.err
	}
	return v.handles[username] == submitted && submitted != "", nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakeUserStore, *fakeTokenVerifier) {
	t.Helper()

	hash, err := HashPassword("top_secret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	users := &fakeUserStore{users: map[string]*User{
		"alice": {ID: 1, Username: "alice", PasswordHash: hash, IsActive: true},
		"admin": {ID: 2, Username: "admin", PasswordHash: hash, IsSuperuser: true, IsActive: true},
		"gone":  {ID: 3, Username: "gone", PasswordHash: hash, IsActive: false},
	}}
	tokens := &fakeTokenVerifier{handles: map[string]string{
		"alice": "pbkdf2_sha256$10$salt$digest",
	}}
	return NewGateway(users, tokens, nil), users, tokens
}

func TestAuthenticate_PrimaryCredential(t *testing.T) {
	g, _, _ := newTestGateway(t)

	principal, err := g.Authenticate(context.Background(), "alice", "top_secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if principal.Username != "alice" || principal.IsSuperuser {
		t.Errorf("unexpected principal %+v", principal)
	}

	principal, err = g.Authenticate(context.Background(), "admin", "top_secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !principal.IsSuperuser {
		t.Error("admin should carry the superuser flag")
	}
}

func TestAuthenticate_DelegatedToken(t *testing.T) {
	g, _, _ := newTestGateway(t)

	principal, err := g.Authenticate(context.Background(), "alice", "pbkdf2_sha256$10$salt$digest")
	if err != nil {
		t.Fatalf("token login failed: %v", err)
	}
	if principal.Username != "alice" {
		t.Errorf("unexpected principal %+v", principal)
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		secret   string
	}{
		{"unknown user", "nobody", "top_secret"},
		{"wrong password", "alice", "top_secret0"},
		{"wrong handle", "alice", "pbkdf2_sha256$10$salt$digestx"},
		{"inactive user", "gone", "top_secret"},
		{"empty password", "alice", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Authenticate(ctx, tc.username, tc.secret)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestAuthenticate_TransientFailuresAreDistinct(t *testing.T) {
	g, users, tokens := newTestGateway(t)
	ctx := context.Background()

	users.err = errors.New("connection refused")
	_, err := g.Authenticate(ctx, "alice", "top_secret")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("user store failure should not look like a credential mismatch, got %v", err)
	}
	users.err = nil

	tokens.err = errors.New("connection refused")
	_, err = g.Authenticate(ctx, "alice", "not-the-password")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("token store failure should not look like a credential mismatch, got %v", err)
	}
}

func TestAuthenticate_NoTokenVerifier(t *testing.T) {
	g, _, _ := newTestGateway(t)
	g.tokens = nil

	_, err := g.Authenticate(context.Background(), "alice", "pbkdf2_sha256$10$salt$digest")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("without a token verifier only the primary credential counts, got %v", err)
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emstrack/mqttgate/pkg/token"
)

// GetToken returns the user's delegated token record, or nil when none was
// issued. Implements token.Store.
func (s *Store) GetToken(ctx context.Context, username string) (*token.Token, error) {
	tok := &token.Token{Username: username}
	err := s.db.QueryRowContext(ctx, `
		SELECT t.secret, t.salt, t.issued_at
		FROM temporary_tokens t
		JOIN users u ON t.user_id = u.id
		WHERE u.username = $1
	`, username).Scan(&tok.Secret, &tok.Salt, &tok.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token for %q: %w", username, err)
	}
	return tok, nil
}

// PutToken atomically replaces the user's delegated token. The upsert is a
// single statement, so a concurrent read sees either the previous record or
// the new one; a failed write leaves the previous record untouched.
func (s *Store) PutToken(ctx context.Context, tok *token.Token) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO temporary_tokens (user_id, secret, salt, issued_at)
		SELECT id, $2, $3, $4 FROM users WHERE username = $1
		ON CONFLICT(user_id) DO UPDATE SET
			secret = excluded.secret,
			salt = excluded.salt,
			issued_at = excluded.issued_at
	`, tok.Username, tok.Secret, tok.Salt, tok.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to store token for %q: %w", tok.Username, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("cannot issue token for unknown user %q", tok.Username)
	}
	return nil
}

// Package identity manages portal users and their delegated Google
// credentials. Refresh tokens are sealed with the vault before they touch the
// database; access tokens are stored in the clear with their expiry so a
// restarted process can reuse them.
package identity

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/unity-portal/unity/internal/audit"
	"github.com/unity-portal/unity/internal/firecloud"
	"github.com/unity-portal/unity/internal/vault"
)

// ErrUserNotFound is returned when no user has the requested email.
var ErrUserNotFound = errors.New("user not found")

// User is one portal user.
type User struct {
	UUID                   string
	Email                  string
	FullName               string
	Token                  firecloud.AccessToken
	HasRefreshToken        bool
	RegisteredForFireCloud bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AddUserInput holds parameters for registering a user with the portal.
type AddUserInput struct {
	Email        string
	FullName     string
	RefreshToken string
}

// Store persists users in the metadata database.
type Store struct {
	db     *sql.DB
	sealer *vault.Sealer
	audit  *audit.Logger
	now    func() time.Time
}

// NewStore creates a user store. al may be nil.
func NewStore(db *sql.DB, sealer *vault.Sealer, al *audit.Logger) *Store {
	return &Store{
		db:     db,
		sealer: sealer,
		audit:  al,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func refreshLabel(userUUID string) string {
	return "refresh_token:" + userUUID
}

func (s *Store) record(eventType audit.EventType, email string, detail map[string]string) {
	if s.audit == nil {
		return
	}
	s.audit.Log(eventType, string(firecloud.IdentityUser), email, detail)
}

func (s *Store) seal(userUUID, refreshToken string) (ciphertext, nonce string, err error) {
	if refreshToken == "" {
		return "", "", nil
	}
	sealed, err := s.sealer.Seal(refreshLabel(userUUID), []byte(refreshToken))
	if err != nil {
		return "", "", fmt.Errorf("sealing refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed.Ciphertext),
		base64.StdEncoding.EncodeToString(sealed.Nonce), nil
}

// AddUser registers a user and seals their refresh token.
func (s *Store) AddUser(in AddUserInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, errors.New("email is required")
	}

	userUUID := uuid.New().String()
	ciphertext, nonce, err := s.seal(userUUID, in.RefreshToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, err = s.db.Exec(
		`INSERT INTO users (uuid, email, full_name, encrypted_refresh_token, encrypted_refresh_token_iv, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userUUID, email, in.FullName, ciphertext, nonce,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	s.record(audit.EventUserAdded, email, map[string]string{"uuid": userUUID})

	return &User{
		UUID:            userUUID,
		Email:           email,
		FullName:        in.FullName,
		HasRefreshToken: ciphertext != "",
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

const userColumns = `uuid, email, full_name, access_token, token_type, token_issued_at, token_expires_at,
	encrypted_refresh_token, registered_for_firecloud, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var issuedAt, expiresAt sql.NullString
	var encrypted, createdAt, updatedAt string
	var registered int
	err := row.Scan(
		&u.UUID, &u.Email, &u.FullName, &u.Token.Value, &u.Token.Type,
		&issuedAt, &expiresAt, &encrypted, &registered, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if issuedAt.Valid {
		u.Token.IssuedAt, _ = time.Parse(time.RFC3339Nano, issuedAt.String)
	}
	if expiresAt.Valid {
		u.Token.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt.String)
	}
	u.HasRefreshToken = encrypted != ""
	u.RegisteredForFireCloud = registered != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &u, nil
}

// GetUser returns a single user by email or UUID.
func (s *Store) GetUser(emailOrUUID string) (*User, error) {
	key := strings.ToLower(strings.TrimSpace(emailOrUUID))
	u, err := scanUser(s.db.QueryRow(
		"SELECT "+userColumns+" FROM users WHERE email = ? OR uuid = ? LIMIT 1", key, key,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, emailOrUUID)
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query("SELECT " + userColumns + " FROM users ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// RemoveUser deletes a user and their stored credentials.
func (s *Store) RemoveUser(email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	result, err := s.db.Exec("DELETE FROM users WHERE email = ?", email)
	if err != nil {
		return fmt.Errorf("removing user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	s.record(audit.EventUserRemoved, email, nil)
	return nil
}

// RefreshToken unseals the user's refresh token. An empty string means the
// user never delegated offline access.
func (s *Store) RefreshToken(email string) (string, error) {
	u, err := s.GetUser(email)
	if err != nil {
		return "", err
	}

	var ciphertext, nonce string
	err = s.db.QueryRow(
		"SELECT encrypted_refresh_token, encrypted_refresh_token_iv FROM users WHERE uuid = ?", u.UUID,
	).Scan(&ciphertext, &nonce)
	if err != nil {
		return "", fmt.Errorf("querying refresh token: %w", err)
	}
	if ciphertext == "" {
		return "", nil
	}

	var sealed vault.Sealed
	if sealed.Ciphertext, err = base64.StdEncoding.DecodeString(ciphertext); err != nil {
		return "", fmt.Errorf("decoding refresh token: %w", err)
	}
	if sealed.Nonce, err = base64.StdEncoding.DecodeString(nonce); err != nil {
		return "", fmt.Errorf("decoding refresh token nonce: %w", err)
	}
	plaintext, err := s.sealer.Unseal(refreshLabel(u.UUID), sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// RefreshFingerprint returns a short hash of the user's refresh token for
// display, or "" when none is stored.
func (s *Store) RefreshFingerprint(email string) (string, error) {
	rt, err := s.RefreshToken(email)
	if err != nil || rt == "" {
		return "", err
	}
	return vault.HashSecret([]byte(rt)), nil
}

// SetRefreshToken replaces the user's sealed refresh token.
func (s *Store) SetRefreshToken(email, refreshToken string) error {
	u, err := s.GetUser(email)
	if err != nil {
		return err
	}
	ciphertext, nonce, err := s.seal(u.UUID, refreshToken)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE users SET encrypted_refresh_token = ?, encrypted_refresh_token_iv = ?, updated_at = ? WHERE uuid = ?`,
		ciphertext, nonce, s.now().Format(time.RFC3339Nano), u.UUID,
	)
	if err != nil {
		return fmt.Errorf("updating refresh token: %w", err)
	}
	return nil
}

// SaveAccessToken stores the user's current access token and expiry.
func (s *Store) SaveAccessToken(email string, token firecloud.AccessToken) error {
	email = strings.ToLower(strings.TrimSpace(email))
	tokenType := token.Type
	if tokenType == "" {
		tokenType = "Bearer"
	}
	result, err := s.db.Exec(
		`UPDATE users SET access_token = ?, token_type = ?, token_issued_at = ?, token_expires_at = ?, updated_at = ?
		 WHERE email = ?`,
		token.Value, tokenType,
		token.IssuedAt.UTC().Format(time.RFC3339Nano),
		token.ExpiresAt.UTC().Format(time.RFC3339Nano),
		s.now().Format(time.RFC3339Nano),
		email,
	)
	if err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	return nil
}

// MarkRegistered records whether the user has completed FireCloud
// registration.
func (s *Store) MarkRegistered(email string, registered bool) error {
	u, err := s.GetUser(email)
	if err != nil {
		return err
	}
	flag := 0
	if registered {
		flag = 1
	}
	_, err = s.db.Exec(
		"UPDATE users SET registered_for_firecloud = ?, updated_at = ? WHERE uuid = ?",
		flag, s.now().Format(time.RFC3339Nano), u.UUID,
	)
	if err != nil {
		return fmt.Errorf("updating registration: %w", err)
	}
	if registered && !u.RegisteredForFireCloud {
		s.record(audit.EventUserRegistered, u.Email, map[string]string{"uuid": u.UUID})
	}
	return nil
}

// ExpiringTokens returns users holding a refresh token whose access token is
// missing or expires within window of now.
func (s *Store) ExpiringTokens(window time.Duration) ([]User, error) {
	users, err := s.ListUsers()
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(window)

	var out []User
	for _, u := range users {
		if !u.HasRefreshToken {
			continue
		}
		if u.Token.Expired(cutoff) {
			out = append(out, u)
		}
	}
	return out, nil
}

// TokenSink adapts the store to firecloud.TokenStore for one user so every
// refresh is persisted.
func (s *Store) TokenSink(email string) firecloud.TokenStore {
	return tokenSink{store: s, email: email}
}

type tokenSink struct {
	store *Store
	email string
}

func (t tokenSink) SaveAccessToken(_ context.Context, token firecloud.AccessToken) error {
	return t.store.SaveAccessToken(t.email, token)
}

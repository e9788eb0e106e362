package oikos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/oikos-consulting/oikos/docstore"
)

// ErrInvalidCredentials is returned when an email and password do not match
// a stored admin.
var ErrInvalidCredentials = errors.New("invalid email or password")

// MinPasswordLen is the shortest admin password accepted by CreateAdmin.
const MinPasswordLen = 10

// Admin is a stored dashboard account. The record is keyed by email.
type Admin struct {
	Email        string `json:"id"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    string `json:"createdAt"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAdmin stores an admin with a bcrypt hash of password, replacing any
// existing admin with the same email.
func (s *Store) CreateAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	item, err := toItem(Admin{Email: email, PasswordHash: string(hash), CreatedAt: s.timestamp()})
	if err != nil {
		return err
	}
	if err := s.admins.Put(ctx, item); err != nil {
		return fmt.Errorf("put admin: %w", err)
	}
	return nil
}

// VerifyAdmin checks password against the stored hash for email.
func (s *Store) VerifyAdmin(ctx context.Context, email, password string) (Admin, error) {
	item, err := s.admins.Get(ctx, normalizeEmail(email))
	if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrTableNotFound) {
		// Unknown emails still pay for one bcrypt comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Admin{}, ErrInvalidCredentials
	}
	if err != nil {
		return Admin{}, fmt.Errorf("get admin: %w", err)
	}
	admin, err := fromItem[Admin](item)
	if err != nil {
		return Admin{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return Admin{}, ErrInvalidCredentials
	}
	return admin, nil
}

// dummyHash is the bcrypt hash of a random string.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z1bPbZ8Jb6xMZ.Iu1hW1UhHO")

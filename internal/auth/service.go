package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountLocked      = errors.New("account is locked")
)

// CredentialStore is the persistence boundary the authentication gate
// depends on. Implementations fetch a fresh principal snapshot per attempt
// and persist lock-state and login-time side effects.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (Principal, error)
	SetLocked(ctx context.Context, username string, locked bool) error
	RecordLogin(ctx context.Context, username string, at time.Time) error
}

// Service orchestrates credential verification, attempt-guard consultation
// and token issuance for the login flow.
type Service struct {
	store CredentialStore
	guard *AttemptGuard
	codec *Codec
}

func NewService(store CredentialStore, guard *AttemptGuard, codec *Codec) *Service {
	return &Service{store: store, guard: guard, codec: codec}
}

// Login verifies the submitted credentials and returns a signed token plus
// the principal snapshot it was issued for.
//
// The attempt guard is authoritative for lockout at login time: a stored
// locked flag whose guard record has expired is cleared and the attempt
// proceeds, and a tripped guard sets the stored flag before the attempt is
// rejected. Locked accounts are rejected before password verification.
func (s *Service) Login(ctx context.Context, username, password string) (string, Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", Principal{}, ErrInvalidCredentials
	}

	principal, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", Principal{}, err
		}
		return "", Principal{}, fmt.Errorf("load principal: %w", err)
	}

	if !principal.Enabled {
		return "", Principal{}, ErrAccountDisabled
	}

	exceeded := s.guard.HasExceededMaxAttempts(principal.Username)
	if principal.Locked {
		if exceeded {
			return "", Principal{}, ErrAccountLocked
		}
		if err := s.store.SetLocked(ctx, principal.Username, false); err != nil {
			return "", Principal{}, fmt.Errorf("clear stale lock: %w", err)
		}
		principal.Locked = false
	} else if exceeded {
		if err := s.store.SetLocked(ctx, principal.Username, true); err != nil {
			return "", Principal{}, fmt.Errorf("persist lock: %w", err)
		}
		return "", Principal{}, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return "", Principal{}, fmt.Errorf("verify password: %w", err)
		}

		s.guard.RecordFailure(principal.Username)
		if s.guard.HasExceededMaxAttempts(principal.Username) {
			if err := s.store.SetLocked(ctx, principal.Username, true); err != nil {
				return "", Principal{}, fmt.Errorf("persist lock: %w", err)
			}
			return "", Principal{}, ErrAccountLocked
		}
		return "", Principal{}, ErrInvalidCredentials
	}

	s.guard.EvictUser(principal.Username)

	if err := s.store.RecordLogin(ctx, principal.Username, time.Now().UTC()); err != nil {
		return "", Principal{}, fmt.Errorf("record login: %w", err)
	}

	token, err := s.codec.Issue(principal.Username, principal.Authorities)
	if err != nil {
		return "", Principal{}, err
	}

	return token, principal, nil
}

// Unlock clears both the guard record and the stored locked flag for the
// username, so the failure counter cannot resurrect the lock.
func (s *Service) Unlock(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUserNotFound
	}

	if _, err := s.store.FindByUsername(ctx, username); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("load principal: %w", err)
	}

	s.guard.EvictUser(username)
	if err := s.store.SetLocked(ctx, username, false); err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}

	return nil
}

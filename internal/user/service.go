package user

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"user-portal/internal/auth"
	"user-portal/internal/mail"
	"user-portal/internal/observability"
)

const generatedPasswordLength = 10

var (
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")
	ErrEmailNotFound  = errors.New("no user found for email")
)

// Store is the persistence surface the user service needs; *Repository
// satisfies it.
type Store interface {
	GetByUsername(ctx context.Context, username string) (AppUser, error)
	GetByEmail(ctx context.Context, email string) (AppUser, error)
	List(ctx context.Context) ([]AppUser, error)
	Insert(ctx context.Context, u AppUser) (AppUser, error)
	Update(ctx context.Context, currentUsername string, u AppUser) (AppUser, error)
	Delete(ctx context.Context, username string) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	UpdateProfileImage(ctx context.Context, username, imageURL string) error
}

type Service struct {
	store  Store
	mailer mail.Mailer
	logger *observability.Logger
}

func NewService(store Store, mailer mail.Mailer, logger *observability.Logger) *Service {
	return &Service{store: store, mailer: mailer, logger: logger}
}

// Register creates a self-service account with the default role and a
// server-generated password delivered by mail.
func (s *Service) Register(ctx context.Context, firstName, lastName, username, email string) (AppUser, error) {
	if err := s.checkUsernameAndEmail(ctx, "", username, email); err != nil {
		return AppUser{}, err
	}

	password, err := generatePassword(generatedPasswordLength)
	if err != nil {
		return AppUser{}, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AppUser{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.Insert(ctx, AppUser{
		FirstName:    firstName,
		LastName:     lastName,
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         auth.RoleUser,
		Enabled:      true,
		Locked:       false,
		JoinedAt:     time.Now().UTC(),
	})
	if err != nil {
		return AppUser{}, err
	}
	created.Authorities = created.Role.Authorities()

	s.deliverPassword(ctx, created.Email, created.FirstName, password)

	return created, nil
}

// AddUser creates an account on behalf of an administrator, with an
// assigned role and status flags.
func (s *Service) AddUser(ctx context.Context, input Input) (AppUser, error) {
	if !input.Role.Valid() {
		return AppUser{}, fmt.Errorf("unknown role %q", input.Role)
	}
	if err := s.checkUsernameAndEmail(ctx, "", input.Username, input.Email); err != nil {
		return AppUser{}, err
	}

	password, err := generatePassword(generatedPasswordLength)
	if err != nil {
		return AppUser{}, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AppUser{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.Insert(ctx, AppUser{
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hash),
		Role:         input.Role,
		Enabled:      input.Enabled,
		Locked:       !input.NotLocked,
		JoinedAt:     time.Now().UTC(),
	})
	if err != nil {
		return AppUser{}, err
	}
	created.Authorities = created.Role.Authorities()

	s.deliverPassword(ctx, created.Email, created.FirstName, password)

	return created, nil
}

// UpdateUser rewrites an existing account's profile, role and status flags.
func (s *Service) UpdateUser(ctx context.Context, currentUsername string, input Input) (AppUser, error) {
	if !input.Role.Valid() {
		return AppUser{}, fmt.Errorf("unknown role %q", input.Role)
	}
	if err := s.checkUsernameAndEmail(ctx, currentUsername, input.Username, input.Email); err != nil {
		return AppUser{}, err
	}

	return s.store.Update(ctx, currentUsername, AppUser{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Username:  input.Username,
		Email:     input.Email,
		Role:      input.Role,
		Enabled:   input.Enabled,
		Locked:    !input.NotLocked,
	})
}

func (s *Service) Find(ctx context.Context, username string) (AppUser, error) {
	return s.store.GetByUsername(ctx, username)
}

func (s *Service) List(ctx context.Context) ([]AppUser, error) {
	return s.store.List(ctx)
}

func (s *Service) Delete(ctx context.Context, username string) error {
	return s.store.Delete(ctx, username)
}

// ResetPassword replaces the account password with a fresh generated one and
// mails it to the address on file.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEmailNotFound
		}
		return err
	}

	password, err := generatePassword(generatedPasswordLength)
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, u.Username, string(hash)); err != nil {
		return err
	}

	s.deliverPassword(ctx, u.Email, u.FirstName, password)

	return nil
}

func (s *Service) UpdateProfileImage(ctx context.Context, username, imageURL string) (AppUser, error) {
	if err := s.store.UpdateProfileImage(ctx, username, imageURL); err != nil {
		return AppUser{}, err
	}
	return s.store.GetByUsername(ctx, username)
}

func (s *Service) checkUsernameAndEmail(ctx context.Context, currentUsername, newUsername, newEmail string) error {
	byUsername, err := s.store.GetByUsername(ctx, newUsername)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	usernameTaken := err == nil

	byEmail, err := s.store.GetByEmail(ctx, newEmail)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	emailTaken := err == nil

	if currentUsername == "" {
		if usernameTaken {
			return ErrUsernameExists
		}
		if emailTaken {
			return ErrEmailExists
		}
		return nil
	}

	current, err := s.store.GetByUsername(ctx, currentUsername)
	if err != nil {
		return err
	}
	if usernameTaken && byUsername.ID != current.ID {
		return ErrUsernameExists
	}
	if emailTaken && byEmail.ID != current.ID {
		return ErrEmailExists
	}

	return nil
}

func (s *Service) deliverPassword(ctx context.Context, email, firstName, password string) {
	if err := s.mailer.SendNewPassword(ctx, email, firstName, password); err != nil {
		s.logger.Error("password_email_failed", map[string]any{
			"email": email,
			"error": err.Error(),
		})
	}
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generatePassword(length int) (string, error) {
	out := make([]byte, length)
	size := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

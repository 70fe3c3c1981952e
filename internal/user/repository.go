package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"user-portal/internal/auth"
)

// Repository persists accounts and doubles as the credential store the
// authentication gate consumes (auth.CredentialStore).
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `
	id, first_name, last_name, username, email, password_hash,
	profile_image_url, role, enabled, locked, joined_at,
	last_login_at, previous_login_at`

func (r *Repository) GetByUsername(ctx context.Context, username string) (AppUser, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+userColumns+`
		FROM users
		WHERE username = $1
	`, username)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AppUser{}, err
		}
		return AppUser{}, fmt.Errorf("query user by username: %w", err)
	}

	return u, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (AppUser, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+userColumns+`
		FROM users
		WHERE email = $1
	`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AppUser{}, err
		}
		return AppUser{}, fmt.Errorf("query user by email: %w", err)
	}

	return u, nil
}

func (r *Repository) List(ctx context.Context) ([]AppUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+userColumns+`
		FROM users
		ORDER BY joined_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]AppUser, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (r *Repository) Insert(ctx context.Context, u AppUser) (AppUser, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return AppUser{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	u.ID = id.String()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, first_name, last_name, username, email, password_hash,
			profile_image_url, role, enabled, locked, joined_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.FirstName, u.LastName, u.Username, u.Email, u.PasswordHash,
		u.ProfileImageURL, string(u.Role), u.Enabled, u.Locked, u.JoinedAt)
	if err != nil {
		return AppUser{}, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (r *Repository) Update(ctx context.Context, currentUsername string, u AppUser) (AppUser, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET first_name = $2, last_name = $3, username = $4, email = $5,
			role = $6, enabled = $7, locked = $8
		WHERE username = $1
		RETURNING`+userColumns+`
	`, currentUsername, u.FirstName, u.LastName, u.Username, u.Email,
		string(u.Role), u.Enabled, u.Locked)

	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AppUser{}, err
		}
		return AppUser{}, fmt.Errorf("update user: %w", err)
	}

	return updated, nil
}

func (r *Repository) Delete(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) UpdateProfileImage(ctx context.Context, username, imageURL string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET profile_image_url = $2
		WHERE username = $1
	`, username, imageURL)
	if err != nil {
		return fmt.Errorf("update profile image: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// FindByUsername implements auth.CredentialStore with a fresh per-attempt
// snapshot.
func (r *Repository) FindByUsername(ctx context.Context, username string) (auth.Principal, error) {
	var (
		passwordHash string
		role         string
		enabled      bool
		locked       bool
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, enabled, locked
		FROM users
		WHERE username = $1
	`, username).Scan(&username, &passwordHash, &role, &enabled, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Principal{}, auth.ErrUserNotFound
		}
		return auth.Principal{}, fmt.Errorf("query principal: %w", err)
	}

	return auth.Principal{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         auth.Role(role),
		Authorities:  auth.Role(role).Authorities(),
		Enabled:      enabled,
		Locked:       locked,
	}, nil
}

// SetLocked implements auth.CredentialStore. The lock timestamp backs the
// maintenance sweep that clears stale locks.
func (r *Repository) SetLocked(ctx context.Context, username string, locked bool) error {
	var lockedAt any
	if locked {
		lockedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET locked = $2, locked_at = $3
		WHERE username = $1
	`, username, locked, lockedAt)
	if err != nil {
		return fmt.Errorf("set lock state: %w", err)
	}

	return nil
}

// RecordLogin implements auth.CredentialStore, rolling the previous login
// timestamp forward.
func (r *Repository) RecordLogin(ctx context.Context, username string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET previous_login_at = last_login_at, last_login_at = $2
		WHERE username = $1
	`, username, at.UTC())
	if err != nil {
		return fmt.Errorf("record login: %w", err)
	}

	return nil
}

// UnlockStale clears stored locks older than the cutoff. The attempt guard
// forgets its records on its own TTL; this keeps the persisted flag from
// outliving them indefinitely.
func (r *Repository) UnlockStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET locked = FALSE, locked_at = NULL
		WHERE locked = TRUE AND locked_at IS NOT NULL AND locked_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("unlock stale users: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale locks rows affected: %w", err)
	}

	return affected, nil
}

// UpsertAdmin creates or refreshes the bootstrap super-admin account.
func (r *Repository) UpsertAdmin(ctx context.Context, username, plainPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, username, email, password_hash, role, enabled, locked, joined_at)
		VALUES ($1, 'Portal', 'Admin', $2, $2 || '@localhost', $3, $4, TRUE, FALSE, $5)
		ON CONFLICT (username)
		DO UPDATE SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, enabled = TRUE, locked = FALSE
	`, id.String(), username, string(hash), string(auth.RoleSuperAdmin), now)
	if err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (AppUser, error) {
	var (
		u         AppUser
		role      string
		lastLogin sql.NullTime
		previous  sql.NullTime
		imageURL  sql.NullString
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.Email,
		&u.PasswordHash, &imageURL, &role, &u.Enabled, &u.Locked, &u.JoinedAt,
		&lastLogin, &previous)
	if err != nil {
		return AppUser{}, err
	}

	u.Role = auth.Role(role)
	u.Authorities = u.Role.Authorities()
	u.ProfileImageURL = imageURL.String
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		u.LastLoginAt = &value
	}
	if previous.Valid {
		value := previous.Time.UTC()
		u.PreviousLoginAt = &value
	}

	return u, nil
}

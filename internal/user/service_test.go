package user

import (
	"context"
	"database/sql"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"user-portal/internal/auth"
	"user-portal/internal/observability"
)

type memoryStore struct {
	byUsername map[string]AppUser
	nextID     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byUsername: make(map[string]AppUser), nextID: 1}
}

func (m *memoryStore) GetByUsername(ctx context.Context, username string) (AppUser, error) {
	u, ok := m.byUsername[username]
	if !ok {
		return AppUser{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memoryStore) GetByEmail(ctx context.Context, email string) (AppUser, error) {
	for _, u := range m.byUsername {
		if u.Email == email {
			return u, nil
		}
	}
	return AppUser{}, sql.ErrNoRows
}

func (m *memoryStore) List(ctx context.Context) ([]AppUser, error) {
	out := make([]AppUser, 0, len(m.byUsername))
	for _, u := range m.byUsername {
		out = append(out, u)
	}
	return out, nil
}

func (m *memoryStore) Insert(ctx context.Context, u AppUser) (AppUser, error) {
	u.ID = strconv.Itoa(m.nextID)
	m.nextID++
	m.byUsername[u.Username] = u
	return u, nil
}

func (m *memoryStore) Update(ctx context.Context, currentUsername string, u AppUser) (AppUser, error) {
	current, ok := m.byUsername[currentUsername]
	if !ok {
		return AppUser{}, sql.ErrNoRows
	}
	u.ID = current.ID
	u.PasswordHash = current.PasswordHash
	u.JoinedAt = current.JoinedAt
	delete(m.byUsername, currentUsername)
	m.byUsername[u.Username] = u
	return u, nil
}

func (m *memoryStore) Delete(ctx context.Context, username string) error {
	if _, ok := m.byUsername[username]; !ok {
		return sql.ErrNoRows
	}
	delete(m.byUsername, username)
	return nil
}

func (m *memoryStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	u, ok := m.byUsername[username]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	m.byUsername[username] = u
	return nil
}

func (m *memoryStore) UpdateProfileImage(ctx context.Context, username, imageURL string) error {
	u, ok := m.byUsername[username]
	if !ok {
		return sql.ErrNoRows
	}
	u.ProfileImageURL = imageURL
	m.byUsername[username] = u
	return nil
}

type recordingMailer struct {
	sent []sentMail
}

type sentMail struct {
	to       string
	password string
}

func (m *recordingMailer) SendNewPassword(ctx context.Context, toEmail, firstName, password string) error {
	m.sent = append(m.sent, sentMail{to: toEmail, password: password})
	return nil
}

func newTestUserService() (*Service, *memoryStore, *recordingMailer) {
	store := newMemoryStore()
	mailer := &recordingMailer{}
	return NewService(store, mailer, observability.NewLogger()), store, mailer
}

func TestRegisterCreatesEnabledUserWithMailedPassword(t *testing.T) {
	service, store, mailer := newTestUserService()

	created, err := service.Register(context.Background(), "Dave", "Example", "dave", "dave@example.com")
	require.NoError(t, err)

	assert.Equal(t, auth.RoleUser, created.Role)
	assert.Equal(t, auth.RoleUser.Authorities(), created.Authorities)
	assert.True(t, created.Enabled)
	assert.False(t, created.Locked)
	assert.False(t, created.JoinedAt.IsZero())

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "dave@example.com", mailer.sent[0].to)
	assert.Len(t, mailer.sent[0].password, generatedPasswordLength)

	// The mailed password matches the stored hash.
	stored := store.byUsername["dave"]
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(mailer.sent[0].password)))
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	service, _, _ := newTestUserService()

	_, err := service.Register(context.Background(), "Dave", "Example", "dave", "dave@example.com")
	require.NoError(t, err)

	_, err = service.Register(context.Background(), "Other", "Person", "dave", "other@example.com")
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service, _, _ := newTestUserService()

	_, err := service.Register(context.Background(), "Dave", "Example", "dave", "dave@example.com")
	require.NoError(t, err)

	_, err = service.Register(context.Background(), "Other", "Person", "other", "dave@example.com")
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestAddUserAppliesRoleAndFlags(t *testing.T) {
	service, store, mailer := newTestUserService()

	created, err := service.AddUser(context.Background(), Input{
		FirstName: "Helen",
		LastName:  "Rios",
		Username:  "helen",
		Email:     "helen@example.com",
		Role:      auth.RoleHR,
		Enabled:   true,
		NotLocked: false,
	})
	require.NoError(t, err)

	assert.Equal(t, auth.RoleHR, created.Role)
	assert.True(t, created.Locked, "NotLocked=false must store a locked account")
	assert.True(t, store.byUsername["helen"].Locked)
	require.Len(t, mailer.sent, 1)
}

func TestAddUserRejectsUnknownRole(t *testing.T) {
	service, _, _ := newTestUserService()

	_, err := service.AddUser(context.Background(), Input{
		Username: "helen",
		Email:    "helen@example.com",
		Role:     auth.Role("ROLE_WIZARD"),
	})
	assert.ErrorContains(t, err, "unknown role")
}

func TestUpdateUserAllowsKeepingOwnUsernameAndEmail(t *testing.T) {
	service, _, _ := newTestUserService()

	_, err := service.Register(context.Background(), "Dave", "Example", "dave", "dave@example.com")
	require.NoError(t, err)

	updated, err := service.UpdateUser(context.Background(), "dave", Input{
		FirstName: "David",
		LastName:  "Example",
		Username:  "dave",
		Email:     "dave@example.com",
		Role:      auth.RoleManager,
		Enabled:   true,
		NotLocked: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "David", updated.FirstName)
	assert.Equal(t, auth.RoleManager, updated.Role)
}

func TestUpdateUserRejectsTakenUsername(t *testing.T) {
	service, _, _ := newTestUserService()

	_, err := service.Register(context.Background(), "Dave", "Example", "dave", "dave@example.com")
	require.NoError(t, err)
	_, err = service.Register(context.Background(), "Helen", "Rios", "helen", "helen@example.com")
	require.NoError(t, err)

	_, err = service.UpdateUser(context.Background(), "helen", Input{
		FirstName: "Helen",
		LastName:  "Rios",
		Username:  "dave",
		Email:     "helen@example.com",
		Role:      auth.RoleUser,
		Enabled:   true,
		NotLocked: true,
	})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestResetPasswordReplacesHashAndMails(t *testing.T) {
	service, store, mailer := newTestUserService()

	_, err := service.Register(context.Background(), "Dave", "Example", "dave", "dave@example.com")
	require.NoError(t, err)
	previousHash := store.byUsername["dave"].PasswordHash
	mailer.sent = nil

	require.NoError(t, service.ResetPassword(context.Background(), "dave@example.com"))

	stored := store.byUsername["dave"]
	assert.NotEqual(t, previousHash, stored.PasswordHash)
	require.Len(t, mailer.sent, 1)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(mailer.sent[0].password)))
}

func TestResetPasswordUnknownEmail(t *testing.T) {
	service, _, _ := newTestUserService()

	err := service.ResetPassword(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrEmailNotFound)
}

func TestGeneratePasswordUsesOnlyAlphabetCharacters(t *testing.T) {
	password, err := generatePassword(32)
	require.NoError(t, err)
	require.Len(t, password, 32)

	for _, r := range password {
		assert.Contains(t, passwordAlphabet, string(r))
	}
}

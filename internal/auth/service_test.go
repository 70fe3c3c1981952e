package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	principals map[string]*Principal
	logins     map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		principals: make(map[string]*Principal),
		logins:     make(map[string]time.Time),
	}
}

func (s *fakeStore) add(t *testing.T, username, password string, role Role, enabled, locked bool) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	s.principals[username] = &Principal{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		Authorities:  role.Authorities(),
		Enabled:      enabled,
		Locked:       locked,
	}
}

func (s *fakeStore) FindByUsername(ctx context.Context, username string) (Principal, error) {
	p, ok := s.principals[username]
	if !ok {
		return Principal{}, ErrUserNotFound
	}
	return *p, nil
}

func (s *fakeStore) SetLocked(ctx context.Context, username string, locked bool) error {
	p, ok := s.principals[username]
	if !ok {
		return ErrUserNotFound
	}
	p.Locked = locked
	return nil
}

func (s *fakeStore) RecordLogin(ctx context.Context, username string, at time.Time) error {
	s.logins[username] = at
	return nil
}

func newTestService(t *testing.T, store *fakeStore) (*Service, *AttemptGuard, *Codec) {
	t.Helper()

	codec := newTestCodec(t)
	guard := NewAttemptGuard(5, 15*time.Minute)
	return NewService(store, guard, codec), guard, codec
}

func TestLoginSuccessIssuesTokenWithCurrentAuthorities(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "correct horse battery", RoleAdmin, true, false)
	service, _, codec := newTestService(t, store)

	token, principal, err := service.Login(context.Background(), "dave", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "dave", principal.Username)

	identity, err := codec.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "dave", identity.Subject)
	assert.Equal(t, RoleAdmin.Authorities(), identity.Authorities)

	_, recorded := store.logins["dave"]
	assert.True(t, recorded, "last login was not persisted")
}

func TestLoginUnknownUser(t *testing.T) {
	service, _, _ := newTestService(t, newFakeStore())

	_, _, err := service.Login(context.Background(), "nobody", "whatever")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLoginWrongPasswordRecordsFailure(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "right password", RoleUser, true, false)
	service, guard, _ := newTestService(t, store)

	_, _, err := service.Login(context.Background(), "dave", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, guard.HasExceededMaxAttempts("dave"))
}

func TestLoginDisabledAccount(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "right password", RoleUser, false, false)
	service, _, _ := newTestService(t, store)

	_, _, err := service.Login(context.Background(), "dave", "right password")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestLoginLocksAfterMaxFailuresEvenWithCorrectPassword(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "right password", RoleUser, true, false)
	service, _, _ := newTestService(t, store)

	for i := 0; i < 4; i++ {
		_, _, err := service.Login(context.Background(), "dave", "wrong password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Fifth failure trips the guard and persists the lock.
	_, _, err := service.Login(context.Background(), "dave", "wrong password")
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.True(t, store.principals["dave"].Locked)

	// The correct password no longer helps while the lock is live.
	_, _, err = service.Login(context.Background(), "dave", "right password")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestLoginClearsStaleStoredLock(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "right password", RoleUser, true, true)
	service, _, _ := newTestService(t, store)

	// Locked flag is set but the guard holds no live record, so the lock is
	// stale: it is cleared and the attempt proceeds.
	_, principal, err := service.Login(context.Background(), "dave", "right password")
	require.NoError(t, err)
	assert.False(t, principal.Locked)
	assert.False(t, store.principals["dave"].Locked)
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "right password", RoleUser, true, false)
	service, guard, _ := newTestService(t, store)

	for i := 0; i < 3; i++ {
		_, _, err := service.Login(context.Background(), "dave", "wrong password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, _, err := service.Login(context.Background(), "dave", "right password")
	require.NoError(t, err)

	// The counter restarted from zero: four more failures stay short of the
	// threshold.
	for i := 0; i < 4; i++ {
		_, _, err := service.Login(context.Background(), "dave", "wrong password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	assert.False(t, guard.HasExceededMaxAttempts("dave"))
}

func TestLoginAfterGuardExpiryUnlocksAccount(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "right password", RoleUser, true, false)
	service, guard, _ := newTestService(t, store)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		_, _, _ = service.Login(context.Background(), "dave", "wrong password")
	}
	assert.True(t, store.principals["dave"].Locked)

	current = current.Add(16 * time.Minute)

	_, _, err := service.Login(context.Background(), "dave", "right password")
	require.NoError(t, err)
	assert.False(t, store.principals["dave"].Locked)
}

func TestUnlockClearsGuardAndStoredFlag(t *testing.T) {
	store := newFakeStore()
	store.add(t, "dave", "right password", RoleUser, true, false)
	service, guard, _ := newTestService(t, store)

	for i := 0; i < 5; i++ {
		_, _, _ = service.Login(context.Background(), "dave", "wrong password")
	}
	assert.True(t, store.principals["dave"].Locked)
	assert.True(t, guard.HasExceededMaxAttempts("dave"))

	require.NoError(t, service.Unlock(context.Background(), "dave"))
	assert.False(t, store.principals["dave"].Locked)
	assert.False(t, guard.HasExceededMaxAttempts("dave"))

	_, _, err := service.Login(context.Background(), "dave", "right password")
	require.NoError(t, err)
}

func TestUnlockUnknownUser(t *testing.T) {
	service, _, _ := newTestService(t, newFakeStore())

	err := service.Unlock(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

package authsvc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/authsvc"
	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/hooks"
	"kodex/internal/repository"
	"kodex/internal/repository/memory"
	"kodex/internal/tokens"
)

func newTestService(t *testing.T) (*authsvc.Service, repository.Store) {
	t.Helper()
	store := memory.New()
	bus := events.New(1, 16)
	t.Cleanup(bus.Close)

	secret := []byte("test-secret-at-least-32-bytes-long!!")
	lookup := func(realm string) ([]byte, bool) {
		if realm != "tenant-a" {
			return nil, false
		}
		return secret, true
	}
	tp := tokens.NewProvider(lookup, "tenant-a", "tenant-a", 15*time.Minute, 2*time.Minute, 5*time.Second)
	families := tokens.NewFamily(store, 7*24*time.Hour, 32)
	hookRegistry := hooks.NewRegistry(hooks.FailFast)
	hasher := cryptoadapter.NewBcryptHasher(4)

	svc := authsvc.New(authsvc.Config{Realm: "tenant-a", LockoutThreshold: 3, LockoutDuration: time.Minute}, store, hasher, tp, families, hookRegistry, bus)
	return svc, store
}

func seedUser(t *testing.T, store repository.Store, hasher cryptoadapter.PasswordHasher, email, password string) *repository.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	user, err := store.CreateUser(context.Background(), "tenant-a", &email, nil, hash, nil, nil, nil)
	require.NoError(t, err)
	return user
}

func TestLogin_Success(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	result, err := svc.Login(context.Background(), "alice@example.com", "correct horse battery staple", "127.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.False(t, result.MfaRequired)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	_, err := svc.Login(context.Background(), "alice@example.com", "wrong password", "127.0.0.1", "test-agent")
	require.ErrorIs(t, err, authsvc.ErrInvalidCredentials)
}

func TestLogin_UnknownIdentifier(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever", "127.0.0.1", "test-agent")
	require.ErrorIs(t, err, authsvc.ErrInvalidCredentials)
}

func TestLogin_LocksAfterThreshold(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	for i := 0; i < 3; i++ {
		_, err := svc.Login(context.Background(), "alice@example.com", "wrong", "127.0.0.1", "test-agent")
		require.ErrorIs(t, err, authsvc.ErrInvalidCredentials)
	}

	_, err := svc.Login(context.Background(), "alice@example.com", "correct horse battery staple", "127.0.0.1", "test-agent")
	var locked *authsvc.AccountLocked
	require.True(t, errors.As(err, &locked))
}

func TestLogin_MFAGateRequiresSecondFactor(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	user := seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	svc.SetMFAGate(func(ctx context.Context, userID uuid.UUID, ip, ua string) (bool, error) {
		return userID == user.ID, nil
	})

	result, err := svc.Login(context.Background(), "alice@example.com", "correct horse battery staple", "127.0.0.1", "test-agent")
	require.NoError(t, err)
	require.True(t, result.MfaRequired)
	require.NotEmpty(t, result.PreAuthToken)
	require.Empty(t, result.AccessToken)
	require.Empty(t, result.RefreshToken)
}

func TestCompleteMFALogin_IssuesSession(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	user := seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	result, err := svc.CompleteMFALogin(context.Background(), user.ID, "127.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
}

func TestRefresh_RotatesToken(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	login, err := svc.Login(context.Background(), "alice@example.com", "correct horse battery staple", "127.0.0.1", "test-agent")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), login.RefreshToken, "127.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = svc.Refresh(context.Background(), login.RefreshToken, "127.0.0.1", "test-agent")
	require.Error(t, err)
}

func TestLogout_RevokesFamily(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	login, err := svc.Login(context.Background(), "alice@example.com", "correct horse battery staple", "127.0.0.1", "test-agent")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken))
	_, err = svc.Refresh(context.Background(), login.RefreshToken, "127.0.0.1", "test-agent")
	require.Error(t, err)
}

func TestChangePassword_RequiresOldPassword(t *testing.T) {
	svc, store := newTestService(t)
	hasher := cryptoadapter.NewBcryptHasher(4)
	user := seedUser(t, store, hasher, "alice@example.com", "correct horse battery staple")

	err := svc.ChangePassword(context.Background(), user.ID, "wrong old password", "new password")
	require.ErrorIs(t, err, authsvc.ErrInvalidCredentials)

	err = svc.ChangePassword(context.Background(), user.ID, "correct horse battery staple", "new password")
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "alice@example.com", "new password", "127.0.0.1", "test-agent")
	require.NoError(t, err)
}

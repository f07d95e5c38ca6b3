package kodex_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/hooks"
	"kodex/internal/kodex"
	"kodex/internal/repository/memory"
	"kodex/internal/users"
)

func testConfig(name string) kodex.RealmConfig {
	secret, _ := cryptoadapter.GenerateKeyHex()
	mfaKey, _ := cryptoadapter.GenerateKeyHex()
	return kodex.RealmConfig{
		Name:                name,
		Issuer:              "kodex-test",
		SecretHex:           secret,
		BcryptCost:          4, // cheapest valid cost, tests only
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     7 * 24 * time.Hour,
		PreAuthTokenTTL:     2 * time.Minute,
		RefreshByteLen:      32,
		LockoutThreshold:    5,
		LockoutDuration:     15 * time.Minute,
		HookStrategy:        hooks.FailFast,
		MFAEncryptionKeyHex: mfaKey,
		MFAIssuer:           "kodex-test",
		BackupCodeCount:     10,
		BackupCodeLength:    8,
	}
}

func TestRealmRegistry_ServicesFor_UnknownRealm(t *testing.T) {
	r := kodex.NewRealmRegistry(memory.New(), events.New(1, 16))
	_, err := r.ServicesFor("does-not-exist")
	require.ErrorIs(t, err, kodex.ErrUnknownRealm)
}

func TestRealmRegistry_RegisterAndIsolate(t *testing.T) {
	bus := events.New(2, 64)
	r := kodex.NewRealmRegistry(memory.New(), bus)

	require.NoError(t, r.Register(testConfig("tenant-a")))
	require.NoError(t, r.Register(testConfig("tenant-b")))

	a, err := r.ServicesFor("tenant-a")
	require.NoError(t, err)
	b, err := r.ServicesFor("tenant-b")
	require.NoError(t, err)

	require.Equal(t, "tenant-a", a.Realm)
	require.Equal(t, "tenant-b", b.Realm)
	require.NotSame(t, a.Tokens, b.Tokens)
	require.NotSame(t, a.Hooks, b.Hooks)

	require.ElementsMatch(t, []string{"tenant-a", "tenant-b"}, r.Realms())
}

func TestRealmRegistry_TokenRealmIsolation(t *testing.T) {
	bus := events.New(2, 64)
	r := kodex.NewRealmRegistry(memory.New(), bus)
	require.NoError(t, r.Register(testConfig("tenant-a")))
	require.NoError(t, r.Register(testConfig("tenant-b")))

	a, _ := r.ServicesFor("tenant-a")
	b, _ := r.ServicesFor("tenant-b")

	ctx := context.Background()
	email := "alice@example.com"
	user, err := a.Users.CreateUser(ctx, users.CreateUserInput{
		Email:    &email,
		Password: "correct horse battery staple",
	})
	require.NoError(t, err)

	access, err := a.Tokens.IssueAccess(user.ID, "tenant-a", nil)
	require.NoError(t, err)

	// A token minted for tenant-a must not verify under tenant-b's secret,
	// even presented against the same user ID.
	_, err = b.Tokens.Verify(access, "tenant-b")
	require.Error(t, err)

	claims, err := a.Tokens.Verify(access, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
}

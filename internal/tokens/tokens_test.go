package tokens_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/tokens"
)

func providerFor(realm string, secret []byte) *tokens.Provider {
	lookup := func(r string) ([]byte, bool) {
		if r != realm {
			return nil, false
		}
		return secret, true
	}
	return tokens.NewProvider(lookup, "issuer-"+realm, "aud-"+realm, 15*time.Minute, 2*time.Minute, 5*time.Second)
}

func TestIssueAccess_VerifyRoundTrip(t *testing.T) {
	p := providerFor("tenant-a", []byte("0123456789abcdef0123456789abcdef"))
	userID := uuid.New()

	token, err := p.IssueAccess(userID, "tenant-a", []string{"admin"})
	require.NoError(t, err)

	claims, err := p.Verify(token, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, "tenant-a", claims.Realm)
	require.Equal(t, []string{"admin"}, claims.Roles)
	require.Equal(t, "access", claims.Scope)
	require.NotEmpty(t, claims.ID)
}

func TestIssuePreAuth_ScopeIsPreAuth(t *testing.T) {
	p := providerFor("tenant-a", []byte("0123456789abcdef0123456789abcdef"))
	userID := uuid.New()

	token, err := p.IssuePreAuth(userID, "tenant-a")
	require.NoError(t, err)

	claims, err := p.Verify(token, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "pre_auth", claims.Scope)
	require.Empty(t, claims.Roles)
}

func TestVerify_RejectsWrongRealm(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	a := providerFor("tenant-a", secret)

	lookupBoth := func(r string) ([]byte, bool) {
		if r == "tenant-a" || r == "tenant-b" {
			return secret, true
		}
		return nil, false
	}
	b := tokens.NewProvider(lookupBoth, "issuer-tenant-a", "aud-tenant-a", 15*time.Minute, 2*time.Minute, 5*time.Second)

	token, err := a.IssueAccess(uuid.New(), "tenant-a", nil)
	require.NoError(t, err)

	_, err = b.Verify(token, "tenant-b")
	require.ErrorIs(t, err, tokens.ErrRealmMismatch)
}

func TestVerify_RejectsWrongIssuerAudience(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	lookup := func(r string) ([]byte, bool) {
		if r != "tenant-a" {
			return nil, false
		}
		return secret, true
	}
	issuerA := tokens.NewProvider(lookup, "issuer-one", "aud-one", 15*time.Minute, 2*time.Minute, 5*time.Second)
	issuerB := tokens.NewProvider(lookup, "issuer-two", "aud-two", 15*time.Minute, 2*time.Minute, 5*time.Second)

	token, err := issuerA.IssueAccess(uuid.New(), "tenant-a", nil)
	require.NoError(t, err)

	_, err = issuerB.Verify(token, "tenant-a")
	require.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	lookup := func(r string) ([]byte, bool) { return secret, true }
	p := tokens.NewProvider(lookup, "issuer", "aud", -time.Minute, 2*time.Minute, 0)

	token, err := p.IssueAccess(uuid.New(), "tenant-a", nil)
	require.NoError(t, err)

	_, err = p.Verify(token, "tenant-a")
	require.ErrorIs(t, err, tokens.ErrExpiredToken)
}

func TestVerify_UnknownRealmRejectedBeforeParsing(t *testing.T) {
	p := providerFor("tenant-a", []byte("0123456789abcdef0123456789abcdef"))
	_, err := p.Verify("whatever-malformed-token", "tenant-z")
	require.ErrorIs(t, err, tokens.ErrUnknownRealm)
}

func TestGenerateOpaque_IsUniqueAndCorrectLength(t *testing.T) {
	a, err := tokens.GenerateOpaque(32)
	require.NoError(t, err)
	b, err := tokens.GenerateOpaque(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	// 32 bytes in padded URL-safe base64 take 44 characters.
	require.Len(t, a, 44)
}

func TestHashOpaque_IsDeterministic(t *testing.T) {
	require.Equal(t, tokens.HashOpaque("same-token"), tokens.HashOpaque("same-token"))
	require.NotEqual(t, tokens.HashOpaque("token-a"), tokens.HashOpaque("token-b"))
}

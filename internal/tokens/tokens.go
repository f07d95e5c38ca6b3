// Package tokens issues and verifies the platform's bearer access tokens
// and opaque refresh tokens. It generalizes the teacher's
// internal/auth/token.go JWTProvider from a single global RSA keypair to
// per-realm HMAC secrets: each realm owns its signing secret, and the
// realm claim is checked on every verify so a token minted for one realm
// is rejected by another even if a secret were ever reused.
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("tokens: invalid token")
	ErrExpiredToken  = errors.New("tokens: token has expired")
	ErrRealmMismatch = errors.New("tokens: token realm does not match expected realm")
	ErrUnknownRealm  = errors.New("tokens: no signing secret registered for realm")
)

// Claims is the access token payload. Scope distinguishes a fully
// authenticated session ("access") from a pre-MFA intermediate token
// ("pre_auth") the same way the teacher's Claims.Scope field does.
type Claims struct {
	UserID uuid.UUID `json:"sub"`
	Realm  string    `json:"realm"`
	Roles  []string  `json:"roles,omitempty"`
	Scope  string    `json:"scope"`
	jwt.RegisteredClaims
}

// SecretLookup resolves a realm name to its signing secret.
type SecretLookup func(realm string) ([]byte, bool)

// Provider issues and verifies JWTs using per-realm HS256 secrets.
type Provider struct {
	secrets    SecretLookup
	accessTTL  time.Duration
	preAuthTTL time.Duration
	issuer     string
	audience   string
	clockSkew  time.Duration
}

// NewProvider builds a Provider. clockSkew backdates an access token's
// IssuedAt/NotBefore the way the teacher's GenerateAccessToken does, to
// tolerate drift between the issuing and verifying hosts; pre-auth tokens
// are not backdated.
func NewProvider(secrets SecretLookup, issuer, audience string, accessTTL, preAuthTTL, clockSkew time.Duration) *Provider {
	return &Provider{secrets: secrets, accessTTL: accessTTL, preAuthTTL: preAuthTTL, issuer: issuer, audience: audience, clockSkew: clockSkew}
}

func (p *Provider) sign(claims Claims, realm string) (string, error) {
	secret, ok := p.secrets(realm)
	if !ok {
		return "", ErrUnknownRealm
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("tokens: sign: %w", err)
	}
	return signed, nil
}

// IssueAccess mints a fully authenticated bearer token.
func (p *Provider) IssueAccess(userID uuid.UUID, realm string, roles []string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Realm:  realm,
		Roles:  roles,
		Scope:  "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(p.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now.Add(-p.clockSkew)),
			NotBefore: jwt.NewNumericDate(now.Add(-p.clockSkew)),
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			Subject:   userID.String(),
			ID:        uuid.NewString(),
		},
	}
	return p.sign(claims, realm)
}

// IssuePreAuth mints a short-lived token presented back during the MFA
// challenge step; it carries no roles and cannot be used against
// role-gated operations.
func (p *Provider) IssuePreAuth(userID uuid.UUID, realm string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Realm:  realm,
		Scope:  "pre_auth",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(p.preAuthTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			Subject:   userID.String(),
			ID:        uuid.NewString(),
		},
	}
	return p.sign(claims, realm)
}

// Verify parses tokenString, confirms it was signed with expectedRealm's
// secret, and rejects any token whose embedded realm claim disagrees with
// expectedRealm even if (by misconfiguration) the same secret were shared.
func (p *Provider) Verify(tokenString, expectedRealm string) (*Claims, error) {
	secret, ok := p.secrets(expectedRealm)
	if !ok {
		return nil, ErrUnknownRealm
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("tokens: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Realm != expectedRealm {
		return nil, ErrRealmMismatch
	}
	if claims.Issuer != p.issuer || !hasAudience(claims.Audience, p.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func hasAudience(claimed jwt.ClaimStrings, expected string) bool {
	for _, a := range claimed {
		if a == expected {
			return true
		}
	}
	return false
}

// GenerateOpaque returns a URL-safe random token of byteLen entropy bytes,
// grounded in the teacher's recovery.go GenerateSecureToken.
func GenerateOpaque(byteLen int) (string, error) {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HashOpaque deterministically hashes an opaque token for storage/lookup,
// the same SHA256-hex scheme as the teacher's recovery.go hashToken.
func HashOpaque(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

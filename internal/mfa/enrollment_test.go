package mfa_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/mfa"
	"kodex/internal/repository/memory"
)

// capturingSender records every code sent to it, keyed by recipient, so
// tests can read back a one-time code without a real transport.
type capturingSender struct {
	mu   sync.Mutex
	sent map[string]string
}

func newCapturingSender() *capturingSender {
	return &capturingSender{sent: make(map[string]string)}
}

func (c *capturingSender) Send(ctx context.Context, to, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[to] = code
	return nil
}

func (c *capturingSender) codeFor(to string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[to]
}

func newTestEngine(t *testing.T) (*mfa.Engine, *capturingSender, *capturingSender) {
	t.Helper()
	store := memory.New()
	bus := events.New(1, 16)
	t.Cleanup(bus.Close)
	emailSender := newCapturingSender()
	smsSender := newCapturingSender()

	cfg := mfa.Config{
		Realm:            "tenant-a",
		Issuer:           "kodex",
		BackupCodeCount:  5,
		BackupCodeLength: 8,
		// A near-zero cooldown lets tests enroll then immediately challenge
		// the same (user, channel) without tripping the send cooldown;
		// withDefaults only replaces a <= 0 value, so 1ns survives.
		EnrollCooldown: time.Nanosecond,
	}
	totalUsers := func(ctx context.Context) (int, error) { return 1, nil }
	engine := mfa.New(cfg, store, emailSender, smsSender, bus, totalUsers)
	return engine, emailSender, smsSender
}

func newTestCipher(t *testing.T) cryptoadapter.AEAD {
	t.Helper()
	keyHex, err := cryptoadapter.GenerateKeyHex()
	require.NoError(t, err)
	c, err := cryptoadapter.NewAESGCMCipherFromHex(keyHex)
	require.NoError(t, err)
	return c
}

func TestEnrollEmail_VerifyCommitsMethodAndIssuesBackupCodes(t *testing.T) {
	engine, emailSender, _ := newTestEngine(t)
	userID := uuid.New()

	result, err := engine.EnrollEmail(context.Background(), userID, "alice@example.com", "203.0.113.1")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, result.ChallengeID)

	code := emailSender.codeFor("alice@example.com")
	require.Len(t, code, 6)

	verified, err := engine.VerifyEmailEnrollment(context.Background(), userID, result.ChallengeID, code)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", verified.Method.Identifier)
	require.True(t, verified.Method.IsPrimary, "first enrolled method becomes primary")
	require.Len(t, verified.BackupCodes, 5)
}

func TestVerifyEmailEnrollment_WrongCodeIsInvalid(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	userID := uuid.New()

	result, err := engine.EnrollEmail(context.Background(), userID, "alice@example.com", "203.0.113.1")
	require.NoError(t, err)

	_, err = engine.VerifyEmailEnrollment(context.Background(), userID, result.ChallengeID, "000000")
	require.ErrorIs(t, err, mfa.ErrInvalid)
}

func TestVerifyEmailEnrollment_WrongUserIsInvalid(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	userID := uuid.New()
	other := uuid.New()

	result, err := engine.EnrollEmail(context.Background(), userID, "alice@example.com", "203.0.113.1")
	require.NoError(t, err)

	_, err = engine.VerifyEmailEnrollment(context.Background(), other, result.ChallengeID, "000000")
	require.ErrorIs(t, err, mfa.ErrInvalid)
}

func TestEnrollTOTP_VerifyCommitsMethod(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	userID := uuid.New()
	cipher := newTestCipher(t)

	result, err := engine.EnrollTOTP(context.Background(), userID, "alice@example.com", cipher)
	require.NoError(t, err)
	require.NotEmpty(t, result.Secret)
	require.Contains(t, result.QRDataURI, "data:image")

	totp := cryptoadapter.NewTOTPProvider("kodex")
	code, err := totp.GenerateCode(result.Secret, time.Now())
	require.NoError(t, err)

	verified, err := engine.VerifyTOTPEnrollment(context.Background(), userID, result.ChallengeID, code, cipher)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", verified.Method.Identifier)
	require.NotEmpty(t, verified.Method.EncryptedSecret)
	require.Len(t, verified.BackupCodes, 5)
}

func TestVerifyTOTPEnrollment_WrongCodeIsInvalid(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	userID := uuid.New()
	cipher := newTestCipher(t)

	result, err := engine.EnrollTOTP(context.Background(), userID, "alice@example.com", cipher)
	require.NoError(t, err)

	_, err = engine.VerifyTOTPEnrollment(context.Background(), userID, result.ChallengeID, "000000", cipher)
	require.ErrorIs(t, err, mfa.ErrInvalid)
}

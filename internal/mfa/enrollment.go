package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/repository"
)

// EnrollResult is returned by a successful EnrollEmail/EnrollTOTP call.
type EnrollResult struct {
	ChallengeID uuid.UUID
	MethodID    uuid.UUID
	Secret      string // base32, TOTP only
	QRDataURI   string // TOTP only
	Issuer      string
	Account     string
}

// VerifyEnrollResult is returned once enrollment is confirmed; BackupCodes
// is disclosed in plaintext exactly once.
type VerifyEnrollResult struct {
	Method      *repository.MfaMethod
	BackupCodes []string
}

// EnrollEmail starts an EMAIL enrollment: rate limit, generate code,
// persist a PENDING challenge, dispatch.
func (e *Engine) EnrollEmail(ctx context.Context, userID uuid.UUID, email, ip string) (*EnrollResult, error) {
	if err := e.enrollLimit.CheckAndRecordSend(enrollKey(e.cfg.Realm, userID, "EMAIL")); err != nil {
		return nil, err
	}

	code, err := generateNumericCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	challenge := &repository.MfaChallenge{
		ID:         uuid.New(),
		UserID:     userID,
		MethodType: repository.MfaEmail,
		Identifier: email,
		CodeHash:   hashCode(code),
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.ChallengeTTL),
		Status:     repository.ChallengePending,
	}
	if err := e.store.InsertChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("mfa: insert challenge: %w", err)
	}

	if e.emailSender != nil {
		if err := e.emailSender.Send(ctx, email, code); err != nil {
			return nil, fmt.Errorf("mfa: send enrollment code: %w", err)
		}
	}

	e.bus.Publish(ctx, events.Event{Type: events.TypeMfaChallengeIssued, Realm: e.cfg.Realm, Payload: challenge.ID})
	return &EnrollResult{ChallengeID: challenge.ID}, nil
}

// VerifyEmailEnrollment consumes the enrollment challenge and, on success,
// commits the EMAIL method.
func (e *Engine) VerifyEmailEnrollment(ctx context.Context, userID, challengeID uuid.UUID, code string) (*VerifyEnrollResult, error) {
	challenge, err := e.loadChallengeForVerify(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}

	if err := e.checkCode(ctx, challenge, code); err != nil {
		return nil, err
	}

	if err := e.store.ConsumeChallenge(ctx, challenge.ID); err != nil {
		return nil, fmt.Errorf("mfa: consume challenge: %w", err)
	}

	methods, err := e.store.ListMethods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mfa: list methods: %w", err)
	}

	method := &repository.MfaMethod{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       repository.MfaEmail,
		Identifier: challenge.Identifier,
		IsPrimary:  len(methods) == 0,
		CreatedAt:  time.Now(),
	}
	if err := e.store.InsertMethod(ctx, method); err != nil {
		return nil, fmt.Errorf("mfa: insert method: %w", err)
	}

	return e.finishEnrollment(ctx, userID, method)
}

// EnrollTOTP generates a provisional secret and provisioning material; the
// method is not committed until VerifyTOTPEnrollment succeeds.
func (e *Engine) EnrollTOTP(ctx context.Context, userID uuid.UUID, account string, secretCipher cryptoadapter.AEAD) (*EnrollResult, error) {
	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	qr, err := e.totp.RenderQR(account, secret)
	if err != nil {
		return nil, fmt.Errorf("mfa: render qr: %w", err)
	}

	encrypted, err := secretCipher.Encrypt([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("mfa: encrypt totp secret: %w", err)
	}

	methodID := uuid.New()
	challenge := &repository.MfaChallenge{
		ID:         methodID,
		UserID:     userID,
		MethodType: repository.MfaTOTP,
		Identifier: account,
		CodeHash:   string(encrypted),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(10 * time.Minute),
		Status:     repository.ChallengePending,
	}
	if err := e.store.InsertChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("mfa: insert provisional challenge: %w", err)
	}

	return &EnrollResult{
		ChallengeID: challenge.ID,
		MethodID:    methodID,
		Secret:      secret,
		QRDataURI:   qr,
		Issuer:      e.cfg.Issuer,
		Account:     account,
	}, nil
}

// VerifyTOTPEnrollment verifies code against the provisional secret and, on
// success, commits the TOTP method.
func (e *Engine) VerifyTOTPEnrollment(ctx context.Context, userID, challengeID uuid.UUID, code string, secretCipher cryptoadapter.AEAD) (*VerifyEnrollResult, error) {
	challenge, err := e.loadChallengeForVerify(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}

	secret, err := secretCipher.Decrypt([]byte(challenge.CodeHash))
	if err != nil {
		return nil, fmt.Errorf("mfa: decrypt provisional secret: %w", err)
	}

	if !e.totp.VerifyCode(string(secret), code, time.Now()) {
		_, _ = e.store.IncrementChallengeAttempts(ctx, challenge.ID)
		return nil, ErrInvalid
	}

	if err := e.store.ConsumeChallenge(ctx, challenge.ID); err != nil {
		return nil, fmt.Errorf("mfa: consume challenge: %w", err)
	}

	methods, err := e.store.ListMethods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mfa: list methods: %w", err)
	}

	reEncrypted, err := secretCipher.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("mfa: re-encrypt totp secret: %w", err)
	}

	method := &repository.MfaMethod{
		ID:              challenge.ID,
		UserID:          userID,
		Type:            repository.MfaTOTP,
		Identifier:      challenge.Identifier,
		EncryptedSecret: reEncrypted,
		IsPrimary:       len(methods) == 0,
		CreatedAt:       time.Now(),
	}
	if err := e.store.InsertMethod(ctx, method); err != nil {
		return nil, fmt.Errorf("mfa: insert method: %w", err)
	}

	return e.finishEnrollment(ctx, userID, method)
}

func (e *Engine) loadChallengeForVerify(ctx context.Context, userID, challengeID uuid.UUID) (*repository.MfaChallenge, error) {
	challenge, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	if challenge.UserID != userID {
		return nil, ErrInvalid
	}
	if time.Now().After(challenge.ExpiresAt) {
		_ = e.store.ExpireChallenge(ctx, challenge.ID)
		return nil, ErrExpired
	}
	if challenge.Status != repository.ChallengePending {
		return nil, ErrInvalid
	}
	if challenge.Attempts >= e.cfg.MaxAttempts {
		return nil, fmt.Errorf("mfa: %w: attempts exhausted", ErrInvalid)
	}
	return challenge, nil
}

// checkCode verifies code against challenge.CodeHash in constant time,
// recording a failed attempt on mismatch.
func (e *Engine) checkCode(ctx context.Context, challenge *repository.MfaChallenge, code string) error {
	if !cryptoadapter.ConstantTimeEqualString(hashCode(code), challenge.CodeHash) {
		if _, err := e.store.IncrementChallengeAttempts(ctx, challenge.ID); err != nil {
			return fmt.Errorf("mfa: increment attempts: %w", err)
		}
		return ErrInvalid
	}
	return nil
}

func (e *Engine) finishEnrollment(ctx context.Context, userID uuid.UUID, method *repository.MfaMethod) (*VerifyEnrollResult, error) {
	codes, hashes, err := generateBackupCodeSet(e.cfg.BackupCodeCount, e.cfg.BackupCodeLength)
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("mfa: insert backup codes: %w", err)
	}

	e.bus.Publish(ctx, events.Event{Type: events.TypeMfaEnrolled, Realm: e.cfg.Realm, Payload: method.ID})
	return &VerifyEnrollResult{Method: method, BackupCodes: codes}, nil
}

func generateBackupCodeSet(count, length int) (codes, hashes []string, err error) {
	codes, err = cryptoadapter.GenerateBackupCodes(count, length)
	if err != nil {
		return nil, nil, fmt.Errorf("mfa: generate backup codes: %w", err)
	}
	hashes = make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = hashCode(c)
	}
	return codes, hashes, nil
}

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

// ChallengeEmail mirrors EnrollEmail's rate-limit/generate/dispatch steps
// against an already-enrolled EMAIL method.
func (e *Engine) ChallengeEmail(ctx context.Context, userID, methodID uuid.UUID, ip string) (uuid.UUID, error) {
	return e.challengeExisting(ctx, userID, methodID, repository.MfaEmail, e.emailSender)
}

// ChallengeSMS mirrors ChallengeEmail for the SMS channel.
func (e *Engine) ChallengeSMS(ctx context.Context, userID, methodID uuid.UUID, ip string) (uuid.UUID, error) {
	return e.challengeExisting(ctx, userID, methodID, repository.MfaSMS, e.smsSender)
}

func (e *Engine) challengeExisting(ctx context.Context, userID, methodID uuid.UUID, methodType repository.MfaMethodType, sender Sender) (uuid.UUID, error) {
	method, err := e.store.GetMethod(ctx, userID, methodID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, ErrNotEnabled
		}
		return uuid.Nil, err
	}

	if err := e.enrollLimit.CheckAndRecordSend(enrollKey(e.cfg.Realm, userID, string(methodType))); err != nil {
		return uuid.Nil, err
	}

	code, err := generateNumericCode()
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now()
	challenge := &repository.MfaChallenge{
		ID:         uuid.New(),
		UserID:     userID,
		MethodID:   &method.ID,
		MethodType: methodType,
		Identifier: method.Identifier,
		CodeHash:   hashCode(code),
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.ChallengeTTL),
		Status:     repository.ChallengePending,
	}
	if err := e.store.InsertChallenge(ctx, challenge); err != nil {
		return uuid.Nil, fmt.Errorf("mfa: insert challenge: %w", err)
	}

	if sender != nil {
		if err := sender.Send(ctx, method.Identifier, code); err != nil {
			return uuid.Nil, fmt.Errorf("mfa: send challenge code: %w", err)
		}
	}

	e.bus.Publish(ctx, events.Event{Type: events.TypeMfaChallengeIssued, Realm: e.cfg.Realm, Payload: challenge.ID})
	return challenge.ID, nil
}

// VerifyChallenge checks code against a PENDING challenge issued by
// ChallengeEmail/ChallengeSMS, optionally trusting the device on success
// per auto_trust_device_after_verification.
func (e *Engine) VerifyChallenge(ctx context.Context, userID, challengeID uuid.UUID, code, ip, ua string) error {
	challenge, err := e.loadChallengeForVerify(ctx, userID, challengeID)
	if err != nil {
		return err
	}
	if err := e.checkCode(ctx, challenge, code); err != nil {
		return err
	}
	if err := e.store.ConsumeChallenge(ctx, challenge.ID); err != nil {
		return fmt.Errorf("mfa: consume challenge: %w", err)
	}

	e.bus.Publish(ctx, events.Event{Type: events.TypeMfaVerified, Realm: e.cfg.Realm, Payload: userID})
	if e.cfg.AutoTrustAfterVerification {
		if _, err := e.TrustDevice(ctx, userID, ip, ua, ""); err != nil {
			return fmt.Errorf("mfa: auto-trust device: %w", err)
		}
	}
	return nil
}

// VerifyTOTP is stateless: the live code window is the challenge. It
// enforces a fast per-(user, method) rate window rather than a persisted
// challenge row.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, methodID uuid.UUID, code string, secretCipher cryptoadapter.AEAD, ip, ua string) error {
	key := fmt.Sprintf("%s:%s:totp-verify", e.cfg.Realm, methodID)
	if err := e.verifyLimit.CheckAndRecordAttempt(key); err != nil {
		return err
	}

	method, err := e.store.GetMethod(ctx, userID, methodID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotEnabled
		}
		return err
	}

	secret, err := secretCipher.Decrypt(method.EncryptedSecret)
	if err != nil {
		return fmt.Errorf("mfa: decrypt totp secret: %w", err)
	}

	if !e.totp.VerifyCode(string(secret), code, time.Now()) {
		return ErrInvalid
	}

	e.bus.Publish(ctx, events.Event{Type: events.TypeMfaVerified, Realm: e.cfg.Realm, Payload: userID})
	if e.cfg.AutoTrustAfterVerification {
		if _, err := e.TrustDevice(ctx, userID, ip, ua, ""); err != nil {
			return fmt.Errorf("mfa: auto-trust device: %w", err)
		}
	}
	return nil
}

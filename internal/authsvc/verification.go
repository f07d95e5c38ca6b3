package authsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kodex/internal/events"
	"kodex/internal/repository"
	"kodex/internal/tokens"
)

// ErrInvalidVerificationToken covers an unknown, expired, or already-used
// verification token uniformly; callers cannot distinguish the three from
// the error alone, the same "silence is golden" posture the teacher's
// recovery.go applies to its own reset/verify flows.
var ErrInvalidVerificationToken = errors.New("authsvc: invalid or expired verification token")

const (
	passwordResetTTL    = 15 * time.Minute
	emailVerificationTTL = 24 * time.Hour
	phoneVerificationTTL = 10 * time.Minute
)

// RequestPasswordReset issues a password-reset VerificationToken and hands
// the raw token to the caller to deliver (by mail or SMS transport); it
// never reports whether email matched an account, mirroring the teacher's
// "silence is golden" RequestPasswordReset.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip string) (string, error) {
	user, err := s.store.FindByEmail(ctx, s.cfg.Realm, email)
	if err != nil {
		return "", nil
	}
	return s.issueVerification(ctx, user.ID, repository.VerificationPasswordReset, email, ip, passwordResetTTL)
}

// ResetPassword consumes a password-reset token and sets newPassword.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	vt, err := s.consumeVerification(ctx, rawToken, repository.VerificationPasswordReset)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authsvc: hash new password: %w", err)
	}
	if err := s.store.SetPassword(ctx, vt.UserID, hash); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{Type: events.TypePasswordChanged, Realm: s.cfg.Realm, Payload: vt.UserID})
	return nil
}

// RequestEmailVerification issues an email-verification VerificationToken
// for an already-registered but unverified address.
func (s *Service) RequestEmailVerification(ctx context.Context, userID uuid.UUID, email, ip string) (string, error) {
	return s.issueVerification(ctx, userID, repository.VerificationEmail, email, ip, emailVerificationTTL)
}

// VerifyEmail consumes an email-verification token and marks the user
// verified.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	vt, err := s.consumeVerification(ctx, rawToken, repository.VerificationEmail)
	if err != nil {
		return err
	}
	return s.store.SetStatus(ctx, vt.UserID, repository.StatusActive)
}

// RequestPhoneVerification issues a phone-verification VerificationToken,
// generalizing the teacher's email-only flow to the SMS channel.
func (s *Service) RequestPhoneVerification(ctx context.Context, userID uuid.UUID, phone, ip string) (string, error) {
	return s.issueVerification(ctx, userID, repository.VerificationPhone, phone, ip, phoneVerificationTTL)
}

// VerifyPhone consumes a phone-verification token.
func (s *Service) VerifyPhone(ctx context.Context, rawToken string) error {
	vt, err := s.consumeVerification(ctx, rawToken, repository.VerificationPhone)
	if err != nil {
		return err
	}
	return s.store.SetStatus(ctx, vt.UserID, repository.StatusActive)
}

func (s *Service) issueVerification(ctx context.Context, userID uuid.UUID, kind repository.VerificationTokenType, contact, ip string, ttl time.Duration) (string, error) {
	raw, err := tokens.GenerateOpaque(32)
	if err != nil {
		return "", fmt.Errorf("authsvc: generate verification token: %w", err)
	}
	now := time.Now()
	vt := &repository.VerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      kind,
		Contact:   contact,
		Token:     tokens.HashOpaque(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IP:        ip,
	}
	if err := s.store.InsertVerificationToken(ctx, vt); err != nil {
		return "", fmt.Errorf("authsvc: insert verification token: %w", err)
	}
	return raw, nil
}

func (s *Service) consumeVerification(ctx context.Context, rawToken string, kind repository.VerificationTokenType) (*repository.VerificationToken, error) {
	vt, err := s.store.GetVerificationToken(ctx, tokens.HashOpaque(rawToken))
	if err != nil {
		return nil, ErrInvalidVerificationToken
	}
	if vt.Type != kind || vt.UsedAt != nil {
		return nil, ErrInvalidVerificationToken
	}
	now := time.Now()
	if now.After(vt.ExpiresAt) {
		_ = s.store.DeleteVerificationToken(ctx, vt.ID)
		return nil, ErrInvalidVerificationToken
	}
	if err := s.store.ConsumeVerificationToken(ctx, vt.ID, now); err != nil {
		return nil, fmt.Errorf("authsvc: consume verification token: %w", err)
	}
	return vt, nil
}

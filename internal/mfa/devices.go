package mfa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kodex/internal/events"
	"kodex/internal/repository"
)

func hashIdentity(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// TrustDevice records (ip, ua) as trusted for TrustTTL, letting the user
// skip MFA from this device until it expires.
func (e *Engine) TrustDevice(ctx context.Context, userID uuid.UUID, ip, ua, name string) (uuid.UUID, error) {
	now := time.Now()
	expires := now.Add(e.cfg.TrustTTL)
	device := &repository.TrustedDevice{
		ID:         uuid.New(),
		UserID:     userID,
		IPHash:     hashIdentity(ip),
		UAHash:     hashIdentity(ua),
		Name:       name,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  &expires,
	}
	if err := e.store.InsertTrustedDevice(ctx, device); err != nil {
		return uuid.Nil, fmt.Errorf("mfa: insert trusted device: %w", err)
	}
	e.bus.Publish(ctx, events.Event{Type: events.TypeDeviceTrusted, Realm: e.cfg.Realm, Payload: device.ID})
	return device.ID, nil
}

// IsDeviceTrusted reports whether (ip, ua) matches a non-expired trusted
// device for userID.
func (e *Engine) IsDeviceTrusted(ctx context.Context, userID uuid.UUID, ip, ua string) (bool, error) {
	device, err := e.store.FindTrustedDevice(ctx, userID, hashIdentity(ip), hashIdentity(ua), time.Now())
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return device != nil, nil
}

// ListTrustedDevices returns every trusted device for userID.
func (e *Engine) ListTrustedDevices(ctx context.Context, userID uuid.UUID) ([]repository.TrustedDevice, error) {
	return e.store.ListTrustedDevices(ctx, userID)
}

// RemoveTrustedDevice revokes a single trusted device.
func (e *Engine) RemoveTrustedDevice(ctx context.Context, userID, deviceID uuid.UUID) error {
	return e.store.RemoveTrustedDevice(ctx, userID, deviceID)
}

// RemoveAllTrustedDevices revokes every trusted device for userID.
func (e *Engine) RemoveAllTrustedDevices(ctx context.Context, userID uuid.UUID) error {
	return e.store.RemoveAllTrustedDevices(ctx, userID)
}

// SetPrimaryMethod designates methodID as the user's primary second
// factor.
func (e *Engine) SetPrimaryMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	return e.store.SetPrimary(ctx, userID, methodID)
}

// RemoveMethod lets a user remove their own enrolled method.
func (e *Engine) RemoveMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	return e.store.RemoveMethod(ctx, userID, methodID)
}

// ListMethods returns every method enrolled by userID.
func (e *Engine) ListMethods(ctx context.Context, userID uuid.UUID) ([]repository.MfaMethod, error) {
	return e.store.ListMethods(ctx, userID)
}

package mfa

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"kodex/internal/events"
	"kodex/internal/repository"
)

const adminRole = "admin"

// requireAdmin guards every admin operation behind the configured
// user_has_role predicate; the conventional role name is "admin".
func (e *Engine) requireAdmin(ctx context.Context, adminID uuid.UUID) error {
	if e.cfg.HasRole == nil {
		return ErrInsufficientPermission
	}
	ok, err := e.cfg.HasRole(ctx, adminID, adminRole)
	if err != nil {
		return fmt.Errorf("mfa: check admin role: %w", err)
	}
	if !ok {
		return ErrInsufficientPermission
	}
	return nil
}

// ForceRemoveMfaMethod lets an admin remove a single method from another
// user's account.
func (e *Engine) ForceRemoveMfaMethod(ctx context.Context, adminID, targetID, methodID uuid.UUID) error {
	if err := e.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	if err := e.store.RemoveMethod(ctx, targetID, methodID); err != nil {
		return err
	}
	e.bus.Publish(ctx, events.Event{Type: events.TypeMfaAdminForceRemoved, Realm: e.cfg.Realm, Payload: methodID})
	return nil
}

// DisableMfaForUser removes every method, trusted device, and backup code
// belonging to targetID.
func (e *Engine) DisableMfaForUser(ctx context.Context, adminID, targetID uuid.UUID) error {
	if err := e.requireAdmin(ctx, adminID); err != nil {
		return err
	}

	methods, err := e.store.ListMethods(ctx, targetID)
	if err != nil {
		return fmt.Errorf("mfa: list methods: %w", err)
	}
	for _, m := range methods {
		if err := e.store.RemoveMethod(ctx, targetID, m.ID); err != nil {
			return fmt.Errorf("mfa: remove method %s: %w", m.ID, err)
		}
	}
	if err := e.store.RemoveAllTrustedDevices(ctx, targetID); err != nil {
		return fmt.Errorf("mfa: remove trusted devices: %w", err)
	}
	if err := e.store.DeleteBackupCodes(ctx, targetID); err != nil {
		return err
	}
	e.bus.Publish(ctx, events.Event{Type: events.TypeMfaAdminDisabled, Realm: e.cfg.Realm, Payload: targetID})
	return nil
}

// ListUserMethods lets an admin inspect another user's enrolled methods.
func (e *Engine) ListUserMethods(ctx context.Context, adminID, targetID uuid.UUID) ([]repository.MfaMethod, error) {
	if err := e.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return e.store.ListMethods(ctx, targetID)
}

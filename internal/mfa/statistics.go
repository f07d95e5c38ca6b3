package mfa

import (
	"context"
	"fmt"

	"kodex/internal/repository"
)

// Statistics is the MFA adoption snapshot returned by GetStatistics.
type Statistics struct {
	TotalUsers        int
	UsersWithMfa      int
	AdoptionRate      float64
	MethodDistribution map[repository.MfaMethodType]int
	TrustedDevices    int
}

// GetStatistics computes realm-wide MFA adoption. TotalUsers is supplied by
// the configured closure rather than counted here, to avoid coupling the
// MFA Engine to the User Service for a number it doesn't otherwise need.
func (e *Engine) GetStatistics(ctx context.Context) (*Statistics, error) {
	total, err := e.totalUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("mfa: total users: %w", err)
	}

	withMfa, err := e.store.CountUsersWithAnyMfa(ctx, e.cfg.Realm)
	if err != nil {
		return nil, fmt.Errorf("mfa: count users with mfa: %w", err)
	}

	distribution, err := e.store.CountMethodsByType(ctx, e.cfg.Realm)
	if err != nil {
		return nil, fmt.Errorf("mfa: count methods by type: %w", err)
	}

	devices, err := e.store.CountTrustedDevices(ctx, e.cfg.Realm)
	if err != nil {
		return nil, fmt.Errorf("mfa: count trusted devices: %w", err)
	}

	denominator := total
	if denominator < 1 {
		denominator = 1
	}

	return &Statistics{
		TotalUsers:         total,
		UsersWithMfa:       withMfa,
		AdoptionRate:       100 * float64(withMfa) / float64(denominator),
		MethodDistribution: distribution,
		TrustedDevices:     devices,
	}, nil
}

// Package users implements the Update Command Processor (spec.md §4.H): a
// typed-command pipeline that runs before-hooks, delegates to the
// Repository Layer for the actual mutation, then diffs the reloaded user
// against its prior snapshot to produce a ChangeSet for the UserUpdated
// event. Grounded in the teacher's internal/auth/user_service.go field
// update methods (UpdateProfile, ChangePassword's audit-log diffing
// instinct), generalized from ad hoc single-field setters to the
// three-valued FieldUpdate batch the spec requires.
package users

import (
	"fmt"

	"kodex/internal/repository"
)

// FieldChange is one field whose value differed between the pre- and
// post-update snapshots.
type FieldChange struct {
	Name string
	Old  any
	New  any
}

// ChangeSet is the diff produced after an update command commits.
type ChangeSet struct {
	ChangedFields []FieldChange
}

// IsEmpty reports whether the update was a no-op.
func (c ChangeSet) IsEmpty() bool { return len(c.ChangedFields) == 0 }

// Diff computes a ChangeSet between before and after, covering the top
// -level fields, profile.* fields, and customAttributes.* keys — only
// entries whose value actually differs are included.
func Diff(before, after *repository.User) ChangeSet {
	var changes []FieldChange

	addIfDiff := func(name string, oldV, newV any) {
		if !equalAny(oldV, newV) {
			changes = append(changes, FieldChange{Name: name, Old: oldV, New: newV})
		}
	}

	addIfDiff("email", derefString(before.Email), derefString(after.Email))
	addIfDiff("phone", derefString(before.Phone), derefString(after.Phone))
	addIfDiff("status", string(before.Status), string(after.Status))

	beforeProfile, afterProfile := before.Profile, after.Profile
	addIfDiff("profile.firstName", profileField(beforeProfile, func(p *repository.Profile) *string { return p.FirstName }),
		profileField(afterProfile, func(p *repository.Profile) *string { return p.FirstName }))
	addIfDiff("profile.lastName", profileField(beforeProfile, func(p *repository.Profile) *string { return p.LastName }),
		profileField(afterProfile, func(p *repository.Profile) *string { return p.LastName }))
	addIfDiff("profile.address", profileField(beforeProfile, func(p *repository.Profile) *string { return p.Address }),
		profileField(afterProfile, func(p *repository.Profile) *string { return p.Address }))
	addIfDiff("profile.profilePicture", profileField(beforeProfile, func(p *repository.Profile) *string { return p.ProfilePicture }),
		profileField(afterProfile, func(p *repository.Profile) *string { return p.ProfilePicture }))

	seen := make(map[string]bool, len(before.CustomAttrs)+len(after.CustomAttrs))
	for k := range before.CustomAttrs {
		seen[k] = true
	}
	for k := range after.CustomAttrs {
		seen[k] = true
	}
	for k := range seen {
		addIfDiff(fmt.Sprintf("customAttributes.%s", k), before.CustomAttrs[k], after.CustomAttrs[k])
	}

	return ChangeSet{ChangedFields: changes}
}

func equalAny(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return a == b
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func profileField(p *repository.Profile, get func(*repository.Profile) *string) string {
	if p == nil {
		return ""
	}
	return derefString(get(p))
}

package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/hooks"
	"kodex/internal/repository"
)

// ErrNotFound mirrors the Repository Layer's NotFound variant, surfaced at
// the command-processor boundary.
var ErrNotFound = errors.New("users: user not found")

// Service is the realm-scoped Update Command Processor.
type Service struct {
	realm  string
	store  repository.Store
	hasher cryptoadapter.PasswordHasher
	hooks  *hooks.Registry
	bus    *events.Bus
}

func New(realm string, store repository.Store, hasher cryptoadapter.PasswordHasher, hookRegistry *hooks.Registry, bus *events.Bus) *Service {
	return &Service{realm: realm, store: store, hasher: hasher, hooks: hookRegistry, bus: bus}
}

// CreateUserInput is the raw material for a new account, transformed by
// beforeUserCreate before the Repository Layer ever sees it.
type CreateUserInput struct {
	Email    *string
	Phone    *string
	Password string
	Roles    []string
	Attrs    map[string]string
	Profile  *repository.Profile
}

// CreateUser runs beforeUserCreate, hashes the password, and inserts the
// new user.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*repository.User, error) {
	transformed, err := s.hooks.RunBeforeUserCreate(ctx, hooks.UserCreateData{
		Email: in.Email, Phone: in.Phone, Password: in.Password, Attrs: in.Attrs, Profile: in.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("users: beforeUserCreate hooks: %w", err)
	}

	hash, err := s.hasher.Hash(transformed.Password)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, s.realm, transformed.Email, transformed.Phone, hash, in.Roles, transformed.Attrs, transformed.Profile)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.Event{Type: events.TypeUserCreated, Realm: s.realm, Payload: user.ID})
	return user, nil
}

// DeleteUser removes a user outright.
func (s *Service) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.Event{Type: events.TypeUserDeleted, Realm: s.realm, Payload: userID})
	return nil
}

// UpdateUserFieldsCommand carries the top-level email/phone PATCH.
type UpdateUserFieldsCommand struct {
	UserID uuid.UUID
	Email  repository.FieldUpdate[string]
	Phone  repository.FieldUpdate[string]
}

// UpdateProfileFieldsCommand carries the embedded-profile PATCH.
type UpdateProfileFieldsCommand struct {
	UserID         uuid.UUID
	FirstName      repository.FieldUpdate[string]
	LastName       repository.FieldUpdate[string]
	Address        repository.FieldUpdate[string]
	ProfilePicture repository.FieldUpdate[string]
}

// AttrOp is one mutation applied by UpdateAttributes: Set(k, v), Remove(k),
// or (via ReplaceAll) a full map swap expanded into Set/Remove pairs.
type AttrOp struct {
	Key    string
	Remove bool
	Value  string
}

// UpdateAttributesCommand carries a batch of attribute operations.
type UpdateAttributesCommand struct {
	UserID uuid.UUID
	Ops    []AttrOp
}

// UpdateUserBatchCommand composes all three update kinds into a single
// transactional Repository call, matching the spec's UpdateUserBatch.
type UpdateUserBatchCommand struct {
	UserID  uuid.UUID
	User    UpdateUserFieldsCommand
	Profile UpdateProfileFieldsCommand
	Attrs   UpdateAttributesCommand
}

// Result is returned by every update command: the reloaded user plus the
// diff against its pre-update snapshot.
type Result struct {
	User    *repository.User
	Changes ChangeSet
}

func (s *Service) UpdateUserFields(ctx context.Context, cmd UpdateUserFieldsCommand) (*Result, error) {
	return s.runUpdate(ctx, cmd.UserID, cmd, UpdateProfileFieldsCommand{UserID: cmd.UserID}, UpdateAttributesCommand{UserID: cmd.UserID})
}

func (s *Service) UpdateProfileFields(ctx context.Context, cmd UpdateProfileFieldsCommand) (*Result, error) {
	return s.runUpdate(ctx, cmd.UserID, UpdateUserFieldsCommand{UserID: cmd.UserID}, cmd, UpdateAttributesCommand{UserID: cmd.UserID})
}

func (s *Service) UpdateAttributes(ctx context.Context, cmd UpdateAttributesCommand) (*Result, error) {
	return s.runUpdate(ctx, cmd.UserID, UpdateUserFieldsCommand{UserID: cmd.UserID}, UpdateProfileFieldsCommand{UserID: cmd.UserID}, cmd)
}

func (s *Service) UpdateUserBatch(ctx context.Context, cmd UpdateUserBatchCommand) (*Result, error) {
	return s.runUpdate(ctx, cmd.UserID, cmd.User, cmd.Profile, cmd.Attrs)
}

// runUpdate implements the five-step algorithm common to every command
// variant (spec.md §4.H): load, transform via hooks, delegate to the
// Repository, reload, diff.
func (s *Service) runUpdate(ctx context.Context, userID uuid.UUID, userCmd UpdateUserFieldsCommand, profileCmd UpdateProfileFieldsCommand, attrCmd UpdateAttributesCommand) (*Result, error) {
	before, err := s.store.FindFullByID(ctx, userID)
	if err != nil {
		return nil, ErrNotFound
	}

	transformedUser, err := s.hooks.RunBeforeUserUpdate(ctx, hooks.UserUpdateData{
		UserID: userID.String(), Email: userCmd.Email, Phone: userCmd.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("users: beforeUserUpdate hooks: %w", err)
	}

	transformedProfile, err := s.hooks.RunBeforeProfileUpdate(ctx, hooks.ProfileUpdateData{
		UserID: userID.String(), FirstName: profileCmd.FirstName, LastName: profileCmd.LastName,
		Address: profileCmd.Address, ProfilePicture: profileCmd.ProfilePicture,
	})
	if err != nil {
		return nil, fmt.Errorf("users: beforeProfileUpdate hooks: %w", err)
	}

	attrMap := make(map[string]string, len(attrCmd.Ops))
	for _, op := range attrCmd.Ops {
		if !op.Remove {
			attrMap[op.Key] = op.Value
		}
	}
	transformedAttrs, err := s.hooks.RunBeforeCustomAttrUpdate(ctx, hooks.CustomAttrsData{UserID: userID.String(), Attrs: attrMap})
	if err != nil {
		return nil, fmt.Errorf("users: beforeCustomAttributesUpdate hooks: %w", err)
	}

	changes := expandAttrOps(attrCmd.Ops, transformedAttrs.Attrs)

	err = s.store.UpdateBatch(ctx, userID, repository.UserFieldUpdates{
		Email: transformedUser.Email,
		Phone: transformedUser.Phone,
	}, repository.ProfileFieldUpdates{
		FirstName:      transformedProfile.FirstName,
		LastName:       transformedProfile.LastName,
		Address:        transformedProfile.Address,
		ProfilePicture: transformedProfile.ProfilePicture,
	}, changes, time.Now())
	if err != nil {
		return nil, translateConstraint(err)
	}

	after, err := s.store.FindFullByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("users: reload after update: %w", err)
	}

	changeSet := Diff(before, after)
	if !changeSet.IsEmpty() {
		s.bus.Publish(ctx, events.Event{Type: events.TypeUserUpdated, Realm: s.realm, Payload: changeSet})
	}

	return &Result{User: after, Changes: changeSet}, nil
}

// expandAttrOps converts raw Set/Remove ops into repository.AttrChange
// entries. A ReplaceAll is expressed by the caller as a Remove for every
// stale key plus a Set for every new one; transformedAttrs (the hook
// chain's output) carries only Set targets, so removes come straight from
// the original ops.
func expandAttrOps(ops []AttrOp, transformed map[string]string) []repository.AttrChange {
	var changes []repository.AttrChange
	for _, op := range ops {
		if op.Remove {
			changes = append(changes, repository.AttrChange{Key: op.Key, Remove: true})
		}
	}
	for k, v := range transformed {
		changes = append(changes, repository.AttrChange{Key: k, Value: v})
	}
	return changes
}

// ReplaceAllAttrs builds the op list for a full attribute-map swap: removals
// for every key present in current but absent from next, sets for every key
// in next.
func ReplaceAllAttrs(current, next map[string]string) []AttrOp {
	ops := make([]AttrOp, 0, len(current)+len(next))
	for k := range current {
		if _, ok := next[k]; !ok {
			ops = append(ops, AttrOp{Key: k, Remove: true})
		}
	}
	for k, v := range next {
		ops = append(ops, AttrOp{Key: k, Value: v})
	}
	return ops
}

func translateConstraint(err error) error {
	switch {
	case errors.Is(err, repository.ErrEmailExists):
		return &ConstraintViolation{Field: "email", Reason: "already in use"}
	case errors.Is(err, repository.ErrPhoneExists):
		return &ConstraintViolation{Field: "phone", Reason: "already in use"}
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	default:
		return err
	}
}

// ConstraintViolation wraps a repository constraint failure with the field
// that caused it.
type ConstraintViolation struct {
	Field  string
	Reason string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("users: constraint violation on %s: %s", e.Field, e.Reason)
}

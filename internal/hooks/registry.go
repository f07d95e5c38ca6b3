package hooks

import (
	"context"

	"kodex/internal/repository"
)

// UserCreateData is threaded through beforeUserCreate.
type UserCreateData struct {
	Email    *string
	Phone    *string
	Password string
	Attrs    map[string]string
	Profile  *repository.Profile
}

// UserUpdateData is threaded through beforeUserUpdate.
type UserUpdateData struct {
	UserID string
	Email  repository.FieldUpdate[string]
	Phone  repository.FieldUpdate[string]
}

// ProfileUpdateData is threaded through beforeProfileUpdate.
type ProfileUpdateData struct {
	UserID         string
	FirstName      repository.FieldUpdate[string]
	LastName       repository.FieldUpdate[string]
	Address        repository.FieldUpdate[string]
	ProfilePicture repository.FieldUpdate[string]
}

// CustomAttrsData is threaded through beforeCustomAttributesUpdate.
type CustomAttrsData struct {
	UserID string
	Attrs  map[string]string
}

// Registry holds one realm's registered hook implementations, grouped by
// kind, plus the failure strategy applied to every chain it runs.
type Registry struct {
	Strategy Strategy

	BeforeUserCreate       []Hook[UserCreateData]
	BeforeUserUpdate       []Hook[UserUpdateData]
	BeforeProfileUpdate    []Hook[ProfileUpdateData]
	BeforeCustomAttrUpdate []Hook[CustomAttrsData]
	BeforeLogin            []Hook[string]
	AfterLoginFailure      []FanOutHook
}

// NewRegistry returns an empty registry using the given failure strategy.
func NewRegistry(strategy Strategy) *Registry {
	return &Registry{Strategy: strategy}
}

func (r *Registry) RunBeforeUserCreate(ctx context.Context, in UserCreateData) (UserCreateData, error) {
	return RunFold(ctx, r.Strategy, r.BeforeUserCreate, in)
}

func (r *Registry) RunBeforeUserUpdate(ctx context.Context, in UserUpdateData) (UserUpdateData, error) {
	return RunFold(ctx, r.Strategy, r.BeforeUserUpdate, in)
}

func (r *Registry) RunBeforeProfileUpdate(ctx context.Context, in ProfileUpdateData) (ProfileUpdateData, error) {
	return RunFold(ctx, r.Strategy, r.BeforeProfileUpdate, in)
}

func (r *Registry) RunBeforeCustomAttrUpdate(ctx context.Context, in CustomAttrsData) (CustomAttrsData, error) {
	return RunFold(ctx, r.Strategy, r.BeforeCustomAttrUpdate, in)
}

func (r *Registry) RunBeforeLogin(ctx context.Context, identifier string) (string, error) {
	return RunFold(ctx, r.Strategy, r.BeforeLogin, identifier)
}

func (r *Registry) RunAfterLoginFailure(ctx context.Context, identifier string) error {
	return RunFanOut(ctx, r.Strategy, r.AfterLoginFailure, identifier)
}

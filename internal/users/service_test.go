package users_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"kodex/internal/cryptoadapter"
	"kodex/internal/events"
	"kodex/internal/hooks"
	"kodex/internal/repository"
	"kodex/internal/repository/memory"
	"kodex/internal/users"
)

func newTestService(t *testing.T) *users.Service {
	t.Helper()
	store := memory.New()
	bus := events.New(1, 16)
	t.Cleanup(bus.Close)
	hasher := cryptoadapter.NewBcryptHasher(4)
	hookRegistry := hooks.NewRegistry(hooks.FailFast)
	return users.New("tenant-a", store, hasher, hookRegistry, bus)
}

func TestCreateUser_HashesPasswordAndSetsRealm(t *testing.T) {
	svc := newTestService(t)
	email := "alice@example.com"

	user, err := svc.CreateUser(context.Background(), users.CreateUserInput{Email: &email, Password: "correct horse battery staple"})
	require.NoError(t, err)
	require.NotEqual(t, "correct horse battery staple", user.PasswordHash)
	require.Equal(t, "tenant-a", user.Realm)
}

func TestCreateUser_RejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	email := "alice@example.com"

	_, err := svc.CreateUser(context.Background(), users.CreateUserInput{Email: &email, Password: "correct horse battery staple"})
	require.NoError(t, err)

	_, err = svc.CreateUser(context.Background(), users.CreateUserInput{Email: &email, Password: "a different password"})
	require.ErrorIs(t, err, repository.ErrEmailExists)
}

func TestDeleteUser(t *testing.T) {
	svc := newTestService(t)
	email := "alice@example.com"
	user, err := svc.CreateUser(context.Background(), users.CreateUserInput{Email: &email, Password: "correct horse battery staple"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(context.Background(), user.ID))

	_, err = svc.UpdateUserFields(context.Background(), users.UpdateUserFieldsCommand{UserID: user.ID, Email: repository.NoChange[string]()})
	require.ErrorIs(t, err, users.ErrNotFound)
}

func TestUpdateUserFields_SetAndClear(t *testing.T) {
	svc := newTestService(t)
	email := "alice@example.com"
	phone := "+15555550100"
	user, err := svc.CreateUser(context.Background(), users.CreateUserInput{Email: &email, Phone: &phone, Password: "correct horse battery staple"})
	require.NoError(t, err)

	newEmail := "alice2@example.com"
	result, err := svc.UpdateUserFields(context.Background(), users.UpdateUserFieldsCommand{
		UserID: user.ID,
		Email:  repository.SetValue(newEmail),
		Phone:  repository.ClearValue[string](),
	})
	require.NoError(t, err)
	require.NotNil(t, result.User.Email)
	require.Equal(t, newEmail, *result.User.Email)
	require.Nil(t, result.User.Phone)
}

func TestUpdateUserFields_DuplicateEmailIsConstraintViolation(t *testing.T) {
	svc := newTestService(t)
	emailA := "alice@example.com"
	emailB := "bob@example.com"
	_, err := svc.CreateUser(context.Background(), users.CreateUserInput{Email: &emailA, Password: "correct horse battery staple"})
	require.NoError(t, err)
	userB, err := svc.CreateUser(context.Background(), users.CreateUserInput{Email: &emailB, Password: "correct horse battery staple"})
	require.NoError(t, err)

	_, err = svc.UpdateUserFields(context.Background(), users.UpdateUserFieldsCommand{
		UserID: userB.ID,
		Email:  repository.SetValue(emailA),
	})
	var violation *users.ConstraintViolation
	require.True(t, errors.As(err, &violation))
	require.Equal(t, "email", violation.Field)
}

func TestUpdateAttributes_SetAndRemove(t *testing.T) {
	svc := newTestService(t)
	email := "alice@example.com"
	user, err := svc.CreateUser(context.Background(), users.CreateUserInput{
		Email: &email, Password: "correct horse battery staple",
		Attrs: map[string]string{"department": "engineering"},
	})
	require.NoError(t, err)

	result, err := svc.UpdateAttributes(context.Background(), users.UpdateAttributesCommand{
		UserID: user.ID,
		Ops: []users.AttrOp{
			{Key: "department", Remove: true},
			{Key: "team", Value: "platform"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "platform", result.User.CustomAttrs["team"])
	_, hasDept := result.User.CustomAttrs["department"]
	require.False(t, hasDept)
}

func TestReplaceAllAttrs_BuildsSetAndRemoveOps(t *testing.T) {
	current := map[string]string{"a": "1", "b": "2"}
	next := map[string]string{"b": "3", "c": "4"}

	ops := users.ReplaceAllAttrs(current, next)

	var removed, setB, setC bool
	for _, op := range ops {
		switch {
		case op.Remove && op.Key == "a":
			removed = true
		case !op.Remove && op.Key == "b" && op.Value == "3":
			setB = true
		case !op.Remove && op.Key == "c" && op.Value == "4":
			setC = true
		}
	}
	require.True(t, removed)
	require.True(t, setB)
	require.True(t, setC)
}

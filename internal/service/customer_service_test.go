package service

import (
	"context"
	"testing"

	"storefront-service/internal/loyalty"
	"storefront-service/internal/rbac"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	customer, err := f.customers.Register(ctx, RegisterInput{
		Email:    "  Jane@Example.com ",
		Password: "hunter2hunter2",
		Name:     "Jane",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", customer.Email)
	assert.Equal(t, rbac.RoleUser, customer.Role)
	assert.False(t, customer.IsGuest())
	require.NotNil(t, customer.Loyalty)
	assert.Equal(t, loyalty.LevelBronze, customer.Loyalty.Level)

	got, err := f.customers.Authenticate(ctx, "JANE@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, customer.ID, got.ID)

	_, err = f.customers.Authenticate(ctx, "jane@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.customers.Authenticate(ctx, "nobody@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRegisterValidationAndConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.customers.Register(ctx, RegisterInput{Email: "not-an-email", Password: "longenough"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.customers.Register(ctx, RegisterInput{Email: "short@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.customers.Register(ctx, RegisterInput{Email: "taken@example.com", Password: "longenough"})
	require.NoError(t, err)
	_, err = f.customers.Register(ctx, RegisterInput{Email: "TAKEN@example.com", Password: "otherpassword"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGuestCheckoutThenRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.seedCandy(t, "GUEST", 5)

	guest, err := f.customers.FindOrCreateGuest(ctx, "Guest@Example.com", "Guest")
	require.NoError(t, err)
	assert.True(t, guest.IsGuest())
	order := f.placeOrder(t, guest.ID, product, 1)

	again, err := f.customers.FindOrCreateGuest(ctx, "guest@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, guest.ID, again.ID)

	_, err = f.customers.Authenticate(ctx, "guest@example.com", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	registered, err := f.customers.Register(ctx, RegisterInput{Email: "guest@example.com", Password: "finallyreal", Name: "Real Name"})
	require.NoError(t, err)
	assert.Equal(t, guest.ID, registered.ID)
	assert.Equal(t, "Real Name", registered.Name)
	assert.False(t, registered.IsGuest())

	reloaded, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, reloaded.CustomerID)
	cached, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, cached.Customer)
	assert.False(t, cached.Customer.IsGuest())

	_, err = f.customers.FindOrCreateGuest(ctx, "GUEST@example.com", "Impostor")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.customers.FindOrCreateGuest(ctx, "bad", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seedCustomer(t, "plain@example.com")

	customer, err := f.customers.GetCustomer(ctx, seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, customer.Loyalty)
	assert.Equal(t, 0, customer.Loyalty.Points)
	assert.Equal(t, loyalty.LevelBronze, customer.Loyalty.Level)

	_, err = f.customers.GetCustomer(ctx, 404)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestListCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "alice@example.com")
	f.seedCustomer(t, "bob@example.com")
	f.seedCustomer(t, "alicia@example.com")

	page, err := f.customers.ListCustomers(ctx, "ALI", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	page, err = f.customers.ListCustomers(ctx, "", 2, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Customers, 1)
}

func TestChangeRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.seedCustomer(t, "root@example.com")
	staff := f.seedCustomer(t, "staff@example.com")
	shopper := f.seedCustomer(t, "shopper@example.com")

	promoted, err := f.customers.ChangeRole(ctx, root.ID, rbac.RoleSuperAdmin, staff.ID, rbac.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, promoted.Role)

	_, err = f.customers.ChangeRole(ctx, staff.ID, rbac.RoleAdmin, shopper.ID, rbac.RoleAdmin)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.customers.ChangeRole(ctx, shopper.ID, rbac.RoleUser, staff.ID, rbac.RoleUser)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.customers.ChangeRole(ctx, root.ID, rbac.RoleSuperAdmin, root.ID, rbac.RoleUser)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.customers.ChangeRole(ctx, root.ID, rbac.RoleSuperAdmin, shopper.ID, rbac.Role("owner"))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.customers.ChangeRole(ctx, root.ID, rbac.RoleSuperAdmin, 999, rbac.RoleAdmin)
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	demoted, err := f.customers.ChangeRole(ctx, root.ID, rbac.RoleSuperAdmin, staff.ID, rbac.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUser, demoted.Role)
}

func TestCurrentRoleFollowsRoleChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.seedCustomer(t, "root@example.com")
	staff := f.seedCustomer(t, "staff@example.com")

	_, err := f.customers.ChangeRole(ctx, root.ID, rbac.RoleSuperAdmin, staff.ID, rbac.RoleAdmin)
	require.NoError(t, err)
	role, found, err := f.customers.CurrentRole(ctx, staff.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rbac.RoleAdmin, role)

	_, err = f.customers.ChangeRole(ctx, root.ID, rbac.RoleSuperAdmin, staff.ID, rbac.RoleUser)
	require.NoError(t, err)
	role, _, err = f.customers.CurrentRole(ctx, staff.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUser, role)

	_, found, err = f.customers.CurrentRole(ctx, 999)
	require.NoError(t, err)
	assert.False(t, found)

	guest, err := f.customers.FindOrCreateGuest(ctx, "walkin@example.com", "Walk In")
	require.NoError(t, err)
	_, found, err = f.customers.CurrentRole(ctx, guest.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEnsureSuperAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.customers.EnsureSuperAdmin(ctx, "", ""))

	require.NoError(t, f.customers.EnsureSuperAdmin(ctx, "owner@example.com", "correct-horse"))
	owner, err := f.customers.Authenticate(ctx, "owner@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleSuperAdmin, owner.Role)

	require.NoError(t, f.customers.EnsureSuperAdmin(ctx, "owner@example.com", "ignored-now"))

	existing, err := f.customers.Register(ctx, RegisterInput{Email: "promote@example.com", Password: "bootstrap-secret"})
	require.NoError(t, err)
	require.NoError(t, f.customers.EnsureSuperAdmin(ctx, "promote@example.com", "bootstrap-secret"))
	customer, err := f.customers.GetCustomer(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleSuperAdmin, customer.Role)
}

func TestEnsureSuperAdminRefusesForeignAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	squatter, err := f.customers.Register(ctx, RegisterInput{Email: "owner@example.com", Password: "got-here-first"})
	require.NoError(t, err)
	err = f.customers.EnsureSuperAdmin(ctx, "owner@example.com", "configured-secret")
	require.ErrorIs(t, err, ErrConflict)

	guest, err := f.customers.FindOrCreateGuest(ctx, "ops@example.com", "")
	require.NoError(t, err)
	err = f.customers.EnsureSuperAdmin(ctx, "ops@example.com", "configured-secret")
	require.ErrorIs(t, err, ErrConflict)

	for _, id := range []uint{squatter.ID, guest.ID} {
		customer, err := f.customers.GetCustomer(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, rbac.RoleUser, customer.Role)
	}
}

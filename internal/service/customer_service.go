package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"storefront-service/internal/loyalty"
	"storefront-service/internal/model"
	"storefront-service/internal/rbac"
	"storefront-service/internal/repository"
	"storefront-service/pkg/cache"
	"storefront-service/prometheus"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// RegisterInput carries a new account
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// CustomerPage is one page of a customer listing
type CustomerPage struct {
	Customers []model.Customer `json:"customers"`
	Total     int64            `json:"total"`
	Page      int              `json:"page"`
	PageSize  int              `json:"pageSize"`
}

// CustomerService manages accounts, credentials and roles
type CustomerService struct {
	store      *repository.Store
	cache      *cache.Cache
	log        *zap.Logger
	bcryptCost int
}

// NewCustomerService creates a CustomerService
func NewCustomerService(store *repository.Store, c *cache.Cache, log *zap.Logger) *CustomerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CustomerService{store: store, cache: c, log: log, bcryptCost: bcrypt.DefaultCost}
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == strings.TrimSpace(email)
}

// Register creates an account. A guest customer with the same email is
// upgraded in place so earlier guest orders stay attached.
func (s *CustomerService) Register(ctx context.Context, in RegisterInput) (customer *model.Customer, err error) {
	defer func() { prometheus.RecordAuthAttempt("register", authReason(err)) }()

	email := repository.NormalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, validationError("email is invalid")
	}
	if len(in.Password) < minPasswordLength {
		return nil, validationError("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var id uint
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		existing, err := tx.Customers.GetByEmail(ctx, email)
		switch {
		case err == nil && !existing.IsGuest():
			return fmt.Errorf("%w: email already registered", ErrConflict)
		case err == nil:
			id = existing.ID
			if err := tx.Customers.SetPassword(ctx, existing.ID, string(hash), strings.TrimSpace(in.Name)); err != nil {
				return err
			}
		case errors.Is(err, repository.ErrNotFound):
			passwordHash := string(hash)
			created := model.Customer{
				Email:        email,
				PasswordHash: &passwordHash,
				Name:         strings.TrimSpace(in.Name),
				Phone:        strings.TrimSpace(in.Phone),
				Role:         rbac.RoleUser,
			}
			if err := tx.Customers.Create(ctx, &created); err != nil {
				return conflictOr(err, "customer")
			}
			id = created.ID
		default:
			return err
		}
		_, err = tx.Customers.LoyaltyFor(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Customer registered", zap.Uint("customer_id", id), zap.String("email", email))
	s.cache.Invalidate(ctx, customersCachePrefix)
	return s.store.Customers.Get(ctx, id)
}

// Authenticate checks an email and password pair
func (s *CustomerService) Authenticate(ctx context.Context, email, password string) (customer *model.Customer, err error) {
	reason := ""
	defer func() {
		if err != nil && reason == "" {
			reason = "internal"
		}
		prometheus.RecordAuthAttempt("login", reason)
	}()

	customer, err = s.store.Customers.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		reason = "user_not_found"
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if customer.IsGuest() || customer.PasswordHash == nil {
		reason = "guest_account"
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
	}
	if bcrypt.CompareHashAndPassword([]byte(*customer.PasswordHash), []byte(password)) != nil {
		reason = "invalid_password"
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
	}
	return customer, nil
}

// FindOrCreateGuest returns the guest customer for email, creating a
// passwordless one when the email is unknown. An email that belongs to a
// registered account is refused: its owner has to sign in to order.
func (s *CustomerService) FindOrCreateGuest(ctx context.Context, email, name string) (*model.Customer, error) {
	email = repository.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, validationError("email is invalid")
	}

	existing, err := s.store.Customers.GetByEmail(ctx, email)
	if err == nil {
		return guestOnly(existing)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	guest := model.Customer{Email: email, Name: strings.TrimSpace(name), Role: rbac.RoleUser, Guest: true}
	if err := s.store.Customers.Create(ctx, &guest); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		// created concurrently by another checkout or a registration
		existing, err := s.store.Customers.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return guestOnly(existing)
	}
	s.log.Info("Guest customer created", zap.Uint("customer_id", guest.ID))
	s.cache.Invalidate(ctx, customersCachePrefix)
	return &guest, nil
}

func guestOnly(customer *model.Customer) (*model.Customer, error) {
	if !customer.IsGuest() {
		return nil, fmt.Errorf("%w: sign in to order with this email", ErrUnauthenticated)
	}
	return customer, nil
}

// GetCustomer returns a customer with the loyalty record
func (s *CustomerService) GetCustomer(ctx context.Context, id uint) (*model.Customer, error) {
	customer, err := cache.Fetch(ctx, s.cache, customerCacheKey(id), func(ctx context.Context) (*model.Customer, error) {
		return s.store.Customers.Get(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrCustomerNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if customer.Loyalty == nil {
		customer.Loyalty = &model.LoyaltyProgram{CustomerID: customer.ID, Level: loyalty.LevelBronze}
	}
	return customer, nil
}

// CurrentRole reports the stored role of a session's customer. Role changes
// drop the cached customer, so the answer reflects them immediately.
func (s *CustomerService) CurrentRole(ctx context.Context, id uint) (rbac.Role, bool, error) {
	customer, err := s.GetCustomer(ctx, id)
	if errors.Is(err, ErrCustomerNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if customer.IsGuest() {
		return "", false, nil
	}
	return customer.Role, true, nil
}

// ListCustomers returns one page of customers matching search
func (s *CustomerService) ListCustomers(ctx context.Context, search string, page, pageSize int) (*CustomerPage, error) {
	page, pageSize = normalizePage(page, pageSize)
	customers, total, err := s.store.Customers.List(ctx, search, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &CustomerPage{Customers: customers, Total: total, Page: page, PageSize: pageSize}, nil
}

// ChangeRole gives target a new role on behalf of actor
func (s *CustomerService) ChangeRole(ctx context.Context, actorID uint, actorRole rbac.Role, targetID uint, role rbac.Role) (*model.Customer, error) {
	if !role.Valid() {
		return nil, validationError("unknown role %q", role)
	}
	if !actorRole.CanAssign(role) {
		return nil, fmt.Errorf("%w: %s cannot assign %s", ErrUnauthorized, actorRole, role)
	}
	if actorID == targetID {
		return nil, validationError("cannot change your own role")
	}

	err := s.store.Customers.UpdateRole(ctx, targetID, role)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrCustomerNotFound, targetID)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("Customer role changed",
		zap.Uint("actor_id", actorID),
		zap.Uint("customer_id", targetID),
		zap.String("role", role.String()))
	s.cache.Invalidate(ctx, customersCachePrefix)
	return s.GetCustomer(ctx, targetID)
}

// EnsureSuperAdmin makes sure the configured bootstrap account exists with
// the super admin role. An existing account is promoted only when the
// configured password matches it.
func (s *CustomerService) EnsureSuperAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	existing, err := s.store.Customers.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if _, err := s.Register(ctx, RegisterInput{Email: email, Password: password, Name: "Administrator"}); err != nil {
			return fmt.Errorf("create super admin: %w", err)
		}
		existing, err = s.store.Customers.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if existing.Role == rbac.RoleSuperAdmin {
		return nil
	}
	// an account registered under the bootstrap email is only promoted when
	// its owner also holds the configured password
	if existing.IsGuest() || existing.PasswordHash == nil ||
		bcrypt.CompareHashAndPassword([]byte(*existing.PasswordHash), []byte(password)) != nil {
		return fmt.Errorf("%w: account %s exists and does not match the configured super admin password",
			ErrConflict, existing.Email)
	}
	if err := s.store.Customers.UpdateRole(ctx, existing.ID, rbac.RoleSuperAdmin); err != nil {
		return err
	}
	s.log.Info("Super admin ensured", zap.Uint("customer_id", existing.ID))
	s.cache.Invalidate(ctx, customersCachePrefix)
	return nil
}

func authReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrConflict):
		return "email_already_exists"
	default:
		return "internal"
	}
}

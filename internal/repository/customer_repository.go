package repository

import (
	"context"
	"strings"
	"time"

	"storefront-service/internal/loyalty"
	"storefront-service/internal/model"
	"storefront-service/internal/rbac"
	"storefront-service/prometheus"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerRepository reads and writes customers and their loyalty records
type CustomerRepository struct {
	db *gorm.DB
}

// NormalizeEmail is the form emails are stored and looked up in
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *CustomerRepository) Create(ctx context.Context, customer *model.Customer) error {
	defer prometheus.TrackDBOperation("customer_create")(time.Now())
	customer.Email = NormalizeEmail(customer.Email)
	return translate(r.db.WithContext(ctx).Create(customer).Error)
}

// Get returns a customer with the loyalty record preloaded
func (r *CustomerRepository) Get(ctx context.Context, id uint) (*model.Customer, error) {
	defer prometheus.TrackDBOperation("customer_get")(time.Now())
	var customer model.Customer
	if err := r.db.WithContext(ctx).Preload("Loyalty").First(&customer, id).Error; err != nil {
		return nil, translate(err)
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByEmail(ctx context.Context, email string) (*model.Customer, error) {
	defer prometheus.TrackDBOperation("customer_get")(time.Now())
	var customer model.Customer
	err := r.db.WithContext(ctx).Preload("Loyalty").Where("email = ?", NormalizeEmail(email)).First(&customer).Error
	if err != nil {
		return nil, translate(err)
	}
	return &customer, nil
}

// List returns one page of customers matching search on email or name
func (r *CustomerRepository) List(ctx context.Context, search string, limit, offset int) ([]model.Customer, int64, error) {
	defer prometheus.TrackDBOperation("customer_list")(time.Now())
	filtered := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&model.Customer{})
		if search != "" {
			pattern := likePattern(search)
			query = query.Where("(LOWER(email) LIKE ? ESCAPE '\\' OR LOWER(name) LIKE ? ESCAPE '\\')", pattern, pattern)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var customers []model.Customer
	page := filtered().Preload("Loyalty").Order("id DESC")
	if limit > 0 {
		page = page.Limit(limit)
	}
	if offset > 0 {
		page = page.Offset(offset)
	}
	if err := page.Find(&customers).Error; err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

// UpdateRole changes the role of a customer
func (r *CustomerRepository) UpdateRole(ctx context.Context, id uint, role rbac.Role) error {
	defer prometheus.TrackDBOperation("customer_update")(time.Now())
	result := r.db.WithContext(ctx).Model(&model.Customer{}).Where("id = ?", id).Update("role", role)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPassword attaches a password to a customer and clears the guest flag,
// used when a guest registers
func (r *CustomerRepository) SetPassword(ctx context.Context, id uint, hash string, name string) error {
	defer prometheus.TrackDBOperation("customer_update")(time.Now())
	updates := map[string]interface{}{"password_hash": hash, "guest": false}
	if name != "" {
		updates["name"] = name
	}
	result := r.db.WithContext(ctx).Model(&model.Customer{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LoyaltyFor loads the loyalty record of a customer, creating an empty
// bronze record when none exists yet
func (r *CustomerRepository) LoyaltyFor(ctx context.Context, customerID uint) (*model.LoyaltyProgram, error) {
	defer prometheus.TrackDBOperation("loyalty_get")(time.Now())
	program := model.LoyaltyProgram{
		CustomerID: customerID,
		Points:     0,
		Level:      loyalty.LevelBronze,
	}
	err := r.db.WithContext(ctx).
		Where(model.LoyaltyProgram{CustomerID: customerID}).
		Attrs(program).
		FirstOrCreate(&program).Error
	if err != nil {
		return nil, translate(err)
	}
	return &program, nil
}

// AccrueLoyalty adds points to the loyalty record of a customer, creating
// the record when missing, and stores the level levelFor gives the new
// total. The increment is one UPDATE that holds the row lock until the
// surrounding transaction ends, so concurrent awards add up instead of
// overwriting each other.
func (r *CustomerRepository) AccrueLoyalty(ctx context.Context, customerID uint, points int, levelFor func(int) loyalty.Level) (*model.LoyaltyProgram, error) {
	defer prometheus.TrackDBOperation("loyalty_update")(time.Now())
	db := r.db.WithContext(ctx)

	empty := model.LoyaltyProgram{CustomerID: customerID, Level: loyalty.LevelBronze}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoNothing: true,
	}).Create(&empty).Error
	if err != nil {
		return nil, translate(err)
	}

	err = db.Model(&model.LoyaltyProgram{}).
		Where("customer_id = ?", customerID).
		Updates(map[string]interface{}{
			"points":     gorm.Expr("points + ?", points),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return nil, err
	}

	var program model.LoyaltyProgram
	if err := db.Where("customer_id = ?", customerID).First(&program).Error; err != nil {
		return nil, translate(err)
	}
	if level := levelFor(program.Points); level != program.Level {
		if err := db.Model(&program).Update("level", level).Error; err != nil {
			return nil, err
		}
		program.Level = level
	}
	return &program, nil
}

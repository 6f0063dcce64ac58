package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"github.com/nordkyn/authcore/internal/models"
)

// Resolver maps email addresses to durable account identities
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a new account resolver
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// FindOrCreate returns the account for the given email, creating one on
// first contact. Lookup is by exact, case-preserved email. A duplicate
// key error on create means another request created the account between
// our lookup and insert, so it is retried as a lookup.
func (r *Resolver) FindOrCreate(ctx context.Context, email string) (*models.Account, error) {
	var acct models.Account
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&acct).Error
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	acct = models.Account{
		Email:       email,
		DisplayName: displayNameFromEmail(email),
		Active:      true,
	}
	err = r.db.WithContext(ctx).Create(&acct).Error
	if err == nil {
		log.Printf("Account: created account %d for new email", acct.ID)
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// Someone else just created it.
	var existing models.Account
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to re-read account after duplicate key: %w", err)
	}
	return &existing, nil
}

// GetByID retrieves an account by its identifier
func (r *Resolver) GetByID(ctx context.Context, id int) (*models.Account, error) {
	var acct models.Account
	if err := r.db.WithContext(ctx).First(&acct, id).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// Update persists the given account
func (r *Resolver) Update(ctx context.Context, acct *models.Account) error {
	return r.db.WithContext(ctx).Save(acct).Error
}

func displayNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

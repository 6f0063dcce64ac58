package account

import (
	"context"
	"fmt"

	"github.com/nordkyn/authcore/internal/models"
	"github.com/nordkyn/authcore/internal/oauth"
)

// ProfileMapper maps a remote identity-provider profile onto local
// account fields. Callers may supply their own to control which
// provider claims are copied; DefaultMapper is used when nil.
type ProfileMapper interface {
	Apply(acct *models.Account, profile *oauth.UserInfo) bool
}

// DefaultMapper copies name, phone number and the email-verified flag
// from the provider profile. The primary email is never overwritten;
// it is the account's lookup key.
type DefaultMapper struct{}

// Apply maps profile fields onto the account and reports whether
// anything changed.
func (DefaultMapper) Apply(acct *models.Account, profile *oauth.UserInfo) bool {
	changed := false

	if profile.Name != "" && acct.DisplayName != profile.Name {
		acct.DisplayName = profile.Name
		changed = true
	}
	if profile.PhoneNumber != "" {
		if acct.PhoneNumber == nil || *acct.PhoneNumber != profile.PhoneNumber {
			phone := profile.PhoneNumber
			acct.PhoneNumber = &phone
			changed = true
		}
	}
	if profile.EmailVerified && !acct.EmailVerified {
		acct.EmailVerified = true
		changed = true
	}

	return changed
}

// UpdateFromProfile applies the mapper to the account and persists it
// when any field changed.
func (r *Resolver) UpdateFromProfile(ctx context.Context, acct *models.Account, profile *oauth.UserInfo, mapper ProfileMapper) error {
	if mapper == nil {
		mapper = DefaultMapper{}
	}
	if !mapper.Apply(acct, profile) {
		return nil
	}
	if err := r.Update(ctx, acct); err != nil {
		return fmt.Errorf("failed to update account from profile: %w", err)
	}
	return nil
}

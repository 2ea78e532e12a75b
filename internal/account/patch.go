package account

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Patchable field names accepted by ParsePatch.
const (
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldPhoneNumber = "phone_number"
	FieldAddress     = "address"
	FieldEnabled     = "enabled"
)

// Patch is a validated partial update. Nil fields are left untouched. The
// wallet is not reachable from a patch.
type Patch struct {
	FirstName   *string
	LastName    *string
	Email       *string
	Password    *string
	PhoneNumber *string
	Address     *string
	Enabled     *bool
}

// ParsePatch checks every key in fields against the patchable set and the
// value against the field's type. Any unknown key, wrong type or empty string
// rejects the whole patch with ErrBadField.
func ParsePatch(fields map[string]any) (Patch, error) {
	var p Patch
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := fields[key]
		switch key {
		case FieldFirstName:
			s, err := patchString(key, value)
			if err != nil {
				return Patch{}, err
			}
			p.FirstName = s
		case FieldLastName:
			s, err := patchString(key, value)
			if err != nil {
				return Patch{}, err
			}
			p.LastName = s
		case FieldEmail:
			s, err := patchString(key, value)
			if err != nil {
				return Patch{}, err
			}
			p.Email = s
		case FieldPassword:
			s, err := patchString(key, value)
			if err != nil {
				return Patch{}, err
			}
			p.Password = s
		case FieldPhoneNumber:
			s, err := patchString(key, value)
			if err != nil {
				return Patch{}, err
			}
			p.PhoneNumber = s
		case FieldAddress:
			s, err := patchString(key, value)
			if err != nil {
				return Patch{}, err
			}
			p.Address = s
		case FieldEnabled:
			b, ok := value.(bool)
			if !ok {
				return Patch{}, fmt.Errorf("%w: %s must be a boolean", ErrBadField, key)
			}
			p.Enabled = &b
		default:
			return Patch{}, fmt.Errorf("%w: %q is not updatable", ErrBadField, key)
		}
	}
	return p, nil
}

func patchString(key string, value any) (*string, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrBadField, key)
	}
	if s == "" {
		return nil, fmt.Errorf("%w: %s must not be empty", ErrBadField, key)
	}
	return &s, nil
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil &&
		p.Password == nil && p.PhoneNumber == nil && p.Address == nil && p.Enabled == nil
}

// Apply writes the set fields onto a and bumps ModifiedAt.
func (p Patch) Apply(a *Account, now time.Time) {
	if p.FirstName != nil {
		a.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		a.LastName = *p.LastName
	}
	if p.Email != nil {
		a.Email = *p.Email
	}
	if p.Password != nil {
		a.Password = *p.Password
	}
	if p.PhoneNumber != nil {
		a.PhoneNumber = *p.PhoneNumber
	}
	if p.Address != nil {
		a.Address = *p.Address
	}
	if p.Enabled != nil {
		a.Enabled = *p.Enabled
	}
	a.ModifiedAt = now
}

// Overwrite is the administrative full-record replacement. It names every
// field an administrator may set; the account number and ids are not among
// them.
type Overwrite struct {
	FirstName   string          `json:"first_name" validate:"required"`
	LastName    string          `json:"last_name" validate:"required"`
	Email       string          `json:"email" validate:"required"`
	Password    string          `json:"password" validate:"required"`
	PhoneNumber string          `json:"phone_number" validate:"required"`
	Address     string          `json:"address" validate:"required"`
	Enabled     bool            `json:"enabled"`
	Wallet      WalletOverwrite `json:"wallet"`
}

// WalletOverwrite holds the wallet columns an overwrite may replace.
type WalletOverwrite struct {
	BVN     string          `json:"bvn" validate:"required"`
	PIN     string          `json:"pin" validate:"required"`
	Balance decimal.Decimal `json:"balance"`
}

// Apply copies the overwritable fields onto a and its wallet and bumps both
// modification times.
func (o Overwrite) Apply(a *Account, now time.Time) {
	a.FirstName = o.FirstName
	a.LastName = o.LastName
	a.Email = o.Email
	a.Password = o.Password
	a.PhoneNumber = o.PhoneNumber
	a.Address = o.Address
	a.Enabled = o.Enabled
	a.ModifiedAt = now

	a.Wallet.BVN = o.Wallet.BVN
	a.Wallet.PIN = o.Wallet.PIN
	a.Wallet.Balance = o.Wallet.Balance
	a.Wallet.ModifiedAt = now
}

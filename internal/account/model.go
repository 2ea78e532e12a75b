package account

import (
	"time"

	"github.com/congo-pay/accounts/internal/wallet"
)

// Account is a registered customer profile. It owns exactly one wallet from
// creation until deletion; the link is never reassigned. Password is stored
// exactly as supplied and is never part of a view.
type Account struct {
	ID          int64
	FirstName   string
	LastName    string
	Email       string
	Password    string
	PhoneNumber string
	Address     string
	Enabled     bool
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Wallet      wallet.Wallet
}

// RegisterRequest is the registration payload. Every field must be present;
// no format rules apply beyond that.
type RegisterRequest struct {
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Email       string `json:"email" validate:"required"`
	Password    string `json:"password" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`
	Address     string `json:"address" validate:"required"`
	BVN         string `json:"bvn" validate:"required"`
	PIN         string `json:"pin" validate:"required"`
}

// Profile is the by-id view.
type Profile struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	PhoneNumber   string `json:"phone_number"`
	Address       string `json:"address"`
	AccountNumber string `json:"account_number"`
	BVN           string `json:"bvn"`
}

// Summary is the by-account-number view. It carries the id so callers can
// correlate a number with the account.
type Summary struct {
	ID            int64     `json:"id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	PhoneNumber   string    `json:"phone_number"`
	Address       string    `json:"address"`
	Enabled       bool      `json:"enabled"`
	AccountNumber string    `json:"account_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// Profile projects the account onto its by-id view.
func (a Account) Profile() Profile {
	return Profile{
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Email:         a.Email,
		PhoneNumber:   a.PhoneNumber,
		Address:       a.Address,
		AccountNumber: a.Wallet.AccountNumber,
		BVN:           a.Wallet.BVN,
	}
}

// Summary projects the account onto its by-number view.
func (a Account) Summary() Summary {
	return Summary{
		ID:            a.ID,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Email:         a.Email,
		PhoneNumber:   a.PhoneNumber,
		Address:       a.Address,
		Enabled:       a.Enabled,
		AccountNumber: a.Wallet.AccountNumber,
		CreatedAt:     a.CreatedAt,
	}
}

package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceScale is the number of fractional digits a balance is stored with.
// The column is NUMERIC(20, 2).
const BalanceScale = 2

// maxBalance is the first magnitude the balance column cannot hold.
var maxBalance = decimal.New(1, 20-BalanceScale)

var (
	ErrNegativeBalance = errors.New("balance must not be negative")
	ErrBalanceScale    = errors.New("balance has more than 2 decimal places")
	ErrBalanceOverflow = errors.New("balance exceeds the storable range")
)

// CheckBalance reports whether d can be stored exactly.
func CheckBalance(d decimal.Decimal) error {
	switch {
	case d.IsNegative():
		return ErrNegativeBalance
	case !d.Truncate(BalanceScale).Equal(d):
		return ErrBalanceScale
	case d.GreaterThanOrEqual(maxBalance):
		return ErrBalanceOverflow
	}
	return nil
}

// Wallet is the financial identity owned by exactly one account. The account
// number is assigned once at creation and never changes afterwards.
type Wallet struct {
	ID            int64
	AccountNumber string
	BVN           string
	PIN           string
	Balance       decimal.Decimal
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// New builds an unsaved wallet with a zero balance.
func New(accountNumber, bvn, pin string, now time.Time) Wallet {
	return Wallet{
		AccountNumber: accountNumber,
		BVN:           bvn,
		PIN:           pin,
		Balance:       decimal.Zero,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
}

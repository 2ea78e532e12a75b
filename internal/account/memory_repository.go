package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/congo-pay/accounts/internal/notification"
	"github.com/congo-pay/accounts/internal/wallet"
)

type memoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]Account
	emails   map[string]int64
	wallets  wallet.Repository
	outbox   notification.Outbox
}

// NewMemoryRepository builds an in-memory account store over the given
// wallet store and outbox. It enforces the same unique email constraint as
// the Postgres schema.
func NewMemoryRepository(wallets wallet.Repository, outbox notification.Outbox) Repository {
	return &memoryRepository{
		accounts: make(map[int64]Account),
		emails:   make(map[string]int64),
		wallets:  wallets,
		outbox:   outbox,
	}
}

func (r *memoryRepository) Create(ctx context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.emails[account.Email]; taken {
		return ErrEmailTaken
	}
	if err := r.wallets.Create(ctx, &account.Wallet); err != nil {
		return err
	}
	r.nextID++
	account.ID = r.nextID

	msg, err := notification.NewAccountCreated(account.ID, account.Email, account.FirstName)
	if err == nil {
		err = r.outbox.Enqueue(ctx, msg)
	}
	if err != nil {
		// Undo the wallet so the three writes stay all-or-nothing.
		_ = r.wallets.Delete(ctx, account.Wallet.ID)
		account.ID = 0
		return fmt.Errorf("enqueue account created: %w", err)
	}

	r.accounts[account.ID] = *account
	r.emails[account.Email] = account.ID
	return nil
}

func (r *memoryRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	r.mu.RLock()
	account, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	return r.withWallet(ctx, account)
}

func (r *memoryRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.emails[email]
	return ok, nil
}

func (r *memoryRepository) FindByWalletID(ctx context.Context, walletID int64) (Account, error) {
	r.mu.RLock()
	var (
		found   Account
		matched bool
	)
	for _, account := range r.accounts {
		if account.Wallet.ID == walletID {
			found, matched = account, true
			break
		}
	}
	r.mu.RUnlock()
	if !matched {
		return Account{}, ErrNotFound
	}
	return r.withWallet(ctx, found)
}

func (r *memoryRepository) Update(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(account)
}

func (r *memoryRepository) UpdateWithWallet(ctx context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.accounts[account.ID]
	if !ok {
		return ErrNotFound
	}
	if owner, taken := r.emails[account.Email]; taken && owner != account.ID {
		return ErrEmailTaken
	}
	account.Wallet.ID = current.Wallet.ID
	if err := r.wallets.Update(ctx, account.Wallet); err != nil {
		return err
	}
	return r.updateLocked(account)
}

func (r *memoryRepository) updateLocked(account Account) error {
	current, ok := r.accounts[account.ID]
	if !ok {
		return ErrNotFound
	}
	if owner, taken := r.emails[account.Email]; taken && owner != account.ID {
		return ErrEmailTaken
	}
	delete(r.emails, current.Email)
	current.FirstName = account.FirstName
	current.LastName = account.LastName
	current.Email = account.Email
	current.Password = account.Password
	current.PhoneNumber = account.PhoneNumber
	current.Address = account.Address
	current.Enabled = account.Enabled
	current.ModifiedAt = account.ModifiedAt
	r.accounts[account.ID] = current
	r.emails[current.Email] = current.ID
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.accounts[account.ID]
	if !ok {
		return ErrNotFound
	}
	delete(r.accounts, current.ID)
	delete(r.emails, current.Email)
	if err := r.wallets.Delete(ctx, current.Wallet.ID); err != nil && !errors.Is(err, wallet.ErrNotFound) {
		return err
	}
	return nil
}

// withWallet refreshes the wallet snapshot from the wallet store so account
// reads see wallet updates.
func (r *memoryRepository) withWallet(ctx context.Context, account Account) (Account, error) {
	w, err := r.wallets.Get(ctx, account.Wallet.ID)
	if err != nil {
		return Account{}, fmt.Errorf("load wallet for account %d: %w", account.ID, err)
	}
	account.Wallet = w
	return account, nil
}

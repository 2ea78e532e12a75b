package wallet

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	byID     map[int64]Wallet
	byNumber map[string]int64
}

// NewMemoryRepository constructs an in-memory wallet store that enforces the
// same unique account number constraint as the Postgres schema.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:     make(map[int64]Wallet),
		byNumber: make(map[string]int64),
	}
}

func (r *memoryRepository) Create(_ context.Context, wallet *Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byNumber[wallet.AccountNumber]; taken {
		return ErrNumberTaken
	}
	r.nextID++
	wallet.ID = r.nextID
	r.byID[wallet.ID] = *wallet
	r.byNumber[wallet.AccountNumber] = wallet.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id int64) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.byID[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return wallet, nil
}

func (r *memoryRepository) FindByAccountNumber(_ context.Context, number string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNumber[number]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) Update(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[wallet.ID]
	if !ok {
		return ErrNotFound
	}
	current.BVN = wallet.BVN
	current.PIN = wallet.PIN
	current.Balance = wallet.Balance
	current.ModifiedAt = wallet.ModifiedAt
	r.byID[wallet.ID] = current
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wallet, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byNumber, wallet.AccountNumber)
	return nil
}

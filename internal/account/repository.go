package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/accounts/internal/notification"
	"github.com/congo-pay/accounts/internal/wallet"
)

const emailConstraint = "accounts_email_key"

// Repository persists accounts together with their wallets.
type Repository interface {
	// Create inserts the wallet, the account and the account.created outbox
	// event as one unit, and assigns both ids.
	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id int64) (Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByWalletID(ctx context.Context, walletID int64) (Account, error)
	// Update writes the account row only.
	Update(ctx context.Context, account Account) error
	// UpdateWithWallet writes the wallet, then the account, as one unit.
	UpdateWithWallet(ctx context.Context, account Account) error
	// Delete removes the account and its wallet.
	Delete(ctx context.Context, account Account) error
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectAccount = `SELECT a.id, a.first_name, a.last_name, a.email, a.password, a.phone_number, a.address,
        a.enabled, a.created_at, a.modified_at,
        w.id, w.account_number, w.bvn, w.pin, w.balance::text, w.created_at, w.modified_at
    FROM accounts a JOIN wallets w ON w.id = a.wallet_id`

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, account *Account) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := wallet.Insert(ctx, tx, &account.Wallet); err != nil {
		return storeError(err)
	}
	err = tx.QueryRow(ctx, `INSERT INTO accounts (first_name, last_name, email, password, phone_number, address, enabled, wallet_id, created_at, modified_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		account.FirstName, account.LastName, account.Email, account.Password, account.PhoneNumber, account.Address,
		account.Enabled, account.Wallet.ID, account.CreatedAt.UTC(), account.ModifiedAt.UTC()).Scan(&account.ID)
	if err != nil {
		return storeError(err)
	}

	msg, err := notification.NewAccountCreated(account.ID, account.Email, account.FirstName)
	if err != nil {
		return err
	}
	if err := notification.EnqueueTx(ctx, tx, msg); err != nil {
		return storeError(err)
	}
	return storeError(tx.Commit(ctx))
}

// FindByID implements Repository.
func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE a.id = $1`, id))
}

// ExistsByEmail implements Repository.
func (r *PostgresRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&exists); err != nil {
		return false, storeError(err)
	}
	return exists, nil
}

// FindByWalletID implements Repository.
func (r *PostgresRepository) FindByWalletID(ctx context.Context, walletID int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, selectAccount+` WHERE a.wallet_id = $1`, walletID))
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, account Account) error {
	return storeError(updateRow(ctx, r.db, account))
}

// UpdateWithWallet implements Repository.
func (r *PostgresRepository) UpdateWithWallet(ctx context.Context, account Account) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := wallet.UpdateRow(ctx, tx, account.Wallet); err != nil {
		return storeError(err)
	}
	if err := updateRow(ctx, tx, account); err != nil {
		return storeError(err)
	}
	return storeError(tx.Commit(ctx))
}

// Delete implements Repository.
func (r *PostgresRepository) Delete(ctx context.Context, account Account) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	cmd, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, account.ID)
	if err != nil {
		return storeError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := wallet.DeleteRow(ctx, tx, account.Wallet.ID); err != nil && !errors.Is(err, wallet.ErrNotFound) {
		return storeError(err)
	}
	return storeError(tx.Commit(ctx))
}

func updateRow(ctx context.Context, db wallet.DBTX, account Account) error {
	cmd, err := db.Exec(ctx, `UPDATE accounts SET first_name = $1, last_name = $2, email = $3, password = $4,
        phone_number = $5, address = $6, enabled = $7, modified_at = $8 WHERE id = $9`,
		account.FirstName, account.LastName, account.Email, account.Password, account.PhoneNumber,
		account.Address, account.Enabled, account.ModifiedAt.UTC(), account.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a       Account
		balance string
	)
	err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.Password, &a.PhoneNumber, &a.Address,
		&a.Enabled, &a.CreatedAt, &a.ModifiedAt,
		&a.Wallet.ID, &a.Wallet.AccountNumber, &a.Wallet.BVN, &a.Wallet.PIN, &balance, &a.Wallet.CreatedAt, &a.Wallet.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, storeError(err)
	}
	if a.Wallet.Balance, err = wallet.ParseBalance(balance); err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.ModifiedAt = a.ModifiedAt.UTC()
	a.Wallet.CreatedAt = a.Wallet.CreatedAt.UTC()
	a.Wallet.ModifiedAt = a.Wallet.ModifiedAt.UTC()
	return a, nil
}

// storeError maps driver errors onto the package sentinels: the email unique
// violation becomes ErrEmailTaken and connection or timeout failures become
// ErrUnavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == emailConstraint {
		return ErrEmailTaken
	}
	if wallet.Unreachable(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

var _ Repository = (*PostgresRepository)(nil)

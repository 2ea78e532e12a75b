package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/congo-pay/accounts/internal/logging"
	"github.com/congo-pay/accounts/internal/wallet"
)

const (
	defaultStoreTimeout = 5 * time.Second
	// maxCreateAttempts bounds re-generation after an account number collision.
	maxCreateAttempts = 3
	profileKeyPrefix  = "account:profile:"
	// deletedVersion outranks every ModifiedAt version.
	deletedVersion int64 = math.MaxInt64
)

// NumberGenerator produces candidate external account numbers.
type NumberGenerator interface {
	Generate() (string, error)
}

// ProfileCache is the read-through cache for by-id profile views. Failures
// are the cache's own concern and never reach the caller.
//
// Entries carry a version and Set drops a value older than the one stored,
// so a fill racing a mutation cannot bring back the earlier state. A nil
// value is a tombstone: Get reports it as found with a nil profile.
type ProfileCache interface {
	Get(ctx context.Context, key string) (*Profile, bool)
	Set(ctx context.Context, key string, value *Profile, version int64)
}

// Service orchestrates account creation, updates, lookups and deletion.
type Service struct {
	repo         Repository
	wallets      wallet.Repository
	numbers      NumberGenerator
	cache        ProfileCache
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
	validate     *validator.Validate
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithCache enables the profile cache.
func WithCache(cache ProfileCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithStoreTimeout bounds every store call. Non-positive values keep the
// default.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the account service.
func NewService(repo Repository, wallets wallet.Repository, numbers NumberGenerator, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	s := &Service{
		repo:         repo,
		wallets:      wallets,
		numbers:      numbers,
		logger:       logging.Discard(),
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
		validate:     v,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new account and provisions its wallet. The email check
// here is a fast path; the store's unique constraint is what actually rejects
// a concurrent duplicate. The account.created notification is recorded with
// the write and delivered later by the outbox dispatcher.
func (s *Service) Create(ctx context.Context, req RegisterRequest) (Account, error) {
	if err := s.checkRequired(req); err != nil {
		return Account{}, err
	}

	var exists bool
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.repo.ExistsByEmail(ctx, req.Email)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	if exists {
		return Account{}, fmt.Errorf("%w: %s", ErrConflict, req.Email)
	}

	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Generate()
		if err != nil {
			return Account{}, err
		}
		s.logger.Info("account number generated", slog.String("account_number", number))

		now := s.now().UTC()
		account := Account{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Email:       req.Email,
			Password:    req.Password,
			PhoneNumber: req.PhoneNumber,
			Address:     req.Address,
			Enabled:     false,
			CreatedAt:   now,
			ModifiedAt:  now,
			Wallet:      wallet.New(number, req.BVN, req.PIN, now),
		}
		err = s.store(ctx, func(ctx context.Context) error {
			return s.repo.Create(ctx, &account)
		})
		switch {
		case err == nil:
			s.logger.Info("account created",
				slog.Int64("account_id", account.ID),
				slog.Int64("wallet_id", account.Wallet.ID),
			)
			return account, nil
		case errors.Is(err, wallet.ErrNumberTaken) && attempt < maxCreateAttempts:
			s.logger.Warn("account number collision", slog.String("account_number", number), slog.Int("attempt", attempt))
		case errors.Is(err, wallet.ErrNumberTaken):
			return Account{}, fmt.Errorf("%w: no free account number after %d attempts", ErrUnavailable, attempt)
		default:
			return Account{}, err
		}
	}
}

// Enable marks the account active. Enabling an enabled account succeeds
// without writing.
func (s *Service) Enable(ctx context.Context, id int64) error {
	account, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if account.Enabled {
		return nil
	}
	account.Enabled = true
	account.ModifiedAt = s.now().UTC()
	if err := s.store(ctx, func(ctx context.Context) error { return s.repo.Update(ctx, account) }); err != nil {
		return err
	}
	s.refresh(ctx, account)
	return nil
}

// Patch applies a partial update given as field name to value. It is a low
// level administrative operation: values are type-checked but not otherwise
// validated. The whole patch is rejected if any field is not updatable.
func (s *Service) Patch(ctx context.Context, id int64, fields map[string]any) error {
	account, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	patch, err := ParsePatch(fields)
	if err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	patch.Apply(&account, s.now().UTC())
	if err := s.store(ctx, func(ctx context.Context) error { return s.repo.Update(ctx, account) }); err != nil {
		return err
	}
	s.refresh(ctx, account)
	return nil
}

// Overwrite replaces every administrator-overwritable field of the account
// and its wallet. The account number is never changed.
func (s *Service) Overwrite(ctx context.Context, id int64, o Overwrite) error {
	if err := s.checkRequired(o); err != nil {
		return err
	}
	if err := wallet.CheckBalance(o.Wallet.Balance); err != nil {
		return fmt.Errorf("%w: wallet.balance: %w", ErrBadField, err)
	}
	account, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	o.Apply(&account, s.now().UTC())
	if err := s.store(ctx, func(ctx context.Context) error { return s.repo.UpdateWithWallet(ctx, account) }); err != nil {
		return err
	}
	s.refresh(ctx, account)
	return nil
}

// Profile returns the by-id view, served from the cache when possible.
func (s *Service) Profile(ctx context.Context, id int64) (Profile, error) {
	key := profileKey(id)
	if s.cache != nil {
		if p, ok := s.cache.Get(ctx, key); ok {
			if p == nil {
				return Profile{}, fmt.Errorf("%w: account %d", ErrNotFound, id)
			}
			return *p, nil
		}
	}
	account, err := s.find(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	profile := account.Profile()
	if s.cache != nil {
		s.cache.Set(ctx, key, &profile, profileVersion(account))
	}
	return profile, nil
}

// FindByAccountNumber resolves the wallet by number and then its owning
// account. A malformed or unknown number, or a wallet without an account,
// is reported as absent rather than as an error.
func (s *Service) FindByAccountNumber(ctx context.Context, number string) (Account, bool, error) {
	if !wallet.ValidAccountNumber(number) {
		return Account{}, false, nil
	}
	var w wallet.Wallet
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.wallets.FindByAccountNumber(ctx, number)
		return err
	})
	if errors.Is(err, wallet.ErrNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}

	var account Account
	err = s.store(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.repo.FindByWalletID(ctx, w.ID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("wallet has no owning account", slog.Int64("wallet_id", w.ID))
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

// Delete removes the account and its wallet.
func (s *Service) Delete(ctx context.Context, id int64) error {
	account, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store(ctx, func(ctx context.Context) error { return s.repo.Delete(ctx, account) }); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Set(ctx, profileKey(id), nil, deletedVersion)
	}
	s.logger.Info("account deleted", slog.Int64("account_id", id), slog.Int64("wallet_id", account.Wallet.ID))
	return nil
}

func (s *Service) find(ctx context.Context, id int64) (Account, error) {
	if id <= 0 {
		return Account{}, ErrInvalidID
	}
	var account Account
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.repo.FindByID(ctx, id)
		return err
	})
	return account, err
}

// store runs fn under the store timeout and reports a missed deadline as
// ErrUnavailable.
func (s *Service) store(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err := fn(ctx)
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, wallet.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// refresh writes the committed state of account over its cached profile.
func (s *Service) refresh(ctx context.Context, account Account) {
	if s.cache != nil {
		profile := account.Profile()
		s.cache.Set(ctx, profileKey(account.ID), &profile, profileVersion(account))
	}
}

// profileVersion orders cached profiles by modification time at the
// precision the store keeps.
func profileVersion(a Account) int64 {
	return a.ModifiedAt.UnixMicro()
}

func (s *Service) checkRequired(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldPath(fe.Namespace()))
	}
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(fields, ", "))
}

// fieldPath drops the leading struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func profileKey(id int64) string {
	return profileKeyPrefix + strconv.FormatInt(id, 10)
}

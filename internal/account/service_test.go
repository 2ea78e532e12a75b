package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/accounts/internal/cache"
	"github.com/congo-pay/accounts/internal/logging"
	"github.com/congo-pay/accounts/internal/notification"
	"github.com/congo-pay/accounts/internal/wallet"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc      *Service
	accounts Repository
	wallets  wallet.Repository
	outbox   *notification.MemoryOutbox
	clock    *clock
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	return newFixtureWith(t, nil, wallet.NewNumberGenerator(), opts...)
}

// newFixtureWith lets a test wrap the account repository and swap the
// number generator.
func newFixtureWith(t *testing.T, wrap func(Repository) Repository, numbers NumberGenerator, opts ...Option) fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	outbox := notification.NewMemoryOutbox()
	wallets := wallet.NewMemoryRepository()
	var accounts Repository = NewMemoryRepository(wallets, outbox)
	if wrap != nil {
		accounts = wrap(accounts)
	}
	opts = append([]Option{WithLogger(logging.Discard()), WithClock(c.now)}, opts...)
	return fixture{
		svc:      NewService(accounts, wallets, numbers, opts...),
		accounts: accounts,
		wallets:  wallets,
		outbox:   outbox,
		clock:    c,
	}
}

func registration(email string) RegisterRequest {
	return RegisterRequest{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       email,
		Password:    "s3cret",
		PhoneNumber: "+2348000000000",
		Address:     "12 Marina, Lagos",
		BVN:         "22222222222",
		PIN:         "1234",
	}
}

func TestCreateLookupDeleteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, registration("a@x.com"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.Enabled)

	profile, err := f.svc.Profile(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.True(t, wallet.ValidAccountNumber(profile.AccountNumber), profile.AccountNumber)

	_, err = f.svc.Create(ctx, registration("a@x.com"))
	require.ErrorIs(t, err, ErrConflict)

	found, ok, err := f.svc.FindByAccountNumber(ctx, profile.AccountNumber)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, found.ID)

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	_, err = f.svc.Profile(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// The wallet goes with the account.
	_, err = f.wallets.FindByAccountNumber(ctx, profile.AccountNumber)
	require.ErrorIs(t, err, wallet.ErrNotFound)
	_, ok, err = f.svc.FindByAccountNumber(ctx, profile.AccountNumber)
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, f.svc.Delete(ctx, created.ID), ErrNotFound)
}

func TestCreateOwnsExactlyOneWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, registration("own@x.com"))
	require.NoError(t, err)

	stored, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	w, err := f.wallets.Get(ctx, stored.Wallet.ID)
	require.NoError(t, err)
	assert.Len(t, w.AccountNumber, wallet.AccountNumberLength)
	assert.True(t, wallet.ValidAccountNumber(w.AccountNumber))
	assert.True(t, w.Balance.IsZero())
	assert.Equal(t, "22222222222", w.BVN)
	assert.Equal(t, f.clock.now(), stored.CreatedAt)
	assert.Equal(t, stored.CreatedAt, stored.ModifiedAt)
}

func TestCreateRequiresEveryField(t *testing.T) {
	f := newFixture(t)
	req := registration("missing@x.com")
	req.BVN = ""
	req.Address = ""

	_, err := f.svc.Create(context.Background(), req)
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "bvn")
	assert.Contains(t, err.Error(), "address")
	assert.Empty(t, f.outbox.Pending())
}

type racyRepository struct {
	Repository
}

// ExistsByEmail always misses, as a concurrent registration would.
func (racyRepository) ExistsByEmail(context.Context, string) (bool, error) { return false, nil }

func TestCreateRaceSurfacesConflictFromStore(t *testing.T) {
	f := newFixtureWith(t, func(r Repository) Repository { return racyRepository{r} }, wallet.NewNumberGenerator())
	ctx := context.Background()

	_, err := f.svc.Create(ctx, registration("race@x.com"))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, registration("race@x.com"))
	require.ErrorIs(t, err, ErrEmailTaken)
	require.ErrorIs(t, err, ErrConflict)
	assert.Len(t, f.outbox.Pending(), 1, "rejected duplicate enqueues nothing")
}

func TestCreateEnqueuesMinimalNotification(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Create(context.Background(), registration("n@x.com"))
	require.NoError(t, err)

	pending := f.outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, notification.Exchange, pending[0].Exchange)
	assert.Equal(t, notification.RoutingKey, pending[0].RoutingKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, map[string]any{
		"id":        float64(created.ID),
		"email":     "n@x.com",
		"firstName": "Ada",
	}, payload)
}

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, string, string, []byte) error {
	return errors.New("connection refused")
}

func TestPublishFailureDoesNotUndoCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, registration("pub@x.com"))
	require.NoError(t, err)

	d := notification.NewDispatcher(f.outbox, brokenPublisher{}, logging.Discard(), notification.DispatcherConfig{})
	n, err := d.FlushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.Profile(ctx, created.ID)
	require.NoError(t, err)
	_, err = f.wallets.Get(ctx, created.Wallet.ID)
	require.NoError(t, err)
	assert.Len(t, f.outbox.Pending(), 1, "event stays queued for redelivery")
}

func TestEnableIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, registration("en@x.com"))
	require.NoError(t, err)

	f.clock.advance(time.Minute)
	require.NoError(t, f.svc.Enable(ctx, created.ID))
	first, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, first.Enabled)
	assert.Equal(t, f.clock.now(), first.ModifiedAt)

	f.clock.advance(time.Minute)
	require.NoError(t, f.svc.Enable(ctx, created.ID))
	second, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.ErrorIs(t, f.svc.Enable(ctx, created.ID+100), ErrNotFound)
}

func TestPatchFirstNameLeavesEverythingElse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, registration("p@x.com"))
	require.NoError(t, err)
	before, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)

	f.clock.advance(time.Hour)
	require.NoError(t, f.svc.Patch(ctx, created.ID, map[string]any{"first_name": "Grace"}))

	after, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", after.FirstName)
	assert.Equal(t, f.clock.now(), after.ModifiedAt)

	after.FirstName, after.ModifiedAt = before.FirstName, before.ModifiedAt
	assert.Equal(t, before, after)
}

func TestPatchRejectsWholeRequestOnBadField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, registration("bad@x.com"))
	require.NoError(t, err)
	before, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)

	err = f.svc.Patch(ctx, created.ID, map[string]any{"first_name": "Grace", "balance": 1000})
	require.ErrorIs(t, err, ErrBadField)

	after, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.ErrorIs(t, f.svc.Patch(ctx, created.ID+100, map[string]any{"first_name": "X"}), ErrNotFound)
}

func TestPatchEmailCollisionIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, registration("first@x.com"))
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, registration("second@x.com"))
	require.NoError(t, err)

	err = f.svc.Patch(ctx, second.ID, map[string]any{"email": "first@x.com"})
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, f.svc.Patch(ctx, second.ID, map[string]any{"email": "renamed@x.com"}))
	exists, err := f.accounts.ExistsByEmail(ctx, "second@x.com")
	require.NoError(t, err)
	assert.False(t, exists, "old email is released")
}

func overwriteFor(email string) Overwrite {
	return Overwrite{
		FirstName:   "Ada",
		LastName:    "Byron",
		Email:       email,
		Password:    "changed",
		PhoneNumber: "+2348111111111",
		Address:     "1 Broad St",
		Enabled:     true,
		Wallet: WalletOverwrite{
			BVN:     "33333333333",
			PIN:     "4321",
			Balance: decimal.RequireFromString("2500.75"),
		},
	}
}

func TestOverwriteNeverChangesAccountNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, registration("o@x.com"))
	require.NoError(t, err)

	f.clock.advance(time.Hour)
	require.NoError(t, f.svc.Overwrite(ctx, created.ID, overwriteFor("o2@x.com")))

	after, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Wallet.AccountNumber, after.Wallet.AccountNumber)
	assert.Equal(t, created.Wallet.ID, after.Wallet.ID)
	assert.Equal(t, "o2@x.com", after.Email)
	assert.Equal(t, "Byron", after.LastName)
	assert.True(t, after.Enabled)
	assert.Equal(t, "33333333333", after.Wallet.BVN)
	assert.True(t, after.Wallet.Balance.Equal(decimal.RequireFromString("2500.75")))
	assert.Equal(t, created.CreatedAt, after.CreatedAt)
	assert.Equal(t, f.clock.now(), after.Wallet.ModifiedAt)
}

func TestOverwriteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, registration("v@x.com"))
	require.NoError(t, err)

	missing := overwriteFor("v@x.com")
	missing.Wallet.PIN = ""
	err = f.svc.Overwrite(ctx, created.ID, missing)
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "wallet.pin")

	for _, balance := range []string{"-1", "1.005", "1000000000000000000"} {
		bad := overwriteFor("v@x.com")
		bad.Wallet.Balance = decimal.RequireFromString(balance)
		require.ErrorIs(t, f.svc.Overwrite(ctx, created.ID, bad), ErrBadField, balance)
	}
	unchanged, err := f.accounts.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.Wallet.Balance.IsZero())

	trailing := overwriteFor("v@x.com")
	trailing.Wallet.Balance = decimal.RequireFromString("999999999999999999.990")
	require.NoError(t, f.svc.Overwrite(ctx, created.ID, trailing))

	require.ErrorIs(t, f.svc.Overwrite(ctx, created.ID+100, overwriteFor("z@x.com")), ErrNotFound)
}

func TestFindByAccountNumberAbsentIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, number := range []string{"", "12345", "abcdefghij", "9999999999"} {
		_, ok, err := f.svc.FindByAccountNumber(ctx, number)
		require.NoError(t, err, number)
		assert.False(t, ok, number)
	}
}

func TestInvalidIDIsBadRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Profile(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidID)
	require.ErrorIs(t, err, ErrBadRequest)
}

type scriptedNumbers struct {
	mu      sync.Mutex
	numbers []string
	err     error
}

func (s *scriptedNumbers) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	n := s.numbers[0]
	if len(s.numbers) > 1 {
		s.numbers = s.numbers[1:]
	}
	return n, nil
}

func TestCreateRegeneratesOnNumberCollision(t *testing.T) {
	numbers := &scriptedNumbers{numbers: []string{"1111111111", "1111111111", "2222222222"}}
	f := newFixtureWith(t, nil, numbers)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, registration("c1@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "1111111111", first.Wallet.AccountNumber)

	second, err := f.svc.Create(ctx, registration("c2@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "2222222222", second.Wallet.AccountNumber)
	assert.Len(t, f.outbox.Pending(), 2)
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	numbers := &scriptedNumbers{numbers: []string{"1111111111"}}
	f := newFixtureWith(t, nil, numbers)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, registration("c1@x.com"))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, registration("c2@x.com"))
	require.ErrorIs(t, err, ErrUnavailable)
	exists, err := f.accounts.ExistsByEmail(ctx, "c2@x.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateSurfacesGeneratorExhaustion(t *testing.T) {
	f := newFixtureWith(t, nil, &scriptedNumbers{err: wallet.ErrNumberExhausted})
	_, err := f.svc.Create(context.Background(), registration("g@x.com"))
	require.ErrorIs(t, err, wallet.ErrNumberExhausted)
	assert.Empty(t, f.outbox.Pending())
}

type stalledRepository struct {
	Repository
}

func (stalledRepository) FindByID(ctx context.Context, _ int64) (Account, error) {
	<-ctx.Done()
	return Account{}, ctx.Err()
}

func TestStoreTimeoutIsUnavailable(t *testing.T) {
	f := newFixtureWith(t, func(r Repository) Repository { return stalledRepository{r} },
		wallet.NewNumberGenerator(), WithStoreTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := f.svc.Profile(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

type unreachableWallets struct {
	wallet.Repository
}

func (unreachableWallets) FindByAccountNumber(context.Context, string) (wallet.Wallet, error) {
	return wallet.Wallet{}, fmt.Errorf("read wallet: %w: connection refused", wallet.ErrUnavailable)
}

func TestWalletStoreOutageIsUnavailable(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.accounts, unreachableWallets{f.wallets}, wallet.NewNumberGenerator())

	_, found, err := svc.FindByAccountNumber(context.Background(), "0123456789")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, found)
}

type cachedProfile struct {
	profile *Profile
	version int64
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]cachedProfile
	gets    int
	hits    int
}

func newMapCache() *mapCache { return &mapCache{entries: map[string]cachedProfile{}} }

func (c *mapCache) Get(_ context.Context, key string) (*Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.hits++
	return e.profile, true
}

func (c *mapCache) Set(_ context.Context, key string, value *Profile, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.version > version {
		return
	}
	c.entries[key] = cachedProfile{profile: value, version: version}
}

func TestProfileCacheFollowsMutations(t *testing.T) {
	views := newMapCache()
	f := newFixture(t, WithCache(views))
	ctx := context.Background()
	created, err := f.svc.Create(ctx, registration("cache@x.com"))
	require.NoError(t, err)

	_, err = f.svc.Profile(ctx, created.ID)
	require.NoError(t, err)
	_, err = f.svc.Profile(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, views.hits)

	f.clock.advance(time.Second)
	require.NoError(t, f.svc.Patch(ctx, created.ID, map[string]any{"last_name": "King"}))
	profile, err := f.svc.Profile(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "King", profile.LastName)
	assert.Equal(t, 2, views.hits, "the patch writes the fresh profile")

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	_, err = f.svc.Profile(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

// pausingRepository holds the next FindByID after its read until release
// is closed.
type pausingRepository struct {
	Repository
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newPausingRepository(inner Repository) *pausingRepository {
	return &pausingRepository{Repository: inner, read: make(chan struct{}), release: make(chan struct{})}
}

func (r *pausingRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	a, err := r.Repository.FindByID(ctx, id)
	if r.armed.CompareAndSwap(true, false) {
		close(r.read)
		<-r.release
	}
	return a, err
}

func newRedisProfileCache(t *testing.T) *cache.ViewCache[Profile] {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewViewCache[Profile](client, time.Minute, logging.Discard())
}

func TestProfileFillCannotOutliveConcurrentMutation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f fixture, id int64) error
		check  func(t *testing.T, p Profile, err error)
	}{
		{
			name:   "delete",
			mutate: func(f fixture, id int64) error { return f.svc.Delete(context.Background(), id) },
			check: func(t *testing.T, _ Profile, err error) {
				require.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "patch",
			mutate: func(f fixture, id int64) error {
				return f.svc.Patch(context.Background(), id, map[string]any{"first_name": "Grace"})
			},
			check: func(t *testing.T, p Profile, err error) {
				require.NoError(t, err)
				assert.Equal(t, "Grace", p.FirstName)
			},
		},
		{
			name: "overwrite",
			mutate: func(f fixture, id int64) error {
				o := overwriteFor("moved@x.com")
				return f.svc.Overwrite(context.Background(), id, o)
			},
			check: func(t *testing.T, p Profile, err error) {
				require.NoError(t, err)
				assert.Equal(t, "moved@x.com", p.Email)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var paused *pausingRepository
			f := newFixtureWith(t, func(r Repository) Repository {
				paused = newPausingRepository(r)
				return paused
			}, wallet.NewNumberGenerator(), WithCache(newRedisProfileCache(t)))
			ctx := context.Background()
			created, err := f.svc.Create(ctx, registration("ada@x.com"))
			require.NoError(t, err)

			paused.armed.Store(true)
			done := make(chan error, 1)
			go func() {
				_, err := f.svc.Profile(ctx, created.ID)
				done <- err
			}()
			<-paused.read

			f.clock.advance(time.Second)
			require.NoError(t, tc.mutate(f, created.ID))
			close(paused.release)
			require.NoError(t, <-done)

			p, err := f.svc.Profile(ctx, created.ID)
			tc.check(t, p, err)
		})
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"email-auth-service/internal/bucketing"
	"email-auth-service/internal/config"
	"email-auth-service/internal/hashing"
	"email-auth-service/internal/models"
	"email-auth-service/internal/repository/scylla"
)

// -------- test fakes --------

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account // keyed by normalized email

	createErr error
	updateErr error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*models.Account)}
}

func (f *fakeAccountRepo) CreateAccount(ctx context.Context, account *models.Account) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[account.Email]; ok {
		return scylla.ErrEmailTaken
	}
	cp := *account
	f.accounts[account.Email] = &cp
	return nil
}

func (f *fakeAccountRepo) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[email]
	if !ok {
		return nil, scylla.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

func (f *fakeAccountRepo) UpdateAccount(ctx context.Context, account *models.Account) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *account
	f.accounts[account.Email] = &cp
	return nil
}

func (f *fakeAccountRepo) HealthCheck(ctx context.Context) error { return nil }

// stored returns the persisted record for direct inspection and mutation.
func (f *fakeAccountRepo) stored(email string) *models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[email]
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type fakeIssuer struct {
	err error
}

func (f *fakeIssuer) Sign(accountID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token-for-" + accountID, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string // "type:accountID"
}

func (f *fakeEvents) EmitAccountEvent(ctx context.Context, eventType, accountID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType+":"+accountID)
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]*models.Account
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.Account)}
}

func (f *fakeCache) Get(ctx context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.entries[email]; ok {
		cp := *account
		return &cp, nil
	}
	return nil, errors.New("cache miss")
}

func (f *fakeCache) Set(ctx context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *account
	f.entries[account.Email] = &cp
	return nil
}

func (f *fakeCache) Invalidate(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, email)
	f.invalidated = append(f.invalidated, email)
	return nil
}

type testEnv struct {
	service *AccountService
	repo    *fakeAccountRepo
	mailer  *fakeMailer
	events  *fakeEvents
	cache   *fakeCache
}

func newTestEnv(t *testing.T, withCache bool) *testEnv {
	t.Helper()

	repo := newFakeAccountRepo()
	m := &fakeMailer{}
	ev := &fakeEvents{}

	var cache *fakeCache
	var cacheIface AccountCache
	if withCache {
		cache = newFakeCache()
		cacheIface = cache
	}

	bucketer := bucketing.NewManager(&config.Config{
		Bucketing: config.BucketingConfig{AccountBuckets: 16},
	})

	svc := NewAccountService(
		repo,
		hashing.NewPasswordHasher(),
		m,
		&fakeIssuer{},
		cacheIface,
		ev,
		bucketer,
		15*time.Minute,
		zap.NewNop(),
	)

	return &testEnv{service: svc, repo: repo, mailer: m, events: ev, cache: cache}
}

func register(t *testing.T, env *testEnv, name, email, password string) {
	t.Helper()
	err := env.service.Register(context.Background(), &RegisterRequest{
		Name: name, Email: email, Password: password,
	})
	require.NoError(t, err)
}

// -------- register --------

func TestRegister_CreatesPendingAccount(t *testing.T) {
	env := newTestEnv(t, false)

	register(t, env, "Ann", "ann@x.com", "pw123")

	account := env.repo.stored("ann@x.com")
	require.NotNil(t, account)
	assert.Equal(t, "Ann", account.Name)
	assert.NotEmpty(t, account.AccountID)
	assert.False(t, account.Verified())

	// Plaintext is never stored
	assert.NotEqual(t, "pw123", account.PasswordHash)
	assert.True(t, hashing.NewPasswordHasher().Verify("pw123", account.PasswordHash))

	// OTP is a 6-digit code with both fields set
	require.NotNil(t, account.OTPCode)
	require.NotNil(t, account.OTPExpiresAt)
	assert.Len(t, *account.OTPCode, 6)
	n, err := strconv.Atoi(*account.OTPCode)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100000)
	assert.LessOrEqual(t, n, 999999)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *account.OTPExpiresAt, time.Minute)
}

func TestRegister_SendsOTPEmail(t *testing.T) {
	env := newTestEnv(t, false)

	register(t, env, "Ann", "ann@x.com", "pw123")

	require.Len(t, env.mailer.sent, 1)
	mail := env.mailer.sent[0]
	assert.Equal(t, "ann@x.com", mail.to)
	assert.Equal(t, "Verify your account", mail.subject)
	assert.Contains(t, mail.body, *env.repo.stored("ann@x.com").OTPCode)
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	env := newTestEnv(t, false)

	register(t, env, "Ann", "ann@x.com", "pw123")

	err := env.service.Register(context.Background(), &RegisterRequest{
		Name: "Ann Again", Email: "ann@x.com", Password: "other",
	})
	require.ErrorIs(t, err, ErrEmailAlreadyRegistered)

	// Same normalized email: differently-cased duplicates conflict too
	err = env.service.Register(context.Background(), &RegisterRequest{
		Name: "Ann Again", Email: "  Ann@X.com ", Password: "other",
	})
	require.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newTestEnv(t, false)

	cases := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing name", RegisterRequest{Email: "a@x.com", Password: "pw"}},
		{"missing email", RegisterRequest{Name: "A", Password: "pw"}},
		{"missing password", RegisterRequest{Name: "A", Email: "a@x.com"}},
		{"whitespace name", RegisterRequest{Name: "   ", Email: "a@x.com", Password: "pw"}},
		{"malformed email", RegisterRequest{Name: "A", Email: "not-an-email", Password: "pw"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := env.service.Register(context.Background(), &tc.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegister_NoMailerConfigured(t *testing.T) {
	// Degraded development startup wires no mailer at all.
	repo := newFakeAccountRepo()
	bucketer := bucketing.NewManager(&config.Config{
		Bucketing: config.BucketingConfig{AccountBuckets: 16},
	})
	svc := NewAccountService(
		repo,
		hashing.NewPasswordHasher(),
		nil,
		&fakeIssuer{},
		nil,
		nil,
		bucketer,
		15*time.Minute,
		zap.NewNop(),
	)

	err := svc.Register(context.Background(), &RegisterRequest{
		Name: "Ann", Email: "ann@x.com", Password: "pw123",
	})
	require.NoError(t, err)

	account := repo.stored("ann@x.com")
	require.NotNil(t, account)
	require.NotNil(t, account.OTPCode)

	// The rest of the lifecycle is unaffected
	require.NoError(t, svc.VerifyOTP(context.Background(), "ann@x.com", *account.OTPCode))
	sessionToken, _, err := svc.Login(context.Background(), "ann@x.com", "pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionToken)
}

func TestRegister_MailFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(t, false)
	env.mailer.err = errors.New("smtp unavailable")

	err := env.service.Register(context.Background(), &RegisterRequest{
		Name: "Ann", Email: "ann@x.com", Password: "pw123",
	})
	require.NoError(t, err)
	require.NotNil(t, env.repo.stored("ann@x.com"))
}

func TestRegister_NormalizesEmail(t *testing.T) {
	env := newTestEnv(t, false)

	register(t, env, "Ann", "  Ann@X.com ", "pw123")

	account := env.repo.stored("ann@x.com")
	require.NotNil(t, account)
	assert.Equal(t, "ann@x.com", account.Email)
}

func TestRegister_EmitsCreatedEvent(t *testing.T) {
	env := newTestEnv(t, false)

	register(t, env, "Ann", "ann@x.com", "pw123")

	account := env.repo.stored("ann@x.com")
	require.Len(t, env.events.events, 1)
	assert.Equal(t, "account.created:"+account.AccountID, env.events.events[0])
}

// -------- verify --------

func TestVerifyOTP_TransitionsToVerified(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "ann@x.com", "pw123")
	otp := *env.repo.stored("ann@x.com").OTPCode

	err := env.service.VerifyOTP(context.Background(), "ann@x.com", otp)
	require.NoError(t, err)

	account := env.repo.stored("ann@x.com")
	assert.True(t, account.Verified())
	assert.Nil(t, account.OTPCode)
	assert.Nil(t, account.OTPExpiresAt)

	// Repeating the call after success is terminal: no pending OTP
	err = env.service.VerifyOTP(context.Background(), "ann@x.com", otp)
	assert.ErrorIs(t, err, ErrOTPInvalid)
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "ann@x.com", "pw123")
	otp := *env.repo.stored("ann@x.com").OTPCode

	wrong := "000000"
	if wrong == otp {
		wrong = "000001"
	}

	err := env.service.VerifyOTP(context.Background(), "ann@x.com", wrong)
	require.ErrorIs(t, err, ErrOTPInvalid)
	assert.False(t, env.repo.stored("ann@x.com").Verified())
}

func TestVerifyOTP_ExpiredButMatchingReportsExpired(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "ann@x.com", "pw123")

	account := env.repo.stored("ann@x.com")
	expired := time.Now().Add(-time.Minute)
	account.OTPExpiresAt = &expired

	err := env.service.VerifyOTP(context.Background(), "ann@x.com", *account.OTPCode)
	require.ErrorIs(t, err, ErrOTPExpired)
	assert.False(t, env.repo.stored("ann@x.com").Verified())
}

func TestVerifyOTP_MissingExpiryIsInvalid(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "ann@x.com", "pw123")

	// A record with a code but no expiry (say, a mangled cache entry) is
	// unverifiable, never a panic.
	account := env.repo.stored("ann@x.com")
	otp := *account.OTPCode
	account.OTPExpiresAt = nil

	err := env.service.VerifyOTP(context.Background(), "ann@x.com", otp)
	require.ErrorIs(t, err, ErrOTPInvalid)
	assert.False(t, env.repo.stored("ann@x.com").Verified())
}

func TestVerifyOTP_UnknownEmail(t *testing.T) {
	env := newTestEnv(t, false)

	err := env.service.VerifyOTP(context.Background(), "nobody@x.com", "123456")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestVerifyOTP_EmptyInput(t *testing.T) {
	env := newTestEnv(t, false)

	err := env.service.VerifyOTP(context.Background(), "", "123456")
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = env.service.VerifyOTP(context.Background(), "ann@x.com", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerifyOTP_InvalidatesCache(t *testing.T) {
	env := newTestEnv(t, true)
	register(t, env, "Ann", "ann@x.com", "pw123")
	otp := *env.repo.stored("ann@x.com").OTPCode

	// Prime the cache with the pending account
	_, _, err := env.service.Login(context.Background(), "ann@x.com", "pw123")
	require.ErrorIs(t, err, ErrAccountNotVerified)

	require.NoError(t, env.service.VerifyOTP(context.Background(), "ann@x.com", otp))
	assert.Contains(t, env.cache.invalidated, "ann@x.com")

	// A stale pending entry must not block the login that follows
	sessionToken, user, err := env.service.Login(context.Background(), "ann@x.com", "pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionToken)
	assert.Equal(t, "ann@x.com", user.Email)
}

// -------- login --------

func TestLogin_BlockedUntilVerified(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "ann@x.com", "pw123")

	// Correct password, still pending
	_, _, err := env.service.Login(context.Background(), "ann@x.com", "pw123")
	assert.ErrorIs(t, err, ErrAccountNotVerified)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "ann@x.com", "pw123")

	_, _, err := env.service.Login(context.Background(), "ann@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	env := newTestEnv(t, false)

	_, _, err := env.service.Login(context.Background(), "nobody@x.com", "pw")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLogin_AfterVerification(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "ann@x.com", "pw123")
	otp := *env.repo.stored("ann@x.com").OTPCode
	require.NoError(t, env.service.VerifyOTP(context.Background(), "ann@x.com", otp))

	sessionToken, user, err := env.service.Login(context.Background(), "ann@x.com", "pw123")
	require.NoError(t, err)

	account := env.repo.stored("ann@x.com")
	assert.Equal(t, "token-for-"+account.AccountID, sessionToken)
	assert.Equal(t, account.AccountID, user.ID)
	assert.Equal(t, "Ann", user.Name)
	assert.Equal(t, "ann@x.com", user.Email)
}

func TestLogin_CaseInsensitiveEmail(t *testing.T) {
	env := newTestEnv(t, false)
	register(t, env, "Ann", "Ann@X.com", "pw123")
	otp := *env.repo.stored("ann@x.com").OTPCode
	require.NoError(t, env.service.VerifyOTP(context.Background(), "ANN@x.COM", otp))

	sessionToken, _, err := env.service.Login(context.Background(), "ann@x.com", "pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionToken)
}

// -------- end to end --------

func TestLifecycle_EndToEnd(t *testing.T) {
	env := newTestEnv(t, false)

	register(t, env, "Ann", "ann@x.com", "pw123")

	// Login before verification is forbidden
	_, _, err := env.service.Login(context.Background(), "ann@x.com", "pw123")
	require.ErrorIs(t, err, ErrAccountNotVerified)

	// Wrong code is rejected
	otp := *env.repo.stored("ann@x.com").OTPCode
	wrong := "999999"
	if wrong == otp {
		wrong = "999998"
	}
	err = env.service.VerifyOTP(context.Background(), "ann@x.com", wrong)
	require.ErrorIs(t, err, ErrOTPInvalid)

	// Correct code verifies
	require.NoError(t, env.service.VerifyOTP(context.Background(), "ann@x.com", otp))

	// Login now succeeds
	sessionToken, user, err := env.service.Login(context.Background(), "ann@x.com", "pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionToken)
	assert.Equal(t, "ann@x.com", user.Email)

	account := env.repo.stored("ann@x.com")
	require.Len(t, env.events.events, 2)
	assert.Equal(t, []string{
		"account.created:" + account.AccountID,
		"account.verified:" + account.AccountID,
	}, env.events.events)
}

func TestGenerateOTP_Range(t *testing.T) {
	for i := 0; i < 200; i++ {
		otp, err := generateOTP()
		if err != nil {
			t.Fatalf("generateOTP error: %v", err)
		}
		if len(otp) != 6 {
			t.Fatalf("expected 6 digits, got %q", otp)
		}
		n, err := strconv.Atoi(otp)
		if err != nil {
			t.Fatalf("non-numeric OTP %q: %v", otp, err)
		}
		if n < 100000 || n > 999999 {
			t.Fatalf("OTP out of range: %d", n)
		}
	}
}

func TestRegister_RepoFaultSurfaces(t *testing.T) {
	env := newTestEnv(t, false)
	env.repo.createErr = fmt.Errorf("store unavailable")

	err := env.service.Register(context.Background(), &RegisterRequest{
		Name: "Ann", Email: "ann@x.com", Password: "pw123",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmailAlreadyRegistered)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"email-auth-service/internal/bucketing"
	"email-auth-service/internal/models"
	"email-auth-service/internal/repository/scylla"
	"email-auth-service/internal/util"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountNotVerified     = errors.New("account not verified")
	ErrOTPInvalid             = errors.New("invalid OTP")
	ErrOTPExpired             = errors.New("OTP expired")
)

const (
	otpEmailSubject = "Verify your account"
	otpEmailBody    = "Your OTP code is: %s"
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// OTPMailer delivers verification codes. Failures never abort registration.
type OTPMailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// TokenIssuer signs session tokens binding an account id.
type TokenIssuer interface {
	Sign(accountID string) (string, error)
}

// AccountCache is the optional read-through cache in front of the store.
type AccountCache interface {
	Get(ctx context.Context, email string) (*models.Account, error)
	Set(ctx context.Context, account *models.Account) error
	Invalidate(ctx context.Context, email string) error
}

// EventProducer publishes account lifecycle events, best-effort.
type EventProducer interface {
	EmitAccountEvent(ctx context.Context, eventType, accountID, email string) error
}

// Lifecycle event types, mirrored by the Kafka producer.
const (
	eventAccountCreated  = "account.created"
	eventAccountVerified = "account.verified"
)

// AccountService is the account lifecycle manager: it owns the
// pending-to-verified state machine and gates login on the current state.
type AccountService struct {
	accountRepo scylla.AccountRepository
	hasher      PasswordHasher
	mailer      OTPMailer
	issuer      TokenIssuer
	cache       AccountCache
	events      EventProducer
	bucketer    *bucketing.Manager
	otpTTL      time.Duration
	logger      *zap.Logger
}

// NewAccountService creates the lifecycle manager. cache and events may be
// nil; both are best-effort collaborators.
func NewAccountService(
	accountRepo scylla.AccountRepository,
	hasher PasswordHasher,
	mailer OTPMailer,
	issuer TokenIssuer,
	cache AccountCache,
	events EventProducer,
	bucketer *bucketing.Manager,
	otpTTL time.Duration,
	logger *zap.Logger,
) *AccountService {
	return &AccountService{
		accountRepo: accountRepo,
		hasher:      hasher,
		mailer:      mailer,
		issuer:      issuer,
		cache:       cache,
		events:      events,
		bucketer:    bucketer,
		otpTTL:      otpTTL,
		logger:      logger,
	}
}

// RegisterRequest carries the registration input.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a pending account with a fresh OTP and mails the code.
// The caller never sees the OTP or the password hash.
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) error {
	startTime := time.Now()

	name := util.TrimInput(req.Name)
	email := util.NormalizeEmail(req.Email)

	if name == "" || email == "" || req.Password == "" {
		return fmt.Errorf("%w: name, email and password are required", ErrInvalidInput)
	}
	if !util.ValidEmail(email) {
		return fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	otp, err := generateOTP()
	if err != nil {
		return fmt.Errorf("failed to generate OTP: %w", err)
	}

	now := time.Now().UTC()
	otpExpiresAt := now.Add(s.otpTTL)
	accountID := uuid.New().String()

	account := &models.Account{
		AccountBucket: s.bucketer.AccountBucket(accountID),
		AccountID:     accountID,
		Name:          name,
		Email:         email,
		PasswordHash:  passwordHash,
		OTPCode:       &otp,
		OTPExpiresAt:  &otpExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.accountRepo.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, scylla.ErrEmailTaken) {
			return ErrEmailAlreadyRegistered
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	// Best-effort delivery: the account stays pending either way and the
	// caller is told to check email regardless. The mailer may be absent in
	// degraded development startup.
	if s.mailer == nil {
		s.logger.Warn("No mailer configured, skipping OTP email",
			util.String("account_id", accountID))
	} else if err := s.mailer.Send(ctx, email, otpEmailSubject, fmt.Sprintf(otpEmailBody, otp)); err != nil {
		s.logger.Warn("Failed to send OTP email",
			util.String("account_id", accountID),
			util.ErrorField(err))
	}

	s.emitEvent(ctx, eventAccountCreated, accountID, email)

	s.logger.Info("Account registered",
		util.String("account_id", accountID),
		util.Duration("duration", time.Since(startTime)))

	return nil
}

// VerifyOTP transitions a pending account to verified when the submitted
// code matches and has not expired. Expiry is checked after the match, so a
// matched-but-stale code is reported as expired, never as invalid.
func (s *AccountService) VerifyOTP(ctx context.Context, email, otp string) error {
	email = util.NormalizeEmail(email)
	otp = util.TrimInput(otp)

	if email == "" || otp == "" {
		return fmt.Errorf("%w: email and otp are required", ErrInvalidInput)
	}

	account, err := s.getAccount(ctx, email)
	if err != nil {
		return err
	}

	if account.OTPCode == nil {
		// Already verified: re-verification is terminal, not an error in
		// the state machine, but the caller still gets a 400.
		return ErrOTPInvalid
	}
	if subtle.ConstantTimeCompare([]byte(*account.OTPCode), []byte(otp)) != 1 {
		return ErrOTPInvalid
	}
	// A set code always carries an expiry; a record missing it (a corrupt
	// cache entry, say) is unverifiable.
	if account.OTPExpiresAt == nil {
		return ErrOTPInvalid
	}
	if time.Now().After(*account.OTPExpiresAt) {
		return ErrOTPExpired
	}

	account.OTPCode = nil
	account.OTPExpiresAt = nil
	account.UpdatedAt = time.Now().UTC()

	if err := s.accountRepo.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to persist verification: %w", err)
	}
	s.invalidateCache(ctx, email)

	s.emitEvent(ctx, eventAccountVerified, account.AccountID, email)

	s.logger.Info("Account verified",
		util.String("account_id", account.AccountID))

	return nil
}

// Login authenticates a verified account and issues a session token. Login
// is a query, not a state transition: it is allowed only in the verified
// state and never mutates the account.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, *models.PublicAccount, error) {
	email = util.NormalizeEmail(email)

	if email == "" || password == "" {
		return "", nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	account, err := s.getAccount(ctx, email)
	if err != nil {
		return "", nil, err
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}
	if !account.Verified() {
		return "", nil, ErrAccountNotVerified
	}

	sessionToken, err := s.issuer.Sign(account.AccountID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	s.logger.Info("Account logged in",
		util.String("account_id", account.AccountID))

	return sessionToken, account.Public(), nil
}

// getAccount reads through the cache, falling back to the store. Cache
// failures degrade to a store read.
func (s *AccountService) getAccount(ctx context.Context, email string) (*models.Account, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, email); err == nil {
			return cached, nil
		}
	}

	account, err := s.accountRepo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, account); err != nil {
			s.logger.Debug("Failed to cache account", util.ErrorField(err))
		}
	}

	return account, nil
}

func (s *AccountService) invalidateCache(ctx context.Context, email string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, email); err != nil {
		s.logger.Warn("Failed to invalidate account cache",
			util.String("email", email),
			util.ErrorField(err))
	}
}

func (s *AccountService) emitEvent(ctx context.Context, eventType, accountID, email string) {
	if s.events == nil {
		return
	}
	if err := s.events.EmitAccountEvent(ctx, eventType, accountID, email); err != nil {
		s.logger.Warn("Failed to emit account event",
			util.String("type", eventType),
			util.String("account_id", accountID),
			util.ErrorField(err))
	}
}

// generateOTP returns a uniformly random 6-digit code in [100000, 999999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

package service

import (
	"time"

	"go.uber.org/zap"

	"email-auth-service/internal/bucketing"
	"email-auth-service/internal/repository/scylla"
)

// ServiceFactory creates and holds service instances.
type ServiceFactory struct {
	accountRepo    scylla.AccountRepository
	hasher         PasswordHasher
	mailer         OTPMailer
	issuer         TokenIssuer
	cache          AccountCache
	events         EventProducer
	bucketer       *bucketing.Manager
	otpTTL         time.Duration
	logger         *zap.Logger
	accountService *AccountService
}

func NewServiceFactory(
	accountRepo scylla.AccountRepository,
	hasher PasswordHasher,
	mailer OTPMailer,
	issuer TokenIssuer,
	cache AccountCache,
	events EventProducer,
	bucketer *bucketing.Manager,
	otpTTL time.Duration,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
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

// AccountService returns the account service instance (singleton).
func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(
			f.accountRepo,
			f.hasher,
			f.mailer,
			f.issuer,
			f.cache,
			f.events,
			f.bucketer,
			f.otpTTL,
			f.logger,
		)
	}
	return f.accountService
}

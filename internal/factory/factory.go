package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"email-auth-service/internal/bucketing"
	"email-auth-service/internal/client"
	"email-auth-service/internal/config"
	"email-auth-service/internal/hashing"
	"email-auth-service/internal/mailer"
	redisrepo "email-auth-service/internal/repository/redis"
	"email-auth-service/internal/repository/scylla"
	"email-auth-service/internal/service"
	"email-auth-service/internal/tls"
	"email-auth-service/internal/token"
	"email-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer
	smtpMailer    *mailer.Mailer

	// Managers
	hasher      *hashing.PasswordHasher
	tokenIssuer *token.Issuer
	bucketer    *bucketing.Manager

	// Repositories and services
	accountRepository scylla.AccountRepository
	accountCache      *redisrepo.AccountCache
	serviceFactory    *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(&tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// ScyllaDB, the authoritative account store
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		}
	}

	// Redis account cache
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
	}

	// Kafka lifecycle events, optional
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	// SMTP mailer
	if smtpMailer, err := mailer.NewMailer(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("mailer: %w", err))
	} else {
		f.smtpMailer = smtpMailer
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewPasswordHasher()
	f.tokenIssuer = token.NewIssuer([]byte(f.config.JWT.Secret), f.config.JWT.TokenTTL)
	f.bucketer = bucketing.NewManager(f.config)
}

func (f *Factory) AccountRepository() scylla.AccountRepository {
	if f.accountRepository == nil {
		f.accountRepository = scylla.NewAccountRepository(f.scyllaClient, util.Get())
	}
	return f.accountRepository
}

func (f *Factory) AccountCache() *redisrepo.AccountCache {
	if f.accountCache == nil && f.redisClient != nil {
		f.accountCache = redisrepo.NewAccountCache(f.redisClient, f.config.Redis.CacheTTL)
	}
	return f.accountCache
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var cache service.AccountCache
		if c := f.AccountCache(); c != nil {
			cache = c
		}
		var events service.EventProducer
		if f.kafkaProducer != nil {
			events = f.kafkaProducer
		}
		var smtpMailer service.OTPMailer
		if f.smtpMailer != nil {
			smtpMailer = f.smtpMailer
		}
		f.serviceFactory = service.NewServiceFactory(
			f.AccountRepository(),
			f.hasher,
			smtpMailer,
			f.tokenIssuer,
			cache,
			events,
			f.bucketer,
			f.config.OTP.TTL,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// HealthCheck pings all collaborators concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var mu sync.Mutex
	healthErrors := make(map[string]error)
	record := func(name string, err error) {
		mu.Lock()
		healthErrors[name] = err
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.scyllaClient == nil {
			record("scylla", fmt.Errorf("scylla client not initialized"))
			return nil
		}
		if err := f.scyllaClient.HealthCheck(gctx); err != nil {
			record("scylla", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.redisClient == nil {
			record("redis", fmt.Errorf("redis client not initialized"))
			return nil
		}
		if err := f.redisClient.HealthCheck(gctx); err != nil {
			record("redis", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.kafkaProducer == nil {
			return nil // optional
		}
		if err := f.kafkaProducer.HealthCheck(gctx); err != nil {
			record("kafka", err)
		}
		return nil
	})

	_ = g.Wait()
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) TokenIssuer() *token.Issuer {
	return f.tokenIssuer
}

package factory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"phone-auth-service/internal/blocking"
	"phone-auth-service/internal/bucketing"
	"phone-auth-service/internal/client"
	"phone-auth-service/internal/clock"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/encryption"
	"phone-auth-service/internal/events"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/notify"
	"phone-auth-service/internal/otp"
	"phone-auth-service/internal/ratelimit"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/repository/clickhouse"
	"phone-auth-service/internal/repository/memory"
	redisrepo "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/repository/scylla"
	"phone-auth-service/internal/security"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/tls"
	"phone-auth-service/internal/token"
	"phone-auth-service/internal/util"
	"phone-auth-service/internal/validation"
)

const (
	statusHealthy = "healthy"
	statusMemory  = "in-memory"

	eventQueueSize     = 1024
	eventPublishBudget = 5 * time.Second
	deliveryTimeout    = 10 * time.Second
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	clock      clock.Clock
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.PhoneHasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	// Repositories
	blockStore     repository.BlockStore
	rateWindows    repository.RateWindowStore
	requestLogs    repository.RequestLogRepository
	failedAttempts repository.FailedAttemptRepository
	users          repository.UserRepository

	// Components
	ledger         *otp.Ledger
	limiter        *ratelimit.Limiter
	phoneLimiter   *ratelimit.Limiter
	eventIndex     *events.ElasticIndexer
	asyncEvents    *events.Async
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Auth.JWTSecret == "" && !cfg.IsProduction() {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate development JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		util.Warn("JWT_SECRET not set, using a random secret for this process")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return New(cfg, clock.New(), util.Get())
}

// New wires the factory from an already validated configuration. Backing
// stores that cannot be reached are replaced by in-memory stores outside
// production.
func New(cfg *config.Config, clk clock.Clock, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}

	factory := &Factory{
		config: cfg,
		logger: logger,
		clock:  clk,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}, logger)
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := factory.initializeRepositories(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := factory.initializeServices(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", cfg.KMS.Enabled),
		zap.Bool("redis", factory.redisClient != nil),
		zap.Bool("scylla", factory.scyllaClient != nil),
		zap.Bool("kafka", factory.kafkaProducer != nil),
		zap.Bool("elasticsearch", factory.esClient != nil),
		zap.Bool("clickhouse", factory.clickhouseClient != nil),
	)

	return factory, nil
}

// initializeClients connects to the external stores. Every failure is fatal
// in production; elsewhere the store is left nil and replaced later.
func (f *Factory) initializeClients() error {
	if f.config.MemoryStores {
		f.logger.Warn("MEMORY_STORES set, all state is kept in process")
		return nil
	}

	var initErrors []error

	// Redis
	if c, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = c
	}

	// ScyllaDB
	if c, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = c
	}

	// Kafka
	if p, err := client.NewKafkaProducer(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
	} else {
		f.kafkaProducer = p
	}

	// Elasticsearch
	if c, err := client.NewElasticsearchClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = c
	}

	// ClickHouse
	if c, err := client.NewClickHouseClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = c
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			f.logger.Warn("Service initialization warning, falling back to in-memory store", zap.Error(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewPhoneHasher(f.config.Hashing.PhonePepper)
	f.bucketingManager = bucketing.NewManager(f.config.Bucketing.UserBuckets)

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	f.encryptionManager = encryption.NewManager(kmsClient, f.config.KMS.KeyID)

	f.logger.Info("Managers initialized successfully",
		zap.Int("user_buckets", f.config.Bucketing.UserBuckets),
		zap.Bool("kms", kmsClient != nil),
	)
	return nil
}

func (f *Factory) initializeRepositories() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := f.config.StoreTimeout

	if f.redisClient != nil {
		f.blockStore = redisrepo.NewBlockStore(f.redisClient, timeout)
		f.rateWindows = redisrepo.NewRateWindowStore(f.redisClient, timeout)
	} else {
		f.blockStore = memory.NewBlockStore()
		f.rateWindows = memory.NewRateWindowStore()
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure scylla schema: %w", err)
		}
		f.failedAttempts = scylla.NewFailedAttemptRepository(f.scyllaClient)
		f.users = scylla.NewUserRepository(f.scyllaClient, f.hasher, f.bucketingManager, f.encryptionManager)
	} else {
		f.failedAttempts = memory.NewFailedAttemptRepository()
		f.users = memory.NewUserRepository(f.hasher.Hash)
	}

	if f.clickhouseClient != nil {
		repo := clickhouse.NewRequestLogRepository(f.clickhouseClient, timeout)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure clickhouse schema: %w", err)
		}
		f.requestLogs = repo
	} else {
		f.requestLogs = memory.NewRequestLogRepository()
	}

	return nil
}

func (f *Factory) initializeServices() error {
	cfg := f.config

	f.ledger = otp.NewLedger(f.clock, f.logger.Named("otp"), otp.Options{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		SweepEvery:  cfg.OTP.SweepInterval,
	})

	blocks := blocking.NewService(f.blockStore, f.clock, f.logger.Named("blocking"), blocking.Options{
		DailyCeiling:  cfg.Blocking.DailyCeiling,
		BlockDuration: cfg.Blocking.BlockDuration,
		Location:      cfg.Blocking.Location,
	})

	f.limiter = ratelimit.NewLimiter(f.rateWindows, f.clock, cfg.RateLimit.Window, cfg.RateLimit.Limit)
	f.phoneLimiter = ratelimit.NewPrefixedLimiter(f.rateWindows, f.clock, ratelimit.PhoneAuthPrefix,
		cfg.RateLimit.PhoneAuthWindow, cfg.RateLimit.PhoneAuthLimit)

	detector := security.NewDetector(
		f.requestLogs,
		f.failedAttempts,
		f.clock,
		f.logger.Named("security"),
		cfg.Suspicious.Lookback,
		cfg.Suspicious.MaxDevices,
	)

	issuer, err := token.NewIssuer(token.Config{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.TokenTTL,
		Clock:  f.clock,
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	v, err := validation.New()
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	var sender notify.Sender
	switch {
	case f.kafkaProducer != nil:
		sender = notify.NewKafkaSender(f.kafkaProducer, cfg.Kafka.SMSTopic, f.hasher, f.clock)
	case cfg.IsProduction():
		return errors.New("kafka producer is required for OTP delivery in production")
	default:
		sender = notify.NewLogSender(f.logger.Named("sms"))
	}

	var publishers []events.Publisher
	if f.kafkaProducer != nil {
		publishers = append(publishers, events.NewKafkaPublisher(f.kafkaProducer, cfg.Kafka.SecurityTopic))
	}
	if f.esClient != nil {
		f.eventIndex = events.NewElasticIndexer(f.esClient, cfg.Elasticsearch.SecurityIndex, f.bucketingManager)
		publishers = append(publishers, f.eventIndex)
	}

	var publisher events.Publisher = events.Nop{}
	workers := []service.Worker{f.ledger}
	if len(publishers) > 0 {
		f.asyncEvents = events.NewAsync(events.Multi(publishers), eventQueueSize, eventPublishBudget, f.logger.Named("events"))
		publisher = f.asyncEvents
		workers = append(workers, f.asyncEvents)
	}

	deps := service.Dependencies{
		Ledger:           f.ledger,
		Blocking:         blocks,
		Detector:         detector,
		Users:            f.users,
		Sender:           sender,
		Tokens:           issuer,
		Validator:        v,
		Hasher:           f.hasher,
		Events:           publisher,
		Clock:            f.clock,
		Logger:           f.logger.Named("auth"),
		DeliveryTimeout:  deliveryTimeout,
		RequireRecaptcha: cfg.Auth.RequireRecaptcha,
	}
	if f.eventIndex != nil {
		deps.EventSearch = f.eventIndex
	}

	f.serviceFactory = service.NewServiceFactory(deps, workers...)
	return nil
}

// HealthCheck pings every connected store in parallel. Stores replaced by
// in-memory fallbacks are reported as such and never fail the check.
func (f *Factory) HealthCheck(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	type pinger func(context.Context) error
	checks := map[string]pinger{}
	status := map[string]string{}

	add := func(name string, connected bool, ping pinger) {
		if !connected {
			status[name] = statusMemory
			return
		}
		checks[name] = ping
	}
	add("redis", f.redisClient != nil, func(ctx context.Context) error { return f.redisClient.HealthCheck(ctx) })
	add("scylla", f.scyllaClient != nil, func(ctx context.Context) error { return f.scyllaClient.HealthCheck(ctx) })
	add("kafka", f.kafkaProducer != nil, func(ctx context.Context) error { return f.kafkaProducer.HealthCheck(ctx) })
	add("elasticsearch", f.esClient != nil, func(ctx context.Context) error { return f.esClient.HealthCheck(ctx) })
	add("clickhouse", f.clickhouseClient != nil, func(ctx context.Context) error { return f.clickhouseClient.HealthCheck(ctx) })

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for name, ping := range checks {
		g.Go(func() error {
			err := ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				status[name] = "unhealthy: " + err.Error()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return nil
			}
			status[name] = statusHealthy
			return nil
		})
	}
	_ = g.Wait()

	return status, errors.Join(errs...)
}

// RunWorkers blocks running the ledger sweeper and the event publisher
// until ctx is cancelled.
func (f *Factory) RunWorkers(ctx context.Context) error {
	return f.serviceFactory.RunWorkers(ctx)
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", zap.Error(err))
			} else {
				f.logger.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			f.logger.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", zap.Error(err))
			} else {
				f.logger.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		_ = f.logger.Sync()
		f.logger.Info("Factory shutdown completed")
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

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) AuthService() *service.AuthService {
	return f.serviceFactory.AuthService()
}

func (f *Factory) RateLimiter() *ratelimit.Limiter {
	return f.limiter
}

// PhoneAuthLimiter is the per-IP window over OTP initiation.
func (f *Factory) PhoneAuthLimiter() *ratelimit.Limiter {
	return f.phoneLimiter
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

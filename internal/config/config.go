package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"phone-auth-service/internal/util"
)

type Config struct {
	Environment  string
	ServiceName  string
	StoreTimeout time.Duration
	// MemoryStores skips every external store and keeps all state in
	// process. Refused in production.
	MemoryStores bool

	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Logging       LoggingConfig
	Bucketing     BucketingConfig
	Hashing       HashingConfig

	Auth       AuthConfig
	OTP        OTPConfig
	Blocking   BlockingConfig
	RateLimit  RateLimitConfig
	Suspicious SuspiciousConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers       []string
	SMSTopic      string
	SecurityTopic string
}

type ElasticsearchConfig struct {
	URL           string
	Username      string
	Password      string
	SecurityIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type BucketingConfig struct {
	UserBuckets int
}

type HashingConfig struct {
	PhonePepper string
}

// AuthConfig covers credential issuance and the admin surface.
type AuthConfig struct {
	JWTSecret        string
	JWTIssuer        string
	TokenTTL         time.Duration
	AdminAPIKey      string
	RequireRecaptcha bool
}

type OTPConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
}

type BlockingConfig struct {
	DailyCeiling  int
	BlockDuration time.Duration
	TimeZone      string
	Location      *time.Location
}

// RateLimitConfig holds the per-IP window over every auth route and the
// stricter per-IP window over OTP initiation.
type RateLimitConfig struct {
	Window time.Duration
	Limit  int

	PhoneAuthWindow time.Duration
	PhoneAuthLimit  int
}

type SuspiciousConfig struct {
	Lookback   time.Duration
	MaxDevices int
}

var current *Config

// LoadConfig reads the process configuration from the environment. A .env
// file (or .env.<environment>) is loaded first when present; variables that
// are already set in the environment win.
func LoadConfig() *Config {
	env := util.GetEnv("APP_ENV", "development")
	for _, file := range []string{".env." + env, ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	cfg := &Config{
		Environment:  util.GetEnv("APP_ENV", "development"),
		ServiceName:  util.GetEnv("SERVICE_NAME", "phone-auth-service"),
		StoreTimeout: util.GetEnvDuration("STORE_TIMEOUT", 5*time.Second),
		MemoryStores: util.GetEnvBool("MEMORY_STORES", false),
		Server: ServerConfig{
			Port:           util.GetEnvInt("PORT", 8080),
			TLSPort:        util.GetEnvInt("TLS_PORT", 8443),
			EnableTLS:      util.GetEnvBool("ENABLE_TLS", false),
			AutoCert:       util.GetEnvBool("AUTO_CERT", false),
			Domain:         util.GetEnv("DOMAIN", "localhost"),
			CertFile:       util.GetEnv("TLS_CERT_FILE", ""),
			KeyFile:        util.GetEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    util.GetEnv("AUTO_CERT_DIR", "./certs"),
			Email:          util.GetEnv("AUTO_CERT_EMAIL", ""),
			ReadTimeout:    util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: util.GetEnvSlice("CORS_ALLOWED_ORIGINS", []string{"https://*"}),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    util.GetEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "phone_auth"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			SMSTopic:      util.GetEnv("KAFKA_SMS_TOPIC", "sms-otp-delivery"),
			SecurityTopic: util.GetEnv("KAFKA_SECURITY_TOPIC", "auth-security-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:           util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:      util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:      util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			SecurityIndex: util.GetEnv("ELASTICSEARCH_SECURITY_INDEX", "auth-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "phone_auth"),
		},
		KMS: KMSConfig{
			Enabled: util.GetEnvBool("KMS_ENABLED", false),
			KeyID:   util.GetEnv("KMS_KEY_ID", ""),
			Region:  util.GetEnv("AWS_REGION", "us-east-1"),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Bucketing: BucketingConfig{
			UserBuckets: util.GetEnvInt("USER_BUCKETS", 64),
		},
		Hashing: HashingConfig{
			PhonePepper: util.GetEnv("PHONE_HASH_PEPPER", "dev-phone-pepper"),
		},
		Auth: AuthConfig{
			JWTSecret:        util.GetEnv("JWT_SECRET", ""),
			JWTIssuer:        util.GetEnv("JWT_ISSUER", "phone-auth-service"),
			TokenTTL:         util.GetEnvDuration("JWT_TTL", 7*24*time.Hour),
			AdminAPIKey:      util.GetEnv("ADMIN_API_KEY", ""),
			RequireRecaptcha: util.GetEnvBool("REQUIRE_RECAPTCHA", env == "production"),
		},
		OTP: OTPConfig{
			TTL:           util.GetEnvDuration("OTP_TTL", 5*time.Minute),
			MaxAttempts:   util.GetEnvInt("OTP_MAX_ATTEMPTS", 3),
			SweepInterval: util.GetEnvDuration("OTP_SWEEP_INTERVAL", 5*time.Minute),
		},
		Blocking: BlockingConfig{
			DailyCeiling:  util.GetEnvInt("BLOCK_DAILY_CEILING", 7),
			BlockDuration: util.GetEnvDuration("BLOCK_DURATION", 24*time.Hour),
			TimeZone:      util.GetEnv("BLOCK_TIMEZONE", "Local"),
		},
		RateLimit: RateLimitConfig{
			Window: util.GetEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			Limit:  util.GetEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),

			PhoneAuthWindow: util.GetEnvDuration("PHONE_AUTH_RATE_LIMIT_WINDOW", 24*time.Hour),
			PhoneAuthLimit:  util.GetEnvInt("PHONE_AUTH_RATE_LIMIT_MAX_REQUESTS", 5),
		},
		Suspicious: SuspiciousConfig{
			Lookback:   util.GetEnvDuration("SUSPICIOUS_LOOKBACK", 24*time.Hour),
			MaxDevices: util.GetEnvInt("SUSPICIOUS_MAX_DEVICES", 5),
		},
	}

	loc, err := time.LoadLocation(cfg.Blocking.TimeZone)
	if err != nil {
		util.Warn("Unknown block time zone, falling back to local time",
			util.String("time_zone", cfg.Blocking.TimeZone),
			util.ErrorField(err))
		loc = time.Local
	}
	cfg.Blocking.Location = loc

	current = cfg
	return cfg
}

// Get returns the last loaded configuration, loading it on first use.
func Get() *Config {
	if current == nil {
		return LoadConfig()
	}
	return current
}

// Validate reports configuration that would make the service unsafe to run.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.IsProduction() && c.Auth.AdminAPIKey == "" {
		errs = append(errs, errors.New("ADMIN_API_KEY is required in production"))
	}
	if c.IsProduction() && c.Hashing.PhonePepper == "dev-phone-pepper" {
		errs = append(errs, errors.New("PHONE_HASH_PEPPER must be set in production"))
	}
	if c.IsProduction() && c.MemoryStores {
		errs = append(errs, errors.New("MEMORY_STORES cannot be used in production"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if c.OTP.TTL <= 0 || c.OTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("OTP_TTL and OTP_MAX_ATTEMPTS must be positive"))
	}
	if c.Blocking.DailyCeiling <= 0 {
		errs = append(errs, errors.New("BLOCK_DAILY_CEILING must be positive"))
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window and max requests must be positive"))
	}
	if c.RateLimit.PhoneAuthLimit <= 0 || c.RateLimit.PhoneAuthWindow <= 0 {
		errs = append(errs, errors.New("phone auth rate limit window and max requests must be positive"))
	}
	if c.Bucketing.UserBuckets <= 0 {
		errs = append(errs, errors.New("USER_BUCKETS must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"phone-auth-service/internal/config"
	"phone-auth-service/internal/util"
)

// Statements are the CQL strings used by the repositories. gocql prepares
// and caches each one on first use.
type Statements struct {
	GetPhoneMapping    string
	CreatePhoneMapping string
	CreateUser         string
	GetUserByID        string
	MarkUserVerified   string

	IncrementFailedAttempts string
	AppendFailedAttempt     string
	GetFailedAttemptCount   string
	GetFailedAttempt        string
}

var statements = Statements{
	GetPhoneMapping: `SELECT user_bucket, user_id FROM phone_to_user WHERE phone_hash = ?`,
	CreatePhoneMapping: `INSERT INTO phone_to_user (phone_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,
	CreateUser: `INSERT INTO users (
        user_bucket, user_id, phone_hash, phone_encrypted, phone_key_id,
        role, is_verified, created_at, updated_at, last_login
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	GetUserByID: `SELECT user_bucket, user_id, phone_hash, phone_encrypted, phone_key_id,
        role, is_verified, created_at, updated_at, last_login
        FROM users WHERE user_bucket = ? AND user_id = ?`,
	MarkUserVerified: `UPDATE users SET is_verified = true, last_login = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`,

	IncrementFailedAttempts: `UPDATE failed_attempt_counters SET attempts = attempts + 1
        WHERE identifier = ? AND kind = ?`,
	AppendFailedAttempt: `UPDATE failed_attempts SET last_attempt = ?, reasons = reasons + ?
        WHERE identifier = ? AND kind = ?`,
	GetFailedAttemptCount: `SELECT attempts FROM failed_attempt_counters WHERE identifier = ? AND kind = ?`,
	GetFailedAttempt:      `SELECT last_attempt, reasons FROM failed_attempts WHERE identifier = ? AND kind = ?`,
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS phone_to_user (
        phone_hash text PRIMARY KEY,
        user_bucket int,
        user_id text,
        created_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS users (
        user_bucket int,
        user_id text,
        phone_hash text,
        phone_encrypted blob,
        phone_key_id text,
        role text,
        is_verified boolean,
        created_at timestamp,
        updated_at timestamp,
        last_login timestamp,
        PRIMARY KEY ((user_bucket), user_id)
    )`,
	`CREATE TABLE IF NOT EXISTS failed_attempt_counters (
        identifier text,
        kind text,
        attempts counter,
        PRIMARY KEY ((identifier, kind))
    )`,
	`CREATE TABLE IF NOT EXISTS failed_attempts (
        identifier text,
        kind text,
        last_attempt timestamp,
        reasons list<text>,
        PRIMARY KEY ((identifier, kind))
    )`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	Statements Statements
	timeout    time.Duration
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session:    session,
		Statements: statements,
		timeout:    cfg.StoreTimeout,
	}, nil
}

// EnsureSchema creates the tables the repositories use. The keyspace must
// already exist.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.Int("tables", len(schema)))
	return nil
}

// Query builds a query bound to ctx.
func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

// WithTimeout bounds ctx by the configured store timeout.
func (s *ScyllaClient) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

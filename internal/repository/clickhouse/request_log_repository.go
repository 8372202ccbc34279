package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"phone-auth-service/internal/models"
	"phone-auth-service/internal/util"
)

const (
	createRequestLogTable = `
CREATE TABLE IF NOT EXISTS request_log (
    ts           DateTime64(3, 'UTC'),
    ip           String,
    endpoint     LowCardinality(String),
    phone_number String,
    user_agent   String
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (phone_number, ts)
TTL toDateTime(ts) + INTERVAL 7 DAY`

	insertRequestLog = `INSERT INTO request_log (ts, ip, endpoint, phone_number, user_agent)`

	countDistinctAgents = `
SELECT uniqExact(user_agent)
FROM request_log
WHERE phone_number = ? AND ts >= ? AND user_agent != ''`
)

// Conn is the part of the ClickHouse client the repository needs.
type Conn interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

type RequestLogRepository struct {
	conn    Conn
	timeout time.Duration
}

func NewRequestLogRepository(conn Conn, timeout time.Duration) *RequestLogRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RequestLogRepository{conn: conn, timeout: timeout}
}

// EnsureSchema creates the request_log table when missing.
func (r *RequestLogRepository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.conn.Exec(ctx, createRequestLogTable); err != nil {
		return fmt.Errorf("failed to create request_log table: %w", err)
	}
	return nil
}

func (r *RequestLogRepository) Append(ctx context.Context, entry *models.RequestLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := []interface{}{
		entry.Timestamp.UTC(),
		entry.IPAddress,
		entry.Endpoint,
		entry.PhoneNumber,
		entry.UserAgent,
	}
	if err := r.conn.BatchInsert(ctx, insertRequestLog, [][]interface{}{row}); err != nil {
		util.Error("Failed to append request log entry",
			zap.String("endpoint", entry.Endpoint), zap.Error(err))
		return fmt.Errorf("failed to append request log entry: %w", err)
	}
	return nil
}

func (r *RequestLogRepository) CountDistinctUserAgents(ctx context.Context, phone string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n uint64
	if err := r.conn.QueryRow(ctx, countDistinctAgents, phone, since.UTC()).Scan(&n); err != nil {
		util.Error("Failed to count distinct user agents", util.Phone("phone", phone), zap.Error(err))
		return 0, fmt.Errorf("failed to count distinct user agents: %w", err)
	}
	return int(n), nil
}

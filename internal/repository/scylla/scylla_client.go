package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"enquiry-service/internal/config"
	"enquiry-service/internal/util"
)

// Statements holds the CQL used by the OTP store. gocql queries are not
// safe for concurrent reuse, so a fresh query is built per call.
type Statements struct {
	InsertOTP  string
	SelectOTP  string
	ConsumeOTP string
}

var otpStatements = Statements{
	InsertOTP: `INSERT INTO otp_codes (phone, code_key, expires_at, created_at)
        VALUES (?, ?, ?, ?) USING TTL ?`,
	SelectOTP: `SELECT expires_at, created_at FROM otp_codes
        WHERE phone = ? AND code_key = ?`,
	ConsumeOTP: `DELETE FROM otp_codes WHERE phone = ? AND code_key = ?
        IF expires_at > ?`,
}

const createOTPTable = `CREATE TABLE IF NOT EXISTS otp_codes (
    phone text,
    code_key text,
    expires_at timestamp,
    created_at timestamp,
    PRIMARY KEY ((phone), code_key)
) WITH default_time_to_live = 86400`

type ScyllaClient struct {
	Session    *gocql.Session
	config     *config.ScyllaConfig
	Statements Statements
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.TLSCAFile != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.TLSCAFile,
			CertPath:               scyllaConfig.TLSCertFile,
			KeyPath:                scyllaConfig.TLSKeyFile,
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

	client := &ScyllaClient{
		Session:    session,
		config:     &scyllaConfig,
		Statements: otpStatements,
	}

	if err := client.EnsureSchema(context.Background()); err != nil {
		session.Close()
		return nil, err
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema creates the OTP table when it does not exist yet
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	if err := s.Session.Query(createOTPTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create otp_codes table: %w", err)
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
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

// ExecuteWithRetry retries idempotent writes with a linear backoff
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if lastErr = query.Exec(); lastErr == nil {
			return nil
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}

// Exec runs an idempotent write, retrying transient failures
func (s *ScyllaClient) Exec(ctx context.Context, stmt string, values ...interface{}) error {
	return s.ExecuteWithRetry(ctx, s.Query(ctx, stmt, values...), 2)
}

// Scan reads a single row into dest
func (s *ScyllaClient) Scan(ctx context.Context, stmt string, values []interface{}, dest ...interface{}) error {
	return s.Query(ctx, stmt, values...).Scan(dest...)
}

// ExecCAS runs a lightweight transaction and reports whether it applied
func (s *ScyllaClient) ExecCAS(ctx context.Context, stmt string, values ...interface{}) (bool, error) {
	existing := make(map[string]interface{})
	return s.Query(ctx, stmt, values...).MapScanCAS(existing)
}

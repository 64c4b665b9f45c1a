package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"email-auth-service/internal/config"
	"email-auth-service/internal/util"
)

// Statements used by the account repository. Two tables: the account
// records partitioned by (account_bucket, account_id), and the
// email_to_account pointer table that carries the uniqueness constraint.
const (
	stmtCreateAccount = `
        INSERT INTO accounts (
            account_bucket, account_id, name, email, password_hash,
            otp_code, otp_expires_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// LWT: the storage layer, not the application, enforces one account
	// per normalized email.
	stmtCreateEmailPointer = `
        INSERT INTO email_to_account (email, account_bucket, account_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`

	stmtGetEmailPointer = `
        SELECT account_bucket, account_id FROM email_to_account WHERE email = ?`

	stmtDeleteEmailPointer = `
        DELETE FROM email_to_account WHERE email = ?`

	stmtGetAccount = `
        SELECT account_bucket, account_id, name, email, password_hash,
            otp_code, otp_expires_at, created_at, updated_at
        FROM accounts WHERE account_bucket = ? AND account_id = ?`

	stmtUpdateAccount = `
        UPDATE accounts SET name = ?, email = ?, password_hash = ?,
            otp_code = ?, otp_expires_at = ?, updated_at = ?
        WHERE account_bucket = ? AND account_id = ?`
)

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
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
		Session: session,
		config:  &scyllaConfig,
	}, nil
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
	return nil
}

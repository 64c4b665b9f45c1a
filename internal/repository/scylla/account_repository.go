package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"email-auth-service/internal/models"
	"email-auth-service/internal/util"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email already registered")
)

// AccountRepository is the durable keyed store for account records.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	HealthCheck(ctx context.Context) error
}

type accountRepository struct {
	client *ScyllaClient
}

func NewAccountRepository(client *ScyllaClient, logger *zap.Logger) AccountRepository {
	return &accountRepository{client: client}
}

// CreateAccount inserts a new account. The email_to_account pointer is
// written first with IF NOT EXISTS; a lost LWT means another account
// already owns the email, surfaced as ErrEmailTaken. Concurrent
// registrations with the same email race only on this LWT.
func (r *accountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	applied, err := r.client.Query(ctx, stmtCreateEmailPointer,
		account.Email, account.AccountBucket, account.AccountID, account.CreatedAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to reserve email pointer",
			zap.String("email", account.Email),
			zap.Error(err))
		return fmt.Errorf("failed to reserve email: %w", err)
	}
	if !applied {
		return ErrEmailTaken
	}

	if err := r.client.Query(ctx, stmtCreateAccount,
		account.AccountBucket, account.AccountID, account.Name, account.Email,
		account.PasswordHash, account.OTPCode, account.OTPExpiresAt,
		account.CreatedAt, account.UpdatedAt,
	).Exec(); err != nil {
		// Roll the pointer back so the email is not left reserved by a
		// record that was never written.
		if delErr := r.client.Query(ctx, stmtDeleteEmailPointer, account.Email).Exec(); delErr != nil {
			util.Error("Failed to release email pointer after insert failure",
				zap.String("email", account.Email),
				zap.Error(delErr))
		}
		util.Error("Failed to create account",
			zap.String("account_id", account.AccountID),
			zap.String("email", account.Email),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.Int("account_bucket", account.AccountBucket))

	return nil
}

func (r *accountRepository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var bucket int
	var accountID string

	err := r.client.Query(ctx, stmtGetEmailPointer, email).Scan(&bucket, &accountID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to resolve email pointer",
			zap.String("email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve email: %w", err)
	}

	account := &models.Account{}
	var otpCode *string
	var otpExpiresAt *time.Time

	err = r.client.Query(ctx, stmtGetAccount, bucket, accountID).Scan(
		&account.AccountBucket, &account.AccountID, &account.Name, &account.Email,
		&account.PasswordHash, &otpCode, &otpExpiresAt,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			// Pointer without a record: a failed registration mid-rollback.
			return nil, ErrAccountNotFound
		}
		util.Error("Failed to get account",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.OTPCode = otpCode
	account.OTPExpiresAt = otpExpiresAt

	return account, nil
}

// UpdateAccount persists a full-record update of mutable columns.
func (r *accountRepository) UpdateAccount(ctx context.Context, account *models.Account) error {
	if err := r.client.Query(ctx, stmtUpdateAccount,
		account.Name, account.Email, account.PasswordHash,
		account.OTPCode, account.OTPExpiresAt, account.UpdatedAt,
		account.AccountBucket, account.AccountID,
	).Exec(); err != nil {
		util.Error("Failed to update account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to update account: %w", err)
	}

	util.Debug("Account updated",
		zap.String("account_id", account.AccountID))

	return nil
}

func (r *accountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

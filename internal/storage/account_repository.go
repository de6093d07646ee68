package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// ErrAccountNotFound is returned when no credit account exists for an id
var ErrAccountNotFound = errors.New("credit account not found")

// ErrAlreadyRefunded is returned when a job's reservation was already returned
var ErrAlreadyRefunded = errors.New("job already refunded")

// DebitRequest is one deduction against an account
type DebitRequest struct {
	AccountID string
	Amount    int
	Type      types.OperationType
	Details   map[string]interface{}
	JobID     *string
	Meta      types.RequestMeta
}

// CreditRequest adds credits to an account. A refund carrying a JobID is
// applied at most once per job.
type CreditRequest struct {
	AccountID string
	Amount    int
	Type      types.OperationType
	Details   map[string]interface{}
	JobID     *string
	Meta      types.RequestMeta
}

// AccountRepository persists credit accounts and the append-only ledger.
// Every balance change and its ledger row are written in one transaction
// while the account row is locked.
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	account_id, plan, subscription_status, credits_remaining, credits_total,
	daily_usage, daily_limit, last_daily_reset, timezone, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.CreditAccount, error) {
	var a models.CreditAccount
	err := row.Scan(
		&a.AccountID, &a.Plan, &a.SubscriptionStatus, &a.CreditsRemaining, &a.CreditsTotal,
		&a.DailyUsage, &a.DailyLimit, &a.LastDailyReset, &a.Timezone, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan credit account: %w", err)
	}
	return &a, nil
}

// Get returns the account for accountID
func (r *AccountRepository) Get(ctx context.Context, accountID string) (*models.CreditAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM credit_accounts WHERE account_id = $1`, accountColumns)
	return scanAccount(r.db.Pool().QueryRow(ctx, query, accountID))
}

// Ensure inserts the account if it does not exist and returns the stored row
func (r *AccountRepository) Ensure(ctx context.Context, account *models.CreditAccount) (*models.CreditAccount, error) {
	var stored *models.CreditAccount
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO credit_accounts (
				account_id, plan, subscription_status, credits_remaining, credits_total,
				daily_usage, daily_limit, last_daily_reset, timezone, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $4, 0, $5, $6, $7, $6, $6)
			ON CONFLICT (account_id) DO NOTHING
		`,
			account.AccountID, account.Plan, account.SubscriptionStatus, account.CreditsRemaining,
			account.DailyLimit, account.CreatedAt, account.Timezone,
		)
		if err != nil {
			return fmt.Errorf("failed to ensure credit account: %w", err)
		}

		if tag.RowsAffected() == 1 && account.CreditsRemaining > 0 {
			if err := insertTransaction(ctx, tx, &models.CreditTransaction{
				AccountID:     account.AccountID,
				Type:          types.OpMonthlyGrant,
				Amount:        account.CreditsRemaining,
				CreditsBefore: 0,
				CreditsAfter:  account.CreditsRemaining,
				Details:       map[string]interface{}{"plan": account.Plan},
				CreatedAt:     account.CreatedAt,
			}); err != nil {
				return err
			}
		}

		query := fmt.Sprintf(`SELECT %s FROM credit_accounts WHERE account_id = $1`, accountColumns)
		stored, err = scanAccount(tx.QueryRow(ctx, query, account.AccountID))
		return err
	})
	return stored, err
}

func lockAccount(ctx context.Context, tx pgx.Tx, accountID string) (*models.CreditAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM credit_accounts WHERE account_id = $1 FOR UPDATE`, accountColumns)
	return scanAccount(tx.QueryRow(ctx, query, accountID))
}

func saveBalance(ctx context.Context, tx pgx.Tx, a *models.CreditAccount) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_accounts
		SET credits_remaining = $2, credits_total = $3, daily_usage = $4,
			last_daily_reset = $5, updated_at = $6
		WHERE account_id = $1
	`, a.AccountID, a.CreditsRemaining, a.CreditsTotal, a.DailyUsage, a.LastDailyReset, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update credit account: %w", err)
	}
	return nil
}

// Debit applies req atomically. A refused debit is not an error; it is
// reported through the outcome and leaves the account untouched apart from
// a lazy daily reset.
func (r *AccountRepository) Debit(ctx context.Context, req DebitRequest, now time.Time) (models.DebitOutcome, error) {
	var out models.DebitOutcome
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		account, err := lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}

		reset := account.ResetDailyIfNeeded(now)
		out = account.ApplyDebit(req.Amount, now)
		if !out.Success {
			if reset {
				return saveBalance(ctx, tx, account)
			}
			return nil
		}

		if err := saveBalance(ctx, tx, account); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, &models.CreditTransaction{
			AccountID:     req.AccountID,
			Type:          req.Type,
			Amount:        -req.Amount,
			CreditsBefore: out.CreditsBefore,
			CreditsAfter:  out.CreditsAfter,
			Details:       req.Details,
			JobID:         req.JobID,
			IP:            req.Meta.IP,
			UserAgent:     req.Meta.UserAgent,
			CreatedAt:     now,
		})
	})
	return out, err
}

// Credit applies req atomically and returns the balance before and after
func (r *AccountRepository) Credit(ctx context.Context, req CreditRequest, now time.Time) (before, after int, err error) {
	err = r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if req.Type == types.OpRefund && req.JobID != nil {
			tag, err := tx.Exec(ctx,
				`UPDATE scrape_jobs SET refunded = TRUE WHERE id = $1 AND refunded = FALSE`, *req.JobID)
			if err != nil {
				return fmt.Errorf("failed to claim job refund: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrAlreadyRefunded
			}
		}

		account, err := lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		before, after = account.ApplyCredit(req.Amount, req.Type, now)
		if err := saveBalance(ctx, tx, account); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, &models.CreditTransaction{
			AccountID:     req.AccountID,
			Type:          req.Type,
			Amount:        req.Amount,
			CreditsBefore: before,
			CreditsAfter:  after,
			Details:       req.Details,
			JobID:         req.JobID,
			IP:            req.Meta.IP,
			UserAgent:     req.Meta.UserAgent,
			CreatedAt:     now,
		})
	})
	return before, after, err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	var details []byte
	if t.Details != nil {
		data, err := json.Marshal(t.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal transaction details: %w", err)
		}
		details = data
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (
			id, account_id, operation_type, amount, credits_before, credits_after,
			details, job_id, ip, user_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)
	`,
		t.ID, t.AccountID, t.Type, t.Amount, t.CreditsBefore, t.CreditsAfter,
		details, t.JobID, t.IP, t.UserAgent, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return nil
}

// Transactions returns the newest ledger rows for an account
func (r *AccountRepository) Transactions(ctx context.Context, accountID string, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, account_id, operation_type, amount, credits_before, credits_after,
			details, job_id::text, COALESCE(ip, ''), COALESCE(user_agent, ''), created_at
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		var details []byte
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.CreditsBefore, &t.CreditsAfter,
			&details, &t.JobID, &t.IP, &t.UserAgent, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &t.Details); err != nil {
				return nil, fmt.Errorf("failed to decode transaction details: %w", err)
			}
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credit transactions: %w", err)
	}
	return out, nil
}

// LedgerSum returns the signed sum of every ledger row for an account
func (r *AccountRepository) LedgerSum(ctx context.Context, accountID string) (int, error) {
	var sum int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = $1`, accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum credit transactions: %w", err)
	}
	return sum, nil
}

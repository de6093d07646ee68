package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/storage"
	"github.com/lead-scanner/internal/telemetry"
	"github.com/lead-scanner/internal/types"
)

// AccountStore persists accounts and applies balance changes atomically
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*models.CreditAccount, error)
	Ensure(ctx context.Context, account *models.CreditAccount) (*models.CreditAccount, error)
	Debit(ctx context.Context, req storage.DebitRequest, now time.Time) (models.DebitOutcome, error)
	Credit(ctx context.Context, req storage.CreditRequest, now time.Time) (before, after int, err error)
	Transactions(ctx context.Context, accountID string, limit int) ([]*models.CreditTransaction, error)
	LedgerSum(ctx context.Context, accountID string) (int, error)
}

// DeductInput is one charge against an account
type DeductInput struct {
	AccountID string
	Amount    int
	Type      types.OperationType
	Details   map[string]interface{}
	JobID     *string
	Meta      types.RequestMeta
}

// AddInput is a purchase, grant or refund
type AddInput struct {
	AccountID string
	Amount    int
	Type      types.OperationType
	Details   map[string]interface{}
	JobID     *string
	Meta      types.RequestMeta
}

// AddResult is the balance change of an Add
type AddResult struct {
	CreditsBefore int `json:"creditsBefore"`
	CreditsAfter  int `json:"creditsAfter"`
}

// Reconciliation compares an account balance with its ledger
type Reconciliation struct {
	AccountID        string `json:"accountId"`
	CreditsRemaining int    `json:"creditsRemaining"`
	LedgerSum        int    `json:"ledgerSum"`
	Drift            int    `json:"drift"`
}

// CreditLedger meters usage against prepaid credit balances
type CreditLedger struct {
	store AccountStore
	now   types.Clock
}

// NewCreditLedger creates a ledger over store
func NewCreditLedger(store AccountStore, now types.Clock) *CreditLedger {
	if now == nil {
		now = time.Now
	}
	return &CreditLedger{store: store, now: now}
}

// Deduct charges in.Amount. A refusal returns the outcome together with an
// economic error carrying the usage figures.
func (l *CreditLedger) Deduct(ctx context.Context, in DeductInput) (*models.DebitOutcome, error) {
	if in.Amount <= 0 {
		return nil, apperrors.NewInvalidParameterError("amount", "must be positive")
	}
	if in.Type.IsCredit() {
		return nil, apperrors.NewInvalidParameterError("type", fmt.Sprintf("%s is not a debit operation", in.Type))
	}

	out, err := l.store.Debit(ctx, storage.DebitRequest{
		AccountID: in.AccountID,
		Amount:    in.Amount,
		Type:      in.Type,
		Details:   in.Details,
		JobID:     in.JobID,
		Meta:      in.Meta,
	}, l.now())
	if err != nil {
		telemetry.RecordCreditOperation(string(in.Type), "error", 0)
		return nil, l.storeError("debit credits", in.AccountID, err)
	}

	logger := logging.FromContext(ctx).WithAccount(in.AccountID).WithFields(map[string]interface{}{
		"type":   in.Type,
		"amount": in.Amount,
	})

	switch out.Refusal {
	case models.RefusalInsufficientCredits:
		telemetry.RecordCreditOperation(string(in.Type), "insufficient_credits", 0)
		logger.WithField("remaining", out.CreditsBefore).Info("Debit refused: insufficient credits")
		return &out, apperrors.NewInsufficientCreditsError(in.Amount, out.CreditsBefore)
	case models.RefusalDailyLimitExceeded:
		telemetry.RecordCreditOperation(string(in.Type), "daily_limit", 0)
		logger.WithField("dailyUsage", out.DailyUsage).Info("Debit refused: daily limit")
		return &out, apperrors.NewDailyLimitExceededError(out.DailyUsage, out.DailyLimit, in.Amount)
	}

	telemetry.RecordCreditOperation(string(in.Type), "success", in.Amount)
	logger.WithField("creditsAfter", out.CreditsAfter).Debug("Credits deducted")
	return &out, nil
}

// Add credits an account
func (l *CreditLedger) Add(ctx context.Context, in AddInput) (*AddResult, error) {
	if in.Amount <= 0 {
		return nil, apperrors.NewInvalidParameterError("amount", "must be positive")
	}
	if !in.Type.IsCredit() {
		return nil, apperrors.NewInvalidParameterError("type", fmt.Sprintf("%s is not a credit operation", in.Type))
	}

	before, after, err := l.store.Credit(ctx, storage.CreditRequest{
		AccountID: in.AccountID,
		Amount:    in.Amount,
		Type:      in.Type,
		Details:   in.Details,
		JobID:     in.JobID,
		Meta:      in.Meta,
	}, l.now())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyRefunded) {
			return nil, err
		}
		telemetry.RecordCreditOperation(string(in.Type), "error", 0)
		return nil, l.storeError("add credits", in.AccountID, err)
	}

	telemetry.RecordCreditOperation(string(in.Type), "success", in.Amount)
	logging.FromContext(ctx).WithAccount(in.AccountID).WithFields(map[string]interface{}{
		"type":         in.Type,
		"amount":       in.Amount,
		"creditsAfter": after,
	}).Info("Credits added")
	return &AddResult{CreditsBefore: before, CreditsAfter: after}, nil
}

// RefundJob returns a job's reserved credits. A job is refunded at most once;
// a repeated call is a no-op.
func (l *CreditLedger) RefundJob(ctx context.Context, job *models.ScrapeJob, reason string) error {
	if job.CreditsReserved <= 0 {
		return nil
	}
	jobID := job.ID
	_, err := l.Add(ctx, AddInput{
		AccountID: job.AccountID,
		Amount:    job.CreditsReserved,
		Type:      types.OpRefund,
		JobID:     &jobID,
		Details: map[string]interface{}{
			"reason":        reason,
			"operationType": job.OperationType,
		},
	})
	if errors.Is(err, storage.ErrAlreadyRefunded) {
		logging.FromContext(ctx).WithJob(job.ID).Debug("Job already refunded")
		return nil
	}
	return err
}

// Balance returns the account with its daily usage reset when a new day began
func (l *CreditLedger) Balance(ctx context.Context, accountID string) (*models.CreditAccount, error) {
	account, err := l.store.Get(ctx, accountID)
	if err != nil {
		return nil, l.storeError("get account", accountID, err)
	}
	account.ResetDailyIfNeeded(l.now())
	return account, nil
}

// History returns the newest ledger rows
func (l *CreditLedger) History(ctx context.Context, accountID string, limit int) ([]*models.CreditTransaction, error) {
	txs, err := l.store.Transactions(ctx, accountID, limit)
	if err != nil {
		return nil, l.storeError("list transactions", accountID, err)
	}
	return txs, nil
}

// EnsureAccount creates the account with the plan's allotment if missing
func (l *CreditLedger) EnsureAccount(ctx context.Context, accountID string, plan types.Plan, timezone string) (*models.CreditAccount, error) {
	if accountID == "" {
		return nil, apperrors.NewInvalidParameterError("accountId", "is required")
	}
	if plan == "" {
		plan = types.PlanFree
	}
	limits, ok := LimitsFor(plan)
	if !ok {
		return nil, apperrors.NewInvalidParameterError("plan", fmt.Sprintf("unknown plan %q", plan))
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, apperrors.NewInvalidParameterError("timezone", err.Error())
	}

	now := l.now()
	status := types.SubscriptionActive
	if plan == types.PlanFree {
		status = types.SubscriptionNone
	}
	account, err := l.store.Ensure(ctx, &models.CreditAccount{
		AccountID:          accountID,
		Plan:               plan,
		SubscriptionStatus: status,
		CreditsRemaining:   limits.MonthlyCredits,
		CreditsTotal:       limits.MonthlyCredits,
		DailyLimit:         limits.DailyLimit,
		LastDailyReset:     now,
		Timezone:           timezone,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return nil, l.storeError("ensure account", accountID, err)
	}
	return account, nil
}

// Reconcile compares the stored balance with the sum of ledger rows
func (l *CreditLedger) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	account, err := l.store.Get(ctx, accountID)
	if err != nil {
		return nil, l.storeError("get account", accountID, err)
	}
	sum, err := l.store.LedgerSum(ctx, accountID)
	if err != nil {
		return nil, l.storeError("sum ledger", accountID, err)
	}

	rec := &Reconciliation{
		AccountID:        accountID,
		CreditsRemaining: account.CreditsRemaining,
		LedgerSum:        sum,
		Drift:            account.CreditsRemaining - sum,
	}
	if rec.Drift != 0 {
		logging.FromContext(ctx).WithAccount(accountID).WithField("drift", rec.Drift).Warn("Ledger drift detected")
	}
	return rec, nil
}

func (l *CreditLedger) storeError(op, accountID string, err error) error {
	if errors.Is(err, storage.ErrAccountNotFound) {
		return apperrors.NewAccountNotFoundError(accountID)
	}
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return err
	}
	return apperrors.NewDatabaseError(op, err)
}

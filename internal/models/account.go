package models

import (
	"time"

	"github.com/lead-scanner/internal/types"
)

// CreditAccount holds an account's balance and daily usage
type CreditAccount struct {
	AccountID          string                   `json:"accountId" db:"account_id"`
	Plan               types.Plan               `json:"plan" db:"plan"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscriptionStatus" db:"subscription_status"`
	CreditsRemaining   int                      `json:"creditsRemaining" db:"credits_remaining"`
	CreditsTotal       int                      `json:"creditsTotal" db:"credits_total"`
	DailyUsage         int                      `json:"dailyUsage" db:"daily_usage"`
	DailyLimit         int                      `json:"dailyLimit" db:"daily_limit"`
	LastDailyReset     time.Time                `json:"lastDailyReset" db:"last_daily_reset"`
	Timezone           string                   `json:"timezone" db:"timezone"`
	CreatedAt          time.Time                `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time                `json:"updatedAt" db:"updated_at"`
}

// DebitRefusal names why a debit was refused
type DebitRefusal string

const (
	RefusalNone                DebitRefusal = ""
	RefusalInsufficientCredits DebitRefusal = "INSUFFICIENT_CREDITS"
	RefusalDailyLimitExceeded  DebitRefusal = "DAILY_LIMIT_EXCEEDED"
)

// DebitOutcome is the result of ApplyDebit
type DebitOutcome struct {
	Success       bool         `json:"success"`
	Refusal       DebitRefusal `json:"errorCode,omitempty"`
	CreditsBefore int          `json:"creditsBefore"`
	CreditsAfter  int          `json:"creditsAfter"`
	DailyUsage    int          `json:"dailyUsage"`
	DailyLimit    int          `json:"dailyLimit"`
}

// location resolves the account timezone, falling back to UTC
func (a *CreditAccount) location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResetDailyIfNeeded zeroes daily usage when the last reset was before today
// in the account's timezone. It reports whether a reset happened.
func (a *CreditAccount) ResetDailyIfNeeded(now time.Time) bool {
	loc := a.location()
	ny, nm, nd := now.In(loc).Date()
	ly, lm, ld := a.LastDailyReset.In(loc).Date()
	if ny == ly && nm == lm && nd == ld {
		return false
	}
	a.DailyUsage = 0
	a.LastDailyReset = now
	return true
}

// ApplyDebit evaluates and, on success, applies a debit of amount. Callers
// run it on a row they hold exclusively (row lock or mutex).
func (a *CreditAccount) ApplyDebit(amount int, now time.Time) DebitOutcome {
	a.ResetDailyIfNeeded(now)

	out := DebitOutcome{
		CreditsBefore: a.CreditsRemaining,
		CreditsAfter:  a.CreditsRemaining,
		DailyUsage:    a.DailyUsage,
		DailyLimit:    a.DailyLimit,
	}
	if a.CreditsRemaining < amount {
		out.Refusal = RefusalInsufficientCredits
		return out
	}
	if a.DailyLimit > 0 && a.DailyUsage+amount > a.DailyLimit {
		out.Refusal = RefusalDailyLimitExceeded
		return out
	}

	a.CreditsRemaining -= amount
	a.DailyUsage += amount
	a.UpdatedAt = now

	out.Success = true
	out.CreditsAfter = a.CreditsRemaining
	out.DailyUsage = a.DailyUsage
	return out
}

// ApplyCredit adds amount. Purchases and grants also grow CreditsTotal;
// refunds do not.
func (a *CreditAccount) ApplyCredit(amount int, op types.OperationType, now time.Time) (before, after int) {
	before = a.CreditsRemaining
	a.CreditsRemaining += amount
	if op != types.OpRefund {
		a.CreditsTotal += amount
	}
	a.UpdatedAt = now
	return before, a.CreditsRemaining
}

// CreditTransaction is one append-only ledger row. Amount is negative for debits.
type CreditTransaction struct {
	ID            string                 `json:"id" db:"id"`
	AccountID     string                 `json:"accountId" db:"account_id"`
	Type          types.OperationType    `json:"type" db:"operation_type"`
	Amount        int                    `json:"amount" db:"amount"`
	CreditsBefore int                    `json:"creditsBefore" db:"credits_before"`
	CreditsAfter  int                    `json:"creditsAfter" db:"credits_after"`
	Details       map[string]interface{} `json:"details,omitempty" db:"details"`
	JobID         *string                `json:"jobId,omitempty" db:"job_id"`
	IP            string                 `json:"ip,omitempty" db:"ip"`
	UserAgent     string                 `json:"userAgent,omitempty" db:"user_agent"`
	CreatedAt     time.Time              `json:"createdAt" db:"created_at"`
}

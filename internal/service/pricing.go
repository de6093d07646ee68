package service

import (
	"github.com/lead-scanner/internal/config"
	"github.com/lead-scanner/internal/types"
)

// PlanLimits is a plan's monthly allotment and daily cap
type PlanLimits struct {
	MonthlyCredits int `json:"monthlyCredits"`
	DailyLimit     int `json:"dailyLimit"`
}

var plans = map[types.Plan]PlanLimits{
	types.PlanFree:       {MonthlyCredits: 50, DailyLimit: 20},
	types.PlanStarter:    {MonthlyCredits: 500, DailyLimit: 150},
	types.PlanPro:        {MonthlyCredits: 2000, DailyLimit: 600},
	types.PlanEnterprise: {MonthlyCredits: 10000, DailyLimit: 3000},
}

// LimitsFor returns the limits of plan
func LimitsFor(plan types.Plan) (PlanLimits, bool) {
	l, ok := plans[plan]
	return l, ok
}

// Pricing is the flat credit price table
type Pricing struct {
	cfg config.PricingConfig
}

// NewPricing creates a price table from configuration
func NewPricing(cfg config.PricingConfig) *Pricing {
	return &Pricing{cfg: cfg}
}

// Price returns the credit price of one operation
func (p *Pricing) Price(op types.OperationType) int {
	switch op {
	case types.OpCacheFresh:
		return p.cfg.CacheFresh
	case types.OpCacheStale:
		return p.cfg.CacheStale
	case types.OpScrapingNew:
		return p.cfg.ScrapingBasic
	case types.OpScrapingWithContact:
		return p.cfg.ScrapingWithContact
	case types.OpEnrichment:
		return p.cfg.EnrichmentPerItem
	case types.OpExportPremium:
		return p.cfg.ExportPremium
	default:
		return 0
	}
}

// OperationForSearch picks the ledger operation for a search given the cache
// status. A stale area is refreshed at the stale price unless contact data is
// requested, which always costs a full contact scrape.
func (p *Pricing) OperationForSearch(status types.CacheStatus, withContact bool) types.OperationType {
	switch {
	case status == types.CacheFresh:
		return types.OpCacheFresh
	case withContact:
		return types.OpScrapingWithContact
	case status == types.CacheStale:
		return types.OpCacheStale
	default:
		return types.OpScrapingNew
	}
}

// PriceForSearch returns the operation and credits for a search
func (p *Pricing) PriceForSearch(status types.CacheStatus, withContact bool) (types.OperationType, int) {
	op := p.OperationForSearch(status, withContact)
	return op, p.Price(op)
}

// PriceEnrichment returns the credits for enriching items businesses
func (p *Pricing) PriceEnrichment(items int) int {
	if items <= 0 {
		return 0
	}
	return items * p.cfg.EnrichmentPerItem
}

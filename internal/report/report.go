// Package report computes read-only aggregates over the local records.
package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lapakku/backend/internal/cache"
	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/store"
)

type Reporter struct {
	repo  store.Repository
	cache cache.SummaryCache
	ttl   time.Duration
	log   *zap.Logger
}

func New(repo store.Repository, summaryCache cache.SummaryCache, ttl time.Duration, log *zap.Logger) *Reporter {
	if summaryCache == nil {
		summaryCache = cache.NoopSummaryCache{}
	}
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{repo: repo, cache: summaryCache, ttl: ttl, log: log}
}

// DailySummary aggregates sales and expenses for one calendar day (UTC).
// date is "YYYY-MM-DD"; empty means today. Tombstoned records are excluded.
func (r *Reporter) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}

	cacheKey := "daily-summary:" + date
	if cached, ok, err := r.cache.Get(ctx, cacheKey); err != nil {
		r.log.Warn("summary cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	sales, err := r.repo.ListSales(ctx)
	if err != nil {
		return domain.DailySummary{}, err
	}
	expenses, err := r.repo.ListExpenses(ctx)
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{
		Date:          date,
		SalesByMethod: make(map[string]int64),
	}
	for _, sale := range sales {
		if sale.Deleted() || !sameDay(sale.Date, day) {
			continue
		}
		summary.SalesCents += sale.TotalCents
		summary.SaleCount++
		summary.SalesByMethod[sale.PaymentType] += sale.TotalCents
	}
	for _, expense := range expenses {
		if expense.Deleted() || !sameDay(expense.Date, day) {
			continue
		}
		summary.ExpenseCents += expense.AmountCents
		summary.ExpenseCount++
	}
	summary.ProfitCents = summary.SalesCents - summary.ExpenseCents

	if err := r.cache.Set(ctx, cacheKey, &summary, r.ttl); err != nil {
		r.log.Warn("summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

func sameDay(t time.Time, day time.Time) bool {
	y1, m1, d1 := t.UTC().Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Package reports serves date-ranged sales, purchases and defectives
// summaries with a TTL cache in front of the repository aggregation.
package reports

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"velora/backend/internal/cache"
	"velora/backend/internal/domain"
	"velora/backend/internal/store"
)

type Engine struct {
	repo     store.Repository
	cache    cache.ReportCache
	cacheTTL time.Duration
}

func NewEngine(repo store.Repository, cacheStore cache.ReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	return &Engine{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

func (e *Engine) Sales(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.SalesReport, error) {
	var report domain.SalesReport
	key := buildCacheKey("sales", branchID, from, to)
	if hit, err := e.fromCache(ctx, key, &report); err == nil && hit {
		return report, nil
	}

	report, err := e.repo.GetSalesReport(ctx, branchID, from, to)
	if err != nil {
		return domain.SalesReport{}, fmt.Errorf("sales report: %w", err)
	}
	e.toCache(ctx, key, report)
	return report, nil
}

func (e *Engine) Purchases(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.PurchasesReport, error) {
	var report domain.PurchasesReport
	key := buildCacheKey("purchases", branchID, from, to)
	if hit, err := e.fromCache(ctx, key, &report); err == nil && hit {
		return report, nil
	}

	report, err := e.repo.GetPurchasesReport(ctx, branchID, from, to)
	if err != nil {
		return domain.PurchasesReport{}, fmt.Errorf("purchases report: %w", err)
	}
	e.toCache(ctx, key, report)
	return report, nil
}

func (e *Engine) Defectives(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.DefectivesReport, error) {
	var report domain.DefectivesReport
	key := buildCacheKey("defectives", branchID, from, to)
	if hit, err := e.fromCache(ctx, key, &report); err == nil && hit {
		return report, nil
	}

	report, err := e.repo.GetDefectivesReport(ctx, branchID, from, to)
	if err != nil {
		return domain.DefectivesReport{}, fmt.Errorf("defectives report: %w", err)
	}
	e.toCache(ctx, key, report)
	return report, nil
}

func (e *Engine) fromCache(ctx context.Context, key string, dst any) (bool, error) {
	payload, ok, err := e.cache.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return false, err
	}
	return true, nil
}

// toCache is best effort: a cache failure never fails the report.
func (e *Engine) toCache(ctx context.Context, key string, report any) {
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	_ = e.cache.Set(ctx, key, payload, e.cacheTTL)
}

func buildCacheKey(kind string, branchID string, from time.Time, to time.Time) string {
	parts := []string{
		kind,
		branchID,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	}
	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "velora:reports:" + kind + ":" + hex.EncodeToString(hash[:])
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"velora/backend/internal/cache"
	"velora/backend/internal/cart"
	"velora/backend/internal/domain"
	"velora/backend/internal/reports"
	"velora/backend/internal/store"
	"velora/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	engine := reports.NewEngine(repo, cache.NoopReportCache{}, 5*time.Second)
	return New(repo, engine, "main-branch")
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     domain.RoleAdmin,
	})
}

func cashierContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "cashier",
		Role:     domain.RoleCashier,
	})
}

func money(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestQuoteCartMergesRepeatedCodes(t *testing.T) {
	svc := newTestService()

	resp, err := svc.QuoteCart(cashierContext(), domain.CartQuoteRequest{
		Items: []domain.CartItemInput{
			{Code: "PRD-GEL-01", Qty: 2},
			{Code: "PRD-SHAMPOO-01", Qty: 1},
			{Code: "prd-gel-01", Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if len(resp.Lines) != 2 {
		t.Fatalf("expected merged lines, got %d", len(resp.Lines))
	}
	if resp.Lines[0].ProductID != "PRD-GEL-01" || resp.Lines[0].Quantity != 3 {
		t.Fatalf("expected first line PRD-GEL-01 x3, got %s x%d", resp.Lines[0].ProductID, resp.Lines[0].Quantity)
	}
	// 3 x 14.20 + 1 x 28.50
	if !resp.Total.Equal(money(t, "71.10")) {
		t.Fatalf("expected total 71.10, got %s", resp.Total)
	}
}

func TestQuoteCartUnknownProduct(t *testing.T) {
	svc := newTestService()

	_, err := svc.QuoteCart(cashierContext(), domain.CartQuoteRequest{
		Items: []domain.CartItemInput{{Code: "PRD-GHOST-99", Qty: 1}},
	})
	if !errors.Is(err, cart.ErrInvalidProduct) {
		t.Fatalf("expected invalid product error, got %v", err)
	}
}

func TestQuoteCartStockCeiling(t *testing.T) {
	svc := newTestService()

	_, err := svc.QuoteCart(cashierContext(), domain.CartQuoteRequest{
		Items: []domain.CartItemInput{{Code: "PRD-GEL-01", Qty: 41}},
	})
	if !errors.Is(err, cart.ErrOutOfStock) {
		t.Fatalf("expected out of stock error, got %v", err)
	}

	var stockErr *cart.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %T", err)
	}
	if stockErr.Available != 40 || stockErr.Requested != 41 {
		t.Fatalf("unexpected stock error detail: %+v", stockErr)
	}
}

func TestQuoteCartServicesAreUnbounded(t *testing.T) {
	svc := newTestService()

	resp, err := svc.QuoteCart(cashierContext(), domain.CartQuoteRequest{
		Items: []domain.CartItemInput{{Code: "SVC-CORTE-01", Qty: 500}},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !resp.Total.Equal(money(t, "12500.00")) {
		t.Fatalf("expected total 12500.00, got %s", resp.Total)
	}
}

func TestCreateSaleDecrementsStockAndComputesChange(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		IdempotencyKey: "idem-cash-1",
		PaymentMethod:  domain.PaymentMethodCash,
		CashReceived:   money(t, "50.00"),
		Items: []domain.CartItemInput{
			{Code: "PRD-GEL-01", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("first sale flagged as duplicate")
	}
	if !resp.Sale.Total.Equal(money(t, "28.40")) {
		t.Fatalf("expected total 28.40, got %s", resp.Sale.Total)
	}
	if !resp.Sale.Change.Equal(money(t, "21.60")) {
		t.Fatalf("expected change 21.60, got %s", resp.Sale.Change)
	}
	if resp.Sale.CashierUsername != "cashier" {
		t.Fatalf("expected cashier actor on sale, got %q", resp.Sale.CashierUsername)
	}

	products, err := svc.ListProducts(ctx, "main-branch")
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Code == "PRD-GEL-01" {
			if p.Stock == nil || *p.Stock != 38 {
				t.Fatalf("expected stock 38 after sale, got %v", p.Stock)
			}
		}
	}
}

func TestCreateSaleIdempotencyReplays(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	req := domain.SaleCreateRequest{
		IdempotencyKey: "idem-replay",
		PaymentMethod:  domain.PaymentMethodCard,
		Items:          []domain.CartItemInput{{Code: "PRD-SHAMPOO-01", Qty: 1}},
	}

	first, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	second, err := svc.CreateSale(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected replay to be flagged duplicate")
	}
	if second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected same sale id on replay, got %s vs %s", second.Sale.ID, first.Sale.ID)
	}

	products, err := svc.ListProducts(ctx, "main-branch")
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Code == "PRD-SHAMPOO-01" {
			if p.Stock == nil || *p.Stock != 39 {
				t.Fatalf("expected stock decremented once, got %v", p.Stock)
			}
		}
	}
}

func TestCreateSaleRejectsOversizedDiscount(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateSale(cashierContext(), domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentMethodCard,
		Discount:      money(t, "100.00"),
		Items:         []domain.CartItemInput{{Code: "PRD-GEL-01", Qty: 1}},
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestVoidSaleRestocks(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	resp, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		IdempotencyKey: "idem-void",
		PaymentMethod:  domain.PaymentMethodCard,
		Items:          []domain.CartItemInput{{Code: "PRD-TINTE-01", Qty: 3}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	voided, err := svc.VoidSale(ctx, resp.Sale.ID, "client returned items")
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("expected voided status, got %s", voided.Status)
	}

	if _, err := svc.VoidSale(ctx, resp.Sale.ID, "again"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on double void, got %v", err)
	}

	products, err := svc.ListProducts(ctx, "main-branch")
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Code == "PRD-TINTE-01" {
			if p.Stock == nil || *p.Stock != 40 {
				t.Fatalf("expected stock restored to 40, got %v", p.Stock)
			}
		}
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierContext(), domain.ProductCreateRequest{
		Code:         "PRD-NEW-01",
		Name:         "Mascarilla Capilar",
		Category:     "cuidado",
		Price:        money(t, "18.00"),
		Tracked:      true,
		InitialStock: 10,
	})
	if err == nil {
		t.Fatalf("expected cashier product create to fail")
	}
}

func TestUpdateProductRecordsPriceHistory(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	newPrice := money(t, "32.90")
	updated, err := svc.UpdateProduct(ctx, "PRD-SHAMPOO-01", domain.ProductUpdateRequest{
		Price: &newPrice,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated.Price.Equal(newPrice) {
		t.Fatalf("expected price %s, got %s", newPrice, updated.Price)
	}

	history, err := svc.ListProductPriceHistory(ctx, "PRD-SHAMPOO-01", 10)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	if !history[0].OldPrice.Equal(money(t, "28.50")) || !history[0].NewPrice.Equal(newPrice) {
		t.Fatalf("unexpected history entry: %+v", history[0])
	}
}

func TestCreatePurchaseIncreasesStock(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	purchase, err := svc.CreatePurchase(ctx, domain.PurchaseCreateRequest{
		SupplierID:    "per-supplier-01",
		InvoiceNumber: "FAC-0001",
		Items: []domain.PurchaseItemInput{
			{Code: "PRD-GEL-01", Qty: 12, UnitCost: money(t, "8.50")},
			{Code: "PRD-GEL-01", Qty: 3, UnitCost: money(t, "8.50")},
		},
	})
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if len(purchase.Lines) != 1 || purchase.Lines[0].Qty != 15 {
		t.Fatalf("expected merged purchase line x15, got %+v", purchase.Lines)
	}
	if !purchase.Total.Equal(money(t, "127.50")) {
		t.Fatalf("expected total 127.50, got %s", purchase.Total)
	}

	products, err := svc.ListProducts(ctx, "main-branch")
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.Code == "PRD-GEL-01" {
			if p.Stock == nil || *p.Stock != 55 {
				t.Fatalf("expected stock 55 after purchase, got %v", p.Stock)
			}
		}
	}
}

func TestCreatePurchaseRejectsClientAsSupplier(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreatePurchase(adminContext(), domain.PurchaseCreateRequest{
		SupplierID: "per-client-01",
		Items: []domain.PurchaseItemInput{
			{Code: "PRD-GEL-01", Qty: 1, UnitCost: money(t, "8.50")},
		},
	})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestCreateDefectiveDecrementsStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	def, err := svc.CreateDefective(ctx, domain.DefectiveCreateRequest{
		Code:   "PRD-LACA-01",
		Qty:    2,
		Reason: "envase roto",
	})
	if err != nil {
		t.Fatalf("defective failed: %v", err)
	}
	if def.ReportedBy != "cashier" {
		t.Fatalf("expected reporter from actor, got %q", def.ReportedBy)
	}

	_, err = svc.CreateDefective(ctx, domain.DefectiveCreateRequest{
		Code:   "PRD-LACA-01",
		Qty:    100,
		Reason: "lote vencido",
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCreateServiceSaleMergesByName(t *testing.T) {
	svc := newTestService()

	sale, err := svc.CreateServiceSale(cashierContext(), domain.ServiceSaleCreateRequest{
		Hairdresser:   "Lucia",
		PaymentMethod: domain.PaymentMethodCash,
		Items: []domain.ServiceItemInput{
			{Name: "Corte", Price: money(t, "25.00"), Qty: 1},
			{Name: "corte", Price: money(t, "25.00"), Qty: 1},
			{Name: "Brushing", Price: money(t, "18.00"), Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("service sale failed: %v", err)
	}
	if len(sale.Lines) != 2 {
		t.Fatalf("expected merged service lines, got %d", len(sale.Lines))
	}
	if sale.Lines[0].Qty != 2 {
		t.Fatalf("expected corte x2, got %d", sale.Lines[0].Qty)
	}
	if !sale.Total.Equal(money(t, "68.00")) {
		t.Fatalf("expected total 68.00, got %s", sale.Total)
	}
}

func TestDraftHoldResumeDiscard(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	quote, err := svc.QuoteCart(ctx, domain.CartQuoteRequest{
		Items: []domain.CartItemInput{{Code: "PRD-CREMA-01", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}

	held, err := svc.HoldDraftCart(ctx, domain.DraftHoldRequest{
		Note:  "cliente vuelve en 10",
		Lines: quote.Lines,
	})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if !held.Total.Equal(money(t, "39.50")) {
		t.Fatalf("expected held total 39.50, got %s", held.Total)
	}

	list, err := svc.ListDraftCarts(ctx, "main-branch")
	if err != nil {
		t.Fatalf("list drafts failed: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected one draft, got %d", len(list.Items))
	}

	resumed, err := svc.ResumeDraftCart(ctx, held.ID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(resumed.Lines) != 1 || resumed.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected resumed lines: %+v", resumed.Lines)
	}

	if _, err := svc.ResumeDraftCart(ctx, held.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected resumed draft to be gone, got %v", err)
	}

	if err := svc.DiscardDraftCart(ctx, held.ID); err != nil {
		t.Fatalf("discard of missing draft should be a no-op, got %v", err)
	}
}

func TestHoldDraftCartTotalsLinesWithoutSubtotal(t *testing.T) {
	svc := newTestService()
	ctx := cashierContext()

	held, err := svc.HoldDraftCart(ctx, domain.DraftHoldRequest{
		Note: "lineas sin subtotal",
		Lines: cart.Cart{
			{ProductID: "prd-gel-01", Name: "Gel Fijador", Price: money(t, "10.00"), Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if !held.Total.Equal(money(t, "20.00")) {
		t.Fatalf("expected held total 20.00, got %s", held.Total)
	}

	resumed, err := svc.ResumeDraftCart(ctx, held.ID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if !resumed.Total.Equal(money(t, "20.00")) {
		t.Fatalf("expected resumed total 20.00, got %s", resumed.Total)
	}
}

func TestSalesReportSkipsVoided(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	kept, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		IdempotencyKey: "idem-report-1",
		PaymentMethod:  domain.PaymentMethodCash,
		CashReceived:   money(t, "100.00"),
		Items:          []domain.CartItemInput{{Code: "PRD-GEL-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	voidable, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		IdempotencyKey: "idem-report-2",
		PaymentMethod:  domain.PaymentMethodCard,
		Items:          []domain.CartItemInput{{Code: "PRD-SECADOR-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if _, err := svc.VoidSale(ctx, voidable.Sale.ID, "mistake"); err != nil {
		t.Fatalf("void failed: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	report, err := svc.SalesReport(ctx, "main-branch", today, today)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Transactions != 1 {
		t.Fatalf("expected one counted transaction, got %d", report.Transactions)
	}
	if !report.Net.Equal(kept.Sale.Total) {
		t.Fatalf("expected net %s, got %s", kept.Sale.Total, report.Net)
	}
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		IdempotencyKey: "idem-audit",
		PaymentMethod:  domain.PaymentMethodCard,
		Items:          []domain.CartItemInput{{Code: "PRD-GEL-01", Qty: 1}},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "main-branch", time.Now().UTC().Format("2006-01-02"), 50)
	if err != nil {
		t.Fatalf("audit list failed: %v", err)
	}

	found := false
	for _, entry := range logs {
		if entry.Action == "sale_create" && entry.ActorUsername == "admin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sale_create audit entry, got %d entries", len(logs))
	}
}

func TestParseDateRange(t *testing.T) {
	from, to, err := parseDateRange("2026-03-01", "2026-03-02")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !to.Equal(from.Add(48 * time.Hour)) {
		t.Fatalf("expected end bound exclusive of the full last day, got %s..%s", from, to)
	}

	if _, _, err := parseDateRange("2026-03-05", "2026-03-01"); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected inverted range to be invalid, got %v", err)
	}

	from, to, err = parseDateRange("", "2026-03-02")
	if err != nil {
		t.Fatalf("to-only range failed: %v", err)
	}
	if !to.Equal(from.Add(24 * time.Hour)) {
		t.Fatalf("expected to-only range to cover one day, got %s..%s", from, to)
	}

	if _, _, err := parseDateRange("yesterday", ""); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

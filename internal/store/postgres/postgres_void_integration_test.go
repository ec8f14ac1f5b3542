package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestVoidSaleRestocksBranchInventory(t *testing.T) {
	databaseURL := os.Getenv("VELORA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set VELORA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	code := fmt.Sprintf("PRD-VOID-IT-%d", stamp)
	saleID := fmt.Sprintf("sale-void-it-%d", stamp)
	idempotencyKey := fmt.Sprintf("idem-void-it-%d", stamp)
	branchID := "main-branch"

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branch_stocks WHERE branch_id = $1 AND code = $2`, branchID, code)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE code = $1`, code)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (code, name, category, price, tracked, active, created_at)
		VALUES ($1, 'Gel Fijador Void IT', 'styling', 14.20, true, true, now())
	`, code); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_stocks (branch_id, code, units, updated_at)
		VALUES ($1, $2, 10, now())
		ON CONFLICT (branch_id, code)
		DO UPDATE SET units = 10, updated_at = now()
	`, branchID, code); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, branch_id, cashier_username, idempotency_key, payment_method,
			subtotal, discount, total, cash_received, change, status, created_at
		)
		VALUES (
			$1, $2, 'admin', $3, 'cash',
			28.40, 0, 28.40, 30.00, 1.60, 'paid', now()
		)
	`, saleID, branchID, idempotencyKey); err != nil {
		t.Fatalf("insert sale: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_lines (sale_id, code, name, qty, unit_price, subtotal)
		VALUES ($1, $2, 'Gel Fijador Void IT', 2, 14.20, 28.40)
	`, saleID, code); err != nil {
		t.Fatalf("insert sale line: %v", err)
	}

	at := time.Now().UTC()
	voided, err := s.VoidSale(ctx, saleID, "integration test void", at)
	if err != nil {
		t.Fatalf("void sale: %v", err)
	}
	if voided.Status != "voided" {
		t.Fatalf("expected sale status voided, got %s", voided.Status)
	}

	var units int
	if err := s.db.QueryRowContext(ctx, `
		SELECT units
		FROM branch_stocks
		WHERE branch_id = $1 AND code = $2
	`, branchID, code).Scan(&units); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if units != 12 {
		t.Fatalf("expected stock 12 after void restock, got %d", units)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"velora/backend/internal/cart"
	"velora/backend/internal/domain"
	"velora/backend/internal/store"
	"velora/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, created_at
		FROM branches
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	branch.Name = strings.TrimSpace(branch.Name)
	if branch.Name == "" {
		return nil, store.ErrInvalid
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, address, created_at)
		VALUES ($1,$2,$3,$4)
	`, branch.ID, branch.Name, branch.Address, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := branch
	return &created, nil
}

func (s *Store) GetBranchByID(ctx context.Context, branchID string) (*domain.Branch, error) {
	var branch domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, created_at
		FROM branches
		WHERE id = $1
	`, branchID).Scan(&branch.ID, &branch.Name, &branch.Address, &branch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	branch.CreatedAt = branch.CreatedAt.UTC()
	return &branch, nil
}

func (s *Store) ListPersons(ctx context.Context, kind string) ([]domain.Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, document, phone, email, address, active, created_at
		FROM persons
		WHERE $1 = '' OR kind = $1
		ORDER BY name, id
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	persons := make([]domain.Person, 0, 64)
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Kind, &p.Name, &p.Document, &p.Phone, &p.Email, &p.Address, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return persons, nil
}

func (s *Store) CreatePerson(ctx context.Context, person domain.Person) (*domain.Person, error) {
	person.Name = strings.TrimSpace(person.Name)
	if person.Name == "" {
		return nil, store.ErrInvalid
	}
	if person.Kind != domain.PersonKindClient && person.Kind != domain.PersonKindSupplier {
		return nil, store.ErrInvalid
	}
	if person.ID == "" {
		person.ID = xid.New("per")
	}
	if person.CreatedAt.IsZero() {
		person.CreatedAt = time.Now().UTC()
	}
	person.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (id, kind, name, document, phone, email, address, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, person.ID, person.Kind, person.Name, person.Document, person.Phone, person.Email, person.Address, person.Active, person.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := person
	return &created, nil
}

func (s *Store) GetPersonByID(ctx context.Context, personID string) (*domain.Person, error) {
	var person domain.Person
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, document, phone, email, address, active, created_at
		FROM persons
		WHERE id = $1
	`, personID).Scan(&person.ID, &person.Kind, &person.Name, &person.Document, &person.Phone, &person.Email, &person.Address, &person.Active, &person.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	person.CreatedAt = person.CreatedAt.UTC()
	return &person, nil
}

func (s *Store) UpdatePerson(ctx context.Context, person domain.Person) (*domain.Person, error) {
	if person.ID == "" || strings.TrimSpace(person.Name) == "" {
		return nil, store.ErrInvalid
	}

	var kind string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE persons
		SET name = $2, document = $3, phone = $4, email = $5, address = $6, active = $7
		WHERE id = $1
		RETURNING kind, created_at
	`, person.ID, person.Name, person.Document, person.Phone, person.Email, person.Address, person.Active).Scan(&kind, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	person.Kind = kind
	person.CreatedAt = createdAt.UTC()

	updated := person
	return &updated, nil
}

func (s *Store) ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.code, p.name, p.category, p.price, p.tracked, p.active, p.created_at,
			CASE WHEN p.tracked THEN COALESCE(bs.units, 0) END
		FROM products p
		LEFT JOIN branch_stocks bs ON bs.code = p.code AND bs.branch_id = $1
		WHERE p.active = true
		ORDER BY p.category, p.name
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.ProductWithStock, 0, 128)
	for rows.Next() {
		var entry domain.ProductWithStock
		var units sql.NullInt64
		if err := rows.Scan(&entry.Code, &entry.Name, &entry.Category, &entry.Price, &entry.Tracked, &entry.Active, &entry.CreatedAt, &units); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		if units.Valid {
			n := int(units.Int64)
			entry.Stock = &n
		}
		products = append(products, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalid
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (code, name, category, price, tracked, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.Code, product.Name, product.Category, product.Price, product.Tracked, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, category, price, tracked, active, created_at
		FROM products
		WHERE code = $1
	`, code).Scan(&product.Code, &product.Name, &product.Category, &product.Price, &product.Tracked, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalid
	}

	var tracked bool
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, active = $5
		WHERE code = $1
		RETURNING tracked, created_at
	`, product.Code, product.Name, product.Category, product.Price, product.Active).Scan(&tracked, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.Tracked = tracked
	product.CreatedAt = createdAt.UTC()

	updated := product
	return &updated, nil
}

func (s *Store) GetProductsByCodes(ctx context.Context, codes []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(codes))
	if len(codes) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, category, price, tracked, active, created_at
		FROM products
		WHERE active = true AND code = ANY($1)
	`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Code, &p.Name, &p.Category, &p.Price, &p.Tracked, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result[p.Code] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error {
	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history (id, code, old_price, new_price, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.Code, entry.OldPrice, entry.NewPrice, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, code string, limit int) ([]domain.PriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, old_price, new_price, changed_by, changed_at
		FROM price_history
		WHERE code = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistory, 0, limit)
	for rows.Next() {
		var entry domain.PriceHistory
		if err := rows.Scan(&entry.ID, &entry.Code, &entry.OldPrice, &entry.NewPrice, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.ChangedAt = entry.ChangedAt.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) GetStockMap(ctx context.Context, branchID string, codes []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(codes))
	for _, code := range codes {
		stockMap[code] = 0
	}
	if len(codes) == 0 {
		return stockMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, units
		FROM branch_stocks
		WHERE branch_id = $1 AND code = ANY($2)
	`, branchID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var units int
		if err := rows.Scan(&code, &units); err != nil {
			return nil, err
		}
		stockMap[code] = units
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stockMap, nil
}

func (s *Store) SetStock(ctx context.Context, branchID string, code string, units int) error {
	if code == "" || units < 0 {
		return store.ErrInvalid
	}
	if err := s.ensureProductExists(ctx, code); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_stocks (branch_id, code, units, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (branch_id, code)
		DO UPDATE SET units = EXCLUDED.units, updated_at = now()
	`, branchID, code, units)
	return err
}

func (s *Store) ensureProductExists(ctx context.Context, code string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE code = $1)
	`, code).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("product %s unavailable", code)
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalid
	}
	if sale.IdempotencyKey != "" {
		existing, err := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	codes := uniqueCodes(sale.Lines)
	productMap, err := loadActiveProducts(ctx, pgTx, codes)
	if err != nil {
		return nil, err
	}
	stockMap, err := lockStockRows(ctx, pgTx, sale.BranchID, codes)
	if err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	recomputed := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalid
		}
		product, exists := productMap[line.Code]
		if !exists {
			return nil, fmt.Errorf("product %s unavailable", line.Code)
		}
		if product.Tracked && stockMap[line.Code] < line.Qty {
			return nil, store.ErrInsufficientStock
		}
		lineSubtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))).Round(2)
		recomputed = append(recomputed, domain.SaleLine{
			Code:      line.Code,
			Name:      product.Name,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			Subtotal:  lineSubtotal,
		})
		subtotal = subtotal.Add(lineSubtotal)
	}
	subtotal = subtotal.Round(2)

	if sale.Discount.IsNegative() || sale.Discount.GreaterThan(subtotal) {
		return nil, store.ErrInvalid
	}
	total := subtotal.Sub(sale.Discount).Round(2)

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Lines = recomputed
	sale.Subtotal = subtotal
	sale.Total = total
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPaid
	}

	if sale.PaymentMethod == domain.PaymentMethodCash {
		if sale.CashReceived.LessThan(total) {
			return nil, store.ErrInvalid
		}
		sale.Change = sale.CashReceived.Sub(total).Round(2)
	} else {
		sale.Change = decimal.Zero
	}

	for _, line := range sale.Lines {
		if !productMap[line.Code].Tracked {
			continue
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE branch_stocks
			SET units = units - $1, updated_at = now()
			WHERE branch_id = $2 AND code = $3
		`, line.Qty, sale.BranchID, line.Code)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, branch_id, client_id, cashier_username, idempotency_key, payment_method,
			subtotal, discount, total, cash_received, change, status,
			void_reason, voided_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.BranchID, nullIfEmpty(sale.ClientID), sale.CashierUsername,
		nullIfEmpty(sale.IdempotencyKey), sale.PaymentMethod, sale.Subtotal,
		sale.Discount, sale.Total, sale.CashReceived, sale.Change, sale.Status,
		nullIfEmpty(sale.VoidReason), nullTime(sale.VoidedAt), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, code, name, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, line.Code, line.Name, line.Qty, line.UnitPrice, line.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) FindSaleByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	return s.findSale(ctx, `WHERE id = $1`, saleID)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findSale(ctx, `WHERE idempotency_key = $1`, key)
}

func (s *Store) findSale(ctx context.Context, where string, arg any) (*domain.Sale, error) {
	var sale domain.Sale
	var clientID, idemKey, voidReason sql.NullString
	var voidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, client_id, cashier_username, idempotency_key, payment_method,
			subtotal, discount, total, cash_received, change, status,
			void_reason, voided_at, created_at
		FROM sales
		`+where, arg).Scan(
		&sale.ID, &sale.BranchID, &clientID, &sale.CashierUsername, &idemKey,
		&sale.PaymentMethod, &sale.Subtotal, &sale.Discount, &sale.Total,
		&sale.CashReceived, &sale.Change, &sale.Status, &voidReason, &voidedAt, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.ClientID = clientID.String
	sale.IdempotencyKey = idemKey.String
	sale.VoidReason = voidReason.String
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		sale.VoidedAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	lines, err := s.loadSaleLines(ctx, `sale_lines`, `sale_id`, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines
	return &sale, nil
}

func (s *Store) loadSaleLines(ctx context.Context, table string, fkColumn string, id string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, qty, unit_price, subtotal
		FROM `+table+`
		WHERE `+fkColumn+` = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.Code, &line.Name, &line.Qty, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) VoidSale(ctx context.Context, saleID string, reason string, at time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var branchID, status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT branch_id, status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&branchID, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusPaid {
		return nil, store.ErrConflict
	}

	lineRows, err := pgTx.QueryContext(ctx, `
		SELECT sl.code, sl.qty, p.tracked
		FROM sale_lines sl
		JOIN products p ON p.code = sl.code
		WHERE sl.sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	type restockLine struct {
		code    string
		qty     int
		tracked bool
	}
	restock := make([]restockLine, 0, 8)
	for lineRows.Next() {
		var line restockLine
		if err := lineRows.Scan(&line.code, &line.qty, &line.tracked); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		restock = append(restock, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_at = $4
		WHERE id = $1 AND status = $5
	`, saleID, domain.SaleStatusVoided, reason, at, domain.SaleStatusPaid)
	if err != nil {
		return nil, err
	}

	for _, line := range restock {
		if !line.tracked {
			continue
		}
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO branch_stocks (branch_id, code, units, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (branch_id, code)
			DO UPDATE SET units = branch_stocks.units + EXCLUDED.units, updated_at = now()
		`, branchID, line.code, line.qty)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.FindSaleByID(ctx, saleID)
}

func (s *Store) ListSales(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	sales := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := s.FindSaleByID(ctx, id)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.BranchID == "" || purchase.SupplierID == "" || len(purchase.Lines) == 0 {
		return nil, store.ErrInvalid
	}

	supplier, err := s.GetPersonByID(ctx, purchase.SupplierID)
	if err != nil {
		return nil, err
	}
	if supplier.Kind != domain.PersonKindSupplier {
		return nil, store.ErrNotFound
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	codes := make([]string, 0, len(purchase.Lines))
	for _, line := range purchase.Lines {
		codes = append(codes, line.Code)
	}
	productMap, err := loadProducts(ctx, pgTx, codes)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	recomputed := make([]domain.PurchaseLine, 0, len(purchase.Lines))
	for _, line := range purchase.Lines {
		if line.Code == "" || line.Qty < 1 || line.UnitCost.IsNegative() {
			return nil, store.ErrInvalid
		}
		product, exists := productMap[line.Code]
		if !exists {
			return nil, fmt.Errorf("product %s unavailable", line.Code)
		}
		lineSubtotal := line.UnitCost.Mul(decimal.NewFromInt(int64(line.Qty))).Round(2)
		recomputed = append(recomputed, domain.PurchaseLine{
			Code:     line.Code,
			Name:     product.Name,
			Qty:      line.Qty,
			UnitCost: line.UnitCost,
			Subtotal: lineSubtotal,
		})
		total = total.Add(lineSubtotal)
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	purchase.Lines = recomputed
	purchase.Total = total.Round(2)

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchases (id, branch_id, supplier_id, invoice_number, total, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, purchase.ID, purchase.BranchID, purchase.SupplierID, nullIfEmpty(purchase.InvoiceNumber),
		purchase.Total, purchase.CreatedBy, purchase.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range purchase.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_lines (purchase_id, code, name, qty, unit_cost, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, purchase.ID, line.Code, line.Name, line.Qty, line.UnitCost, line.Subtotal)
		if err != nil {
			return nil, err
		}
		if !productMap[line.Code].Tracked {
			continue
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO branch_stocks (branch_id, code, units, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (branch_id, code)
			DO UPDATE SET units = branch_stocks.units + EXCLUDED.units, updated_at = now()
		`, purchase.BranchID, line.Code, line.Qty)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := purchase
	return &created, nil
}

func (s *Store) GetPurchaseByID(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	var purchase domain.Purchase
	var invoice sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, supplier_id, invoice_number, total, created_by, created_at
		FROM purchases
		WHERE id = $1
	`, purchaseID).Scan(&purchase.ID, &purchase.BranchID, &purchase.SupplierID, &invoice,
		&purchase.Total, &purchase.CreatedBy, &purchase.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	purchase.InvoiceNumber = invoice.String
	purchase.CreatedAt = purchase.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, qty, unit_cost, subtotal
		FROM purchase_lines
		WHERE purchase_id = $1
		ORDER BY line_no
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.PurchaseLine, 0, 8)
	for rows.Next() {
		var line domain.PurchaseLine
		if err := rows.Scan(&line.Code, &line.Name, &line.Qty, &line.UnitCost, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	purchase.Lines = lines
	return &purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM purchases
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	purchases := make([]domain.Purchase, 0, len(ids))
	for _, id := range ids {
		purchase, err := s.GetPurchaseByID(ctx, id)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *purchase)
	}
	return purchases, nil
}

func (s *Store) CreateDefective(ctx context.Context, defective domain.Defective) (*domain.Defective, error) {
	if defective.BranchID == "" || defective.Code == "" || defective.Qty < 1 {
		return nil, store.ErrInvalid
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var name string
	var tracked bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT name, tracked
		FROM products
		WHERE code = $1
	`, defective.Code).Scan(&name, &tracked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if tracked {
		var units int
		err = pgTx.QueryRowContext(ctx, `
			SELECT units
			FROM branch_stocks
			WHERE branch_id = $1 AND code = $2
			FOR UPDATE
		`, defective.BranchID, defective.Code).Scan(&units)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrInsufficientStock
			}
			return nil, err
		}
		if units < defective.Qty {
			return nil, store.ErrInsufficientStock
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE branch_stocks
			SET units = units - $1, updated_at = now()
			WHERE branch_id = $2 AND code = $3
		`, defective.Qty, defective.BranchID, defective.Code)
		if err != nil {
			return nil, err
		}
	}

	if defective.ID == "" {
		defective.ID = xid.New("def")
	}
	if defective.CreatedAt.IsZero() {
		defective.CreatedAt = time.Now().UTC()
	}
	defective.Name = name

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO defectives (id, branch_id, code, name, qty, reason, reported_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, defective.ID, defective.BranchID, defective.Code, defective.Name, defective.Qty,
		defective.Reason, defective.ReportedBy, defective.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := defective
	return &created, nil
}

func (s *Store) ListDefectives(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Defective, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, code, name, qty, reason, reported_by, created_at
		FROM defectives
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defectives := make([]domain.Defective, 0, limit)
	for rows.Next() {
		var d domain.Defective
		if err := rows.Scan(&d.ID, &d.BranchID, &d.Code, &d.Name, &d.Qty, &d.Reason, &d.ReportedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		defectives = append(defectives, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defectives, nil
}

func (s *Store) CreateServiceSale(ctx context.Context, sale domain.ServiceSale) (*domain.ServiceSale, error) {
	if sale.BranchID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalid
	}

	subtotal := decimal.Zero
	for i, line := range sale.Lines {
		if line.Qty < 1 || line.UnitPrice.IsNegative() {
			return nil, store.ErrInvalid
		}
		sale.Lines[i].Subtotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))).Round(2)
		subtotal = subtotal.Add(sale.Lines[i].Subtotal)
	}
	subtotal = subtotal.Round(2)
	if sale.Discount.IsNegative() || sale.Discount.GreaterThan(subtotal) {
		return nil, store.ErrInvalid
	}

	if sale.ID == "" {
		sale.ID = xid.New("svc")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Subtotal = subtotal
	sale.Total = subtotal.Sub(sale.Discount).Round(2)

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO service_sales (
			id, branch_id, client_id, hairdresser, payment_method,
			subtotal, discount, total, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.BranchID, nullIfEmpty(sale.ClientID), sale.Hairdresser, sale.PaymentMethod,
		sale.Subtotal, sale.Discount, sale.Total, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO service_sale_lines (service_sale_id, code, name, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, line.Code, line.Name, line.Qty, line.UnitPrice, line.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) ListServiceSales(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.ServiceSale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, client_id, hairdresser, payment_method,
			subtotal, discount, total, created_by, created_at
		FROM service_sales
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.ServiceSale, 0, limit)
	for rows.Next() {
		var sale domain.ServiceSale
		var clientID sql.NullString
		if err := rows.Scan(&sale.ID, &sale.BranchID, &clientID, &sale.Hairdresser, &sale.PaymentMethod,
			&sale.Subtotal, &sale.Discount, &sale.Total, &sale.CreatedBy, &sale.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		sale.ClientID = clientID.String
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range sales {
		lines, err := s.loadSaleLines(ctx, `service_sale_lines`, `service_sale_id`, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Lines = lines
	}
	return sales, nil
}

func (s *Store) CreateDraftCart(ctx context.Context, draft domain.DraftCart) (*domain.DraftCart, error) {
	if draft.BranchID == "" || len(draft.Lines) == 0 {
		return nil, store.ErrInvalid
	}
	if draft.ID == "" {
		draft.ID = xid.New("draft")
	}
	if draft.HeldAt.IsZero() {
		draft.HeldAt = time.Now().UTC()
	}

	linesJSON, err := json.Marshal(draft.Lines)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO draft_carts (id, branch_id, held_by, note, lines, total, held_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, draft.ID, draft.BranchID, draft.HeldBy, draft.Note, linesJSON, draft.Total, draft.HeldAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	saved := draft
	return &saved, nil
}

func (s *Store) ListDraftCarts(ctx context.Context, branchID string, limit int) ([]domain.DraftCart, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, held_by, note, lines, total, held_at
		FROM draft_carts
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY held_at DESC, id DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drafts := make([]domain.DraftCart, 0, limit)
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drafts, nil
}

func (s *Store) PopDraftCart(ctx context.Context, draftID string) (*domain.DraftCart, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT id, branch_id, held_by, note, lines, total, held_at
		FROM draft_carts
		WHERE id = $1
		FOR UPDATE
	`, draftID)
	draft, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `DELETE FROM draft_carts WHERE id = $1`, draftID)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &draft, nil
}

// DeleteDraftCart is idempotent: discarding a draft that is already gone
// is not an error.
func (s *Store) DeleteDraftCart(ctx context.Context, draftID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM draft_carts WHERE id = $1`, draftID)
	return err
}

func (s *Store) GetSalesReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.SalesReport, error) {
	report := domain.SalesReport{
		BranchID:    branchID,
		From:        from.Format("2006-01-02"),
		To:          to.Format("2006-01-02"),
		Gross:       decimal.Zero,
		Discounts:   decimal.Zero,
		Net:         decimal.Zero,
		ByPayment:   make([]domain.PaymentBreakdown, 0, 4),
		TopProducts: make([]domain.ProductSales, 0, 8),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(subtotal),0),
			COALESCE(SUM(discount),0),
			COALESCE(SUM(total),0)
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
			AND status <> $4
	`, branchID, from, to, domain.SaleStatusVoided).Scan(
		&report.Transactions,
		&report.Gross,
		&report.Discounts,
		&report.Net,
	)
	if err != nil {
		return report, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(total),0)
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
			AND status <> $4
		GROUP BY payment_method
		ORDER BY payment_method
	`, branchID, from, to, domain.SaleStatusVoided)
	if err != nil {
		return report, err
	}
	for paymentRows.Next() {
		var row domain.PaymentBreakdown
		if err := paymentRows.Scan(&row.Method, &row.Transactions, &row.Total); err != nil {
			_ = paymentRows.Close()
			return report, err
		}
		report.ByPayment = append(report.ByPayment, row)
	}
	if err := paymentRows.Err(); err != nil {
		_ = paymentRows.Close()
		return report, err
	}
	_ = paymentRows.Close()

	productRows, err := s.db.QueryContext(ctx, `
		SELECT sl.code, MAX(sl.name), SUM(sl.qty)::bigint, COALESCE(SUM(sl.subtotal),0)
		FROM sale_lines sl
		JOIN sales s ON s.id = sl.sale_id
		WHERE ($1 = '' OR s.branch_id = $1)
			AND s.created_at >= $2
			AND s.created_at < $3
			AND s.status <> $4
		GROUP BY sl.code
		ORDER BY COALESCE(SUM(sl.subtotal),0) DESC, sl.code
		LIMIT 10
	`, branchID, from, to, domain.SaleStatusVoided)
	if err != nil {
		return report, err
	}
	for productRows.Next() {
		var row domain.ProductSales
		var qty int64
		if err := productRows.Scan(&row.Code, &row.Name, &qty, &row.Total); err != nil {
			_ = productRows.Close()
			return report, err
		}
		row.Qty = int(qty)
		report.TopProducts = append(report.TopProducts, row)
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return report, err
	}
	_ = productRows.Close()

	return report, nil
}

func (s *Store) GetPurchasesReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.PurchasesReport, error) {
	report := domain.PurchasesReport{
		BranchID:   branchID,
		From:       from.Format("2006-01-02"),
		To:         to.Format("2006-01-02"),
		Total:      decimal.Zero,
		BySupplier: make([]domain.SupplierBreakdown, 0, 4),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(total),0)
		FROM purchases
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
	`, branchID, from, to).Scan(&report.Purchases, &report.Total)
	if err != nil {
		return report, err
	}

	supplierRows, err := s.db.QueryContext(ctx, `
		SELECT p.supplier_id, COALESCE(MAX(per.name), ''), COUNT(*)::bigint, COALESCE(SUM(p.total),0)
		FROM purchases p
		LEFT JOIN persons per ON per.id = p.supplier_id
		WHERE ($1 = '' OR p.branch_id = $1)
			AND p.created_at >= $2
			AND p.created_at < $3
		GROUP BY p.supplier_id
		ORDER BY p.supplier_id
	`, branchID, from, to)
	if err != nil {
		return report, err
	}
	for supplierRows.Next() {
		var row domain.SupplierBreakdown
		if err := supplierRows.Scan(&row.SupplierID, &row.Name, &row.Purchases, &row.Total); err != nil {
			_ = supplierRows.Close()
			return report, err
		}
		report.BySupplier = append(report.BySupplier, row)
	}
	if err := supplierRows.Err(); err != nil {
		_ = supplierRows.Close()
		return report, err
	}
	_ = supplierRows.Close()

	return report, nil
}

func (s *Store) GetDefectivesReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.DefectivesReport, error) {
	report := domain.DefectivesReport{
		BranchID:      branchID,
		From:          from.Format("2006-01-02"),
		To:            to.Format("2006-01-02"),
		EstimatedLoss: decimal.Zero,
		ByProduct:     make([]domain.DefectiveBreakdown, 0, 4),
	}

	var units int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(d.qty),0)::bigint, COALESCE(SUM(p.price * d.qty),0)
		FROM defectives d
		LEFT JOIN products p ON p.code = d.code
		WHERE ($1 = '' OR d.branch_id = $1)
			AND d.created_at >= $2
			AND d.created_at < $3
	`, branchID, from, to).Scan(&report.Incidents, &units, &report.EstimatedLoss)
	if err != nil {
		return report, err
	}
	report.Units = int(units)
	report.EstimatedLoss = report.EstimatedLoss.Round(2)

	productRows, err := s.db.QueryContext(ctx, `
		SELECT code, MAX(name), SUM(qty)::bigint
		FROM defectives
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		GROUP BY code
		ORDER BY SUM(qty) DESC, code
	`, branchID, from, to)
	if err != nil {
		return report, err
	}
	for productRows.Next() {
		var row domain.DefectiveBreakdown
		var rowUnits int64
		if err := productRows.Scan(&row.Code, &row.Name, &rowUnits); err != nil {
			_ = productRows.Close()
			return report, err
		}
		row.Units = int(rowUnits)
		report.ByProduct = append(report.ByProduct, row)
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return report, err
	}
	_ = productRows.Close()

	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalid
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalid
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (domain.DraftCart, error) {
	var draft domain.DraftCart
	var linesJSON []byte
	if err := row.Scan(&draft.ID, &draft.BranchID, &draft.HeldBy, &draft.Note, &linesJSON, &draft.Total, &draft.HeldAt); err != nil {
		return draft, err
	}
	draft.HeldAt = draft.HeldAt.UTC()

	lines := cart.Cart{}
	if len(linesJSON) > 0 {
		if err := json.Unmarshal(linesJSON, &lines); err != nil {
			return draft, err
		}
	}
	draft.Lines = lines
	return draft, nil
}

func loadActiveProducts(ctx context.Context, pgTx *sql.Tx, codes []string) (map[string]domain.Product, error) {
	return loadProductsWhere(ctx, pgTx, `active = true AND code = ANY($1)`, codes)
}

func loadProducts(ctx context.Context, pgTx *sql.Tx, codes []string) (map[string]domain.Product, error) {
	return loadProductsWhere(ctx, pgTx, `code = ANY($1)`, codes)
}

func loadProductsWhere(ctx context.Context, pgTx *sql.Tx, where string, codes []string) (map[string]domain.Product, error) {
	productMap := make(map[string]domain.Product, len(codes))
	if len(codes) == 0 {
		return productMap, nil
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT code, name, price, tracked
		FROM products
		WHERE `+where, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Code, &p.Name, &p.Price, &p.Tracked); err != nil {
			return nil, err
		}
		p.Active = true
		productMap[p.Code] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return productMap, nil
}

func lockStockRows(ctx context.Context, pgTx *sql.Tx, branchID string, codes []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(codes))
	if len(codes) == 0 {
		return stockMap, nil
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT code, units
		FROM branch_stocks
		WHERE branch_id = $1 AND code = ANY($2)
		FOR UPDATE
	`, branchID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var units int
		if err := rows.Scan(&code, &units); err != nil {
			return nil, err
		}
		stockMap[code] = units
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stockMap, nil
}

func uniqueCodes(lines []domain.SaleLine) []string {
	seen := make(map[string]struct{}, len(lines))
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.Code]; ok {
			continue
		}
		seen[line.Code] = struct{}{}
		codes = append(codes, line.Code)
	}
	return codes
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"velora/backend/internal/cart"
	"velora/backend/internal/domain"
	"velora/backend/internal/store"
	"velora/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	branchesByID       map[string]domain.Branch
	personsByID        map[string]domain.Person
	products           map[string]domain.Product
	inventory          map[string]map[string]int
	priceHistoryByCode map[string][]domain.PriceHistory
	salesByID          map[string]*domain.Sale
	salesByIdem        map[string]*domain.Sale
	purchasesByID      map[string]*domain.Purchase
	defectivesByID     map[string]domain.Defective
	serviceSalesByID   map[string]*domain.ServiceSale
	draftsByID         map[string]domain.DraftCart
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func NewSeeded() *Store {
	now := time.Now().UTC()
	branch := domain.Branch{ID: "main-branch", Name: "Casa Central", Address: "Av. Principal 100", CreatedAt: now}

	products := []domain.Product{
		{Code: "PRD-SHAMPOO-01", Name: "Shampoo Nutritivo 400ml", Category: "cuidado", Price: price("28.50"), Tracked: true, Active: true},
		{Code: "PRD-ACOND-01", Name: "Acondicionador 400ml", Category: "cuidado", Price: price("26.00"), Tracked: true, Active: true},
		{Code: "PRD-TINTE-01", Name: "Tinte Castano 60ml", Category: "coloracion", Price: price("45.90"), Tracked: true, Active: true},
		{Code: "PRD-TINTE-02", Name: "Tinte Rubio 60ml", Category: "coloracion", Price: price("45.90"), Tracked: true, Active: true},
		{Code: "PRD-CREMA-01", Name: "Crema de Peinar 250ml", Category: "cuidado", Price: price("19.75"), Tracked: true, Active: true},
		{Code: "PRD-GEL-01", Name: "Gel Fijador 500ml", Category: "peinado", Price: price("14.20"), Tracked: true, Active: true},
		{Code: "PRD-LACA-01", Name: "Laca Extra Fuerte", Category: "peinado", Price: price("22.60"), Tracked: true, Active: true},
		{Code: "PRD-CEPILLO-01", Name: "Cepillo Redondo", Category: "accesorios", Price: price("31.00"), Tracked: true, Active: true},
		{Code: "PRD-SECADOR-01", Name: "Secador Profesional", Category: "equipos", Price: price("189.99"), Tracked: true, Active: true},
		{Code: "SVC-CORTE-01", Name: "Corte de Cabello", Category: "servicios", Price: price("25.00"), Tracked: false, Active: true},
		{Code: "SVC-PEINADO-01", Name: "Peinado de Evento", Category: "servicios", Price: price("60.00"), Tracked: false, Active: true},
		{Code: "SVC-TINTURA-01", Name: "Aplicacion de Tintura", Category: "servicios", Price: price("80.00"), Tracked: false, Active: true},
	}

	persons := []domain.Person{
		{ID: "per-client-01", Kind: domain.PersonKindClient, Name: "Maria Lopez", Document: "40123456", Phone: "555-0101", Active: true, CreatedAt: now},
		{ID: "per-client-02", Kind: domain.PersonKindClient, Name: "Jorge Ruiz", Document: "38765432", Phone: "555-0102", Active: true, CreatedAt: now},
		{ID: "per-supplier-01", Kind: domain.PersonKindSupplier, Name: "Distribuidora Capilar SA", Document: "30-70012345-6", Phone: "555-0201", Active: true, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	inventory := make(map[string]map[string]int)
	inventory[branch.ID] = make(map[string]int)
	for _, p := range products {
		p.CreatedAt = now
		productMap[p.Code] = p
		if p.Tracked {
			inventory[branch.ID][p.Code] = 40
		}
	}

	personMap := make(map[string]domain.Person, len(persons))
	for _, p := range persons {
		personMap[p.ID] = p
	}

	return &Store{
		branchesByID:       map[string]domain.Branch{branch.ID: branch},
		personsByID:        personMap,
		products:           productMap,
		inventory:          inventory,
		priceHistoryByCode: make(map[string][]domain.PriceHistory),
		salesByID:          make(map[string]*domain.Sale),
		salesByIdem:        make(map[string]*domain.Sale),
		purchasesByID:      make(map[string]*domain.Purchase),
		defectivesByID:     make(map[string]domain.Defective),
		serviceSalesByID:   make(map[string]*domain.ServiceSale),
		draftsByID:         make(map[string]domain.DraftCart),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    seedUsers(),
	}
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branchesByID))
	for _, b := range s.branchesByID {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return branches, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	if _, exists := s.branchesByID[branch.ID]; exists {
		return nil, store.ErrConflict
	}

	s.branchesByID[branch.ID] = branch
	s.inventory[branch.ID] = make(map[string]int)
	created := branch
	return &created, nil
}

func (s *Store) GetBranchByID(_ context.Context, branchID string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, exists := s.branchesByID[branchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBranch := branch
	return &copyBranch, nil
}

func (s *Store) ListPersons(_ context.Context, kind string) ([]domain.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	persons := make([]domain.Person, 0, len(s.personsByID))
	for _, p := range s.personsByID {
		if kind != "" && p.Kind != kind {
			continue
		}
		persons = append(persons, p)
	}
	slices.SortFunc(persons, func(a, b domain.Person) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return persons, nil
}

func (s *Store) CreatePerson(_ context.Context, person domain.Person) (*domain.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.personsByID[person.ID] = person
	created := person
	return &created, nil
}

func (s *Store) GetPersonByID(_ context.Context, personID string) (*domain.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	person, exists := s.personsByID[personID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPerson := person
	return &copyPerson, nil
}

func (s *Store) UpdatePerson(_ context.Context, person domain.Person) (*domain.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if person.ID == "" || strings.TrimSpace(person.Name) == "" {
		return nil, store.ErrInvalid
	}
	existing, exists := s.personsByID[person.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	person.Kind = existing.Kind
	person.CreatedAt = existing.CreatedAt
	s.personsByID[person.ID] = person
	updated := person
	return &updated, nil
}

func (s *Store) ListProducts(_ context.Context, branchID string) ([]domain.ProductWithStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branchStock := s.inventory[branchID]
	products := make([]domain.ProductWithStock, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		entry := domain.ProductWithStock{Product: p}
		if p.Tracked {
			units := 0
			if branchStock != nil {
				units = branchStock[p.Code]
			}
			entry.Stock = &units
		}
		products = append(products, entry)
	}

	slices.SortFunc(products, func(a, b domain.ProductWithStock) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Code == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalid
	}
	if _, exists := s.products[product.Code]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	product.Active = true
	s.products[product.Code] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Code == "" || product.Name == "" || product.Category == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalid
	}
	existing, exists := s.products[product.Code]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Tracked = existing.Tracked
	product.CreatedAt = existing.CreatedAt

	s.products[product.Code] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsByCodes(_ context.Context, codes []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(codes))
	for _, code := range codes {
		if p, ok := s.products[code]; ok && p.Active {
			result[code] = p
		}
	}
	return result, nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.PriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("ph")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.priceHistoryByCode[entry.Code] = append(s.priceHistoryByCode[entry.Code], entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, code string, limit int) ([]domain.PriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.priceHistoryByCode[code]
	if len(history) == 0 {
		return []domain.PriceHistory{}, nil
	}

	result := make([]domain.PriceHistory, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.PriceHistory) int {
		if a.ChangedAt.Equal(b.ChangedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.ChangedAt.After(b.ChangedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetStockMap(_ context.Context, branchID string, codes []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(codes))
	branchStock := s.inventory[branchID]
	for _, code := range codes {
		if branchStock == nil {
			stockMap[code] = 0
			continue
		}
		stockMap[code] = branchStock[code]
	}
	return stockMap, nil
}

func (s *Store) SetStock(_ context.Context, branchID string, code string, units int) error {
	if code == "" || units < 0 {
		return store.ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[code]; !exists {
		return fmt.Errorf("product %s unavailable", code)
	}
	branchStock, ok := s.inventory[branchID]
	if !ok {
		branchStock = make(map[string]int)
		s.inventory[branchID] = branchStock
	}
	branchStock[code] = units
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			return cloneSale(existing), nil
		}
	}
	if len(sale.Lines) == 0 {
		return nil, store.ErrInvalid
	}

	branchStock, ok := s.inventory[sale.BranchID]
	if !ok {
		return nil, fmt.Errorf("branch %s unavailable", sale.BranchID)
	}

	subtotal := decimal.Zero
	recomputed := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalid
		}
		product, exists := s.products[line.Code]
		if !exists || !product.Active {
			return nil, fmt.Errorf("product %s unavailable", line.Code)
		}
		if product.Tracked && branchStock[line.Code] < line.Qty {
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
		if s.products[line.Code].Tracked {
			branchStock[line.Code] -= line.Qty
		}
	}

	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = saleCopy
	}

	return cloneSale(saleCopy), nil
}

func (s *Store) FindSaleByID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) VoidSale(_ context.Context, saleID string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusPaid {
		return nil, store.ErrConflict
	}

	branchStock := s.inventory[sale.BranchID]
	for _, line := range sale.Lines {
		if s.products[line.Code].Tracked {
			branchStock[line.Code] += line.Qty
		}
	}

	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	sale.VoidedAt = &at

	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if purchase.BranchID == "" || purchase.SupplierID == "" || len(purchase.Lines) == 0 {
		return nil, store.ErrInvalid
	}
	supplier, exists := s.personsByID[purchase.SupplierID]
	if !exists || supplier.Kind != domain.PersonKindSupplier {
		return nil, store.ErrNotFound
	}
	branchStock, ok := s.inventory[purchase.BranchID]
	if !ok {
		branchStock = make(map[string]int)
		s.inventory[purchase.BranchID] = branchStock
	}

	total := decimal.Zero
	recomputed := make([]domain.PurchaseLine, 0, len(purchase.Lines))
	for _, line := range purchase.Lines {
		if line.Code == "" || line.Qty < 1 || line.UnitCost.IsNegative() {
			return nil, store.ErrInvalid
		}
		product, exists := s.products[line.Code]
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

	for _, line := range purchase.Lines {
		if s.products[line.Code].Tracked {
			branchStock[line.Code] += line.Qty
		}
	}

	purchaseCopy := clonePurchase(&purchase)
	s.purchasesByID[purchase.ID] = purchaseCopy
	return clonePurchase(purchaseCopy), nil
}

func (s *Store) GetPurchaseByID(_ context.Context, purchaseID string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchasesByID[purchaseID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(purchase), nil
}

func (s *Store) ListPurchases(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, 64)
	for _, purchase := range s.purchasesByID {
		if branchID != "" && purchase.BranchID != branchID {
			continue
		}
		if purchase.CreatedAt.Before(from) || !purchase.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *clonePurchase(purchase))
	}
	slices.SortFunc(result, func(a, b domain.Purchase) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateDefective(_ context.Context, defective domain.Defective) (*domain.Defective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if defective.BranchID == "" || defective.Code == "" || defective.Qty < 1 {
		return nil, store.ErrInvalid
	}
	product, exists := s.products[defective.Code]
	if !exists {
		return nil, store.ErrNotFound
	}
	branchStock := s.inventory[defective.BranchID]
	if product.Tracked {
		if branchStock == nil || branchStock[defective.Code] < defective.Qty {
			return nil, store.ErrInsufficientStock
		}
		branchStock[defective.Code] -= defective.Qty
	}

	if defective.ID == "" {
		defective.ID = xid.New("def")
	}
	if defective.CreatedAt.IsZero() {
		defective.CreatedAt = time.Now().UTC()
	}
	defective.Name = product.Name

	s.defectivesByID[defective.ID] = defective
	created := defective
	return &created, nil
}

func (s *Store) ListDefectives(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Defective, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Defective, 0, 64)
	for _, d := range s.defectivesByID {
		if branchID != "" && d.BranchID != branchID {
			continue
		}
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		result = append(result, d)
	}
	slices.SortFunc(result, func(a, b domain.Defective) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateServiceSale(_ context.Context, sale domain.ServiceSale) (*domain.ServiceSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	saleCopy := cloneServiceSale(&sale)
	s.serviceSalesByID[sale.ID] = saleCopy
	return cloneServiceSale(saleCopy), nil
}

func (s *Store) ListServiceSales(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.ServiceSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ServiceSale, 0, 64)
	for _, sale := range s.serviceSalesByID {
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneServiceSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.ServiceSale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateDraftCart(_ context.Context, draft domain.DraftCart) (*domain.DraftCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.BranchID == "" || len(draft.Lines) == 0 {
		return nil, store.ErrInvalid
	}
	if draft.ID == "" {
		draft.ID = xid.New("draft")
	}
	if draft.HeldAt.IsZero() {
		draft.HeldAt = time.Now().UTC()
	}

	s.draftsByID[draft.ID] = cloneDraft(draft)
	saved := cloneDraft(s.draftsByID[draft.ID])
	return &saved, nil
}

func (s *Store) ListDraftCarts(_ context.Context, branchID string, limit int) ([]domain.DraftCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DraftCart, 0, 64)
	for _, draft := range s.draftsByID {
		if branchID != "" && draft.BranchID != branchID {
			continue
		}
		result = append(result, cloneDraft(draft))
	}
	slices.SortFunc(result, func(a, b domain.DraftCart) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.HeldAt.After(b.HeldAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PopDraftCart(_ context.Context, draftID string) (*domain.DraftCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, exists := s.draftsByID[draftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.draftsByID, draftID)
	result := cloneDraft(draft)
	return &result, nil
}

// DeleteDraftCart is idempotent: discarding a draft that is already gone
// is not an error.
func (s *Store) DeleteDraftCart(_ context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.draftsByID, draftID)
	return nil
}

func (s *Store) GetSalesReport(_ context.Context, branchID string, from time.Time, to time.Time) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

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
	byPayment := map[string]*domain.PaymentBreakdown{}
	byProduct := map[string]*domain.ProductSales{}

	for _, sale := range s.salesByID {
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		if sale.Status == domain.SaleStatusVoided {
			continue
		}

		report.Transactions++
		report.Gross = report.Gross.Add(sale.Subtotal)
		report.Discounts = report.Discounts.Add(sale.Discount)
		report.Net = report.Net.Add(sale.Total)

		payment := byPayment[sale.PaymentMethod]
		if payment == nil {
			payment = &domain.PaymentBreakdown{Method: sale.PaymentMethod, Total: decimal.Zero}
			byPayment[sale.PaymentMethod] = payment
		}
		payment.Transactions++
		payment.Total = payment.Total.Add(sale.Total)

		for _, line := range sale.Lines {
			product := byProduct[line.Code]
			if product == nil {
				product = &domain.ProductSales{Code: line.Code, Name: line.Name, Total: decimal.Zero}
				byProduct[line.Code] = product
			}
			product.Qty += line.Qty
			product.Total = product.Total.Add(line.Subtotal)
		}
	}

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	for _, entry := range byProduct {
		report.TopProducts = append(report.TopProducts, *entry)
	}

	slices.SortFunc(report.ByPayment, func(a, b domain.PaymentBreakdown) int {
		return cmpString(a.Method, b.Method)
	})
	slices.SortFunc(report.TopProducts, func(a, b domain.ProductSales) int {
		if a.Total.Equal(b.Total) {
			return cmpString(a.Code, b.Code)
		}
		if a.Total.GreaterThan(b.Total) {
			return -1
		}
		return 1
	})
	if len(report.TopProducts) > 10 {
		report.TopProducts = report.TopProducts[:10]
	}

	return report, nil
}

func (s *Store) GetPurchasesReport(_ context.Context, branchID string, from time.Time, to time.Time) (domain.PurchasesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.PurchasesReport{
		BranchID:   branchID,
		From:       from.Format("2006-01-02"),
		To:         to.Format("2006-01-02"),
		Total:      decimal.Zero,
		BySupplier: make([]domain.SupplierBreakdown, 0, 4),
	}
	bySupplier := map[string]*domain.SupplierBreakdown{}

	for _, purchase := range s.purchasesByID {
		if branchID != "" && purchase.BranchID != branchID {
			continue
		}
		if purchase.CreatedAt.Before(from) || !purchase.CreatedAt.Before(to) {
			continue
		}

		report.Purchases++
		report.Total = report.Total.Add(purchase.Total)

		supplier := bySupplier[purchase.SupplierID]
		if supplier == nil {
			name := ""
			if p, ok := s.personsByID[purchase.SupplierID]; ok {
				name = p.Name
			}
			supplier = &domain.SupplierBreakdown{SupplierID: purchase.SupplierID, Name: name, Total: decimal.Zero}
			bySupplier[purchase.SupplierID] = supplier
		}
		supplier.Purchases++
		supplier.Total = supplier.Total.Add(purchase.Total)
	}

	for _, entry := range bySupplier {
		report.BySupplier = append(report.BySupplier, *entry)
	}
	slices.SortFunc(report.BySupplier, func(a, b domain.SupplierBreakdown) int {
		return cmpString(a.SupplierID, b.SupplierID)
	})

	return report, nil
}

func (s *Store) GetDefectivesReport(_ context.Context, branchID string, from time.Time, to time.Time) (domain.DefectivesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DefectivesReport{
		BranchID:      branchID,
		From:          from.Format("2006-01-02"),
		To:            to.Format("2006-01-02"),
		EstimatedLoss: decimal.Zero,
		ByProduct:     make([]domain.DefectiveBreakdown, 0, 4),
	}
	byProduct := map[string]*domain.DefectiveBreakdown{}

	for _, d := range s.defectivesByID {
		if branchID != "" && d.BranchID != branchID {
			continue
		}
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}

		report.Incidents++
		report.Units += d.Qty
		if product, ok := s.products[d.Code]; ok {
			report.EstimatedLoss = report.EstimatedLoss.Add(product.Price.Mul(decimal.NewFromInt(int64(d.Qty)))).Round(2)
		}

		entry := byProduct[d.Code]
		if entry == nil {
			entry = &domain.DefectiveBreakdown{Code: d.Code, Name: d.Name}
			byProduct[d.Code] = entry
		}
		entry.Units += d.Qty
	}

	for _, entry := range byProduct {
		report.ByProduct = append(report.ByProduct, *entry)
	}
	slices.SortFunc(report.ByProduct, func(a, b domain.DefectiveBreakdown) int {
		if a.Units == b.Units {
			return cmpString(a.Code, b.Code)
		}
		if a.Units > b.Units {
			return -1
		}
		return 1
	})

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	if src.VoidedAt != nil {
		at := *src.VoidedAt
		dup.VoidedAt = &at
	}
	return &dup
}

func clonePurchase(src *domain.Purchase) *domain.Purchase {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.PurchaseLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}

func cloneServiceSale(src *domain.ServiceSale) *domain.ServiceSale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}

func cloneDraft(src domain.DraftCart) domain.DraftCart {
	dup := src
	lines := make(cart.Cart, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}

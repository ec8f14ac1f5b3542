package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"velora/backend/internal/cart"
	"velora/backend/internal/domain"
	"velora/backend/internal/reports"
	"velora/backend/internal/store"
	"velora/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	reports         *reports.Engine
	defaultBranchID string
}

func New(repo store.Repository, reportEngine *reports.Engine, defaultBranchID string) *Service {
	if defaultBranchID == "" {
		defaultBranchID = "main-branch"
	}

	return &Service{
		repo:            repo,
		reports:         reportEngine,
		defaultBranchID: defaultBranchID,
	}
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Branch{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Branch{}, store.ErrInvalid
	}

	branch := domain.Branch{
		ID:        xid.New("br"),
		Name:      req.Name,
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: time.Now().UTC(),
	}
	saved, err := s.repo.CreateBranch(ctx, branch)
	if err != nil {
		return domain.Branch{}, err
	}

	s.logAudit(ctx, saved.ID, "branch_create", "branch", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListPersons(ctx context.Context, kind string) ([]domain.Person, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" && kind != domain.PersonKindClient && kind != domain.PersonKindSupplier {
		return nil, store.ErrInvalid
	}
	return s.repo.ListPersons(ctx, kind)
}

func (s *Service) CreatePerson(ctx context.Context, req domain.PersonCreateRequest) (domain.Person, error) {
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Person{}, store.ErrInvalid
	}
	if req.Kind != domain.PersonKindClient && req.Kind != domain.PersonKindSupplier {
		return domain.Person{}, store.ErrInvalid
	}

	person := domain.Person{
		ID:        xid.New("per"),
		Kind:      req.Kind,
		Name:      req.Name,
		Document:  strings.TrimSpace(req.Document),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	saved, err := s.repo.CreatePerson(ctx, person)
	if err != nil {
		return domain.Person{}, err
	}

	s.logAudit(ctx, s.defaultBranchID, "person_create", "person", saved.ID, fmt.Sprintf("kind=%s,name=%s", saved.Kind, saved.Name))
	return *saved, nil
}

func (s *Service) UpdatePerson(ctx context.Context, personID string, req domain.PersonUpdateRequest) (domain.Person, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return domain.Person{}, store.ErrInvalid
	}

	existing, err := s.repo.GetPersonByID(ctx, personID)
	if err != nil {
		return domain.Person{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Person{}, store.ErrInvalid
		}
		updated.Name = name
	}
	if req.Document != nil {
		updated.Document = strings.TrimSpace(*req.Document)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdatePerson(ctx, updated)
	if err != nil {
		return domain.Person{}, err
	}

	s.logAudit(ctx, s.defaultBranchID, "person_update", "person", saved.ID, fmt.Sprintf("active=%t", saved.Active))
	return *saved, nil
}

func (s *Service) ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	return s.repo.ListProducts(ctx, branchID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.Code == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalid
	}
	if !req.Price.IsPositive() || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalid
	}
	if !req.Tracked && req.InitialStock > 0 {
		return domain.Product{}, store.ErrInvalid
	}

	product := domain.Product{
		Code:      req.Code,
		Name:      req.Name,
		Category:  req.Category,
		Price:     req.Price.Round(2),
		Tracked:   req.Tracked,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		if err := s.repo.SetStock(ctx, req.BranchID, created.Code, req.InitialStock); err != nil {
			return domain.Product{}, err
		}
	}

	s.logAudit(ctx, req.BranchID, "product_create", "product", created.Code,
		fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price, req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, code string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Product{}, store.ErrInvalid
	}

	existing, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalid
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalid
		}
		updated.Category = category
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.Product{}, store.ErrInvalid
		}
		updated.Price = req.Price.Round(2)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if !existing.Price.Equal(saved.Price) {
		if err := s.repo.CreatePriceHistory(ctx, domain.PriceHistory{
			ID:        xid.New("ph"),
			Code:      saved.Code,
			OldPrice:  existing.Price,
			NewPrice:  saved.Price,
			ChangedBy: actor.Username,
			ChangedAt: time.Now().UTC(),
		}); err != nil {
			log.Printf("[service] WARN: failed to record price history code=%s: %v", saved.Code, err)
		}
	}

	s.logAudit(ctx, s.defaultBranchID, "product_update", "product", saved.Code, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.Price))
	return *saved, nil
}

func (s *Service) ListProductPriceHistory(ctx context.Context, code string, limit int) ([]domain.PriceHistory, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, store.ErrInvalid
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPriceHistory(ctx, code, limit)
}

func (s *Service) AdjustStock(ctx context.Context, code string, req domain.StockAdjustRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || req.Units < 0 {
		return store.ErrInvalid
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}

	product, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return err
	}
	if !product.Tracked {
		return fmt.Errorf("%w: product %s has no tracked stock", store.ErrInvalid, code)
	}

	if err := s.repo.SetStock(ctx, req.BranchID, code, req.Units); err != nil {
		return err
	}
	s.logAudit(ctx, req.BranchID, "stock_adjust", "product", code, fmt.Sprintf("units=%d", req.Units))
	return nil
}

// resolveCartLines replays the requested items through the cart engine
// against current catalog prices and branch stock. Items resolve one at
// a time, so a repeated code merges into its existing line the same way
// repeated scans do at the register.
func (s *Service) resolveCartLines(ctx context.Context, branchID string, items []domain.CartItemInput) (cart.Result, error) {
	if len(items) == 0 {
		return cart.Result{}, store.ErrInvalid
	}

	codes := make([]string, 0, len(items))
	for _, item := range items {
		codes = append(codes, strings.ToUpper(strings.TrimSpace(item.Code)))
	}

	products, err := s.repo.GetProductsByCodes(ctx, codes)
	if err != nil {
		return cart.Result{}, err
	}
	stockMap, err := s.repo.GetStockMap(ctx, branchID, codes)
	if err != nil {
		return cart.Result{}, err
	}

	var result cart.Result
	current := cart.Cart(nil)
	for i, item := range items {
		code := codes[i]
		product, exists := products[code]
		if !exists || !product.Active {
			return cart.Result{}, fmt.Errorf("%w: unknown product %s", cart.ErrInvalidProduct, code)
		}
		ref := cart.ProductRef{
			ProductID: product.Code,
			Name:      product.Name,
			Price:     product.Price,
			Stock:     product.StockCeiling(stockMap[code]),
		}
		result, err = cart.Add(current, ref, item.Qty)
		if err != nil {
			return cart.Result{}, err
		}
		current = result.Cart
	}
	return result, nil
}

func (s *Service) QuoteCart(ctx context.Context, req domain.CartQuoteRequest) (domain.CartQuoteResponse, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}

	result, err := s.resolveCartLines(ctx, req.BranchID, req.Items)
	if err != nil {
		return domain.CartQuoteResponse{}, err
	}

	return domain.CartQuoteResponse{
		BranchID: req.BranchID,
		Lines:    result.Cart,
		Total:    result.Total,
	}, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.SaleResponse{}, store.ErrInvalid
	}
	if req.Discount.IsNegative() {
		return domain.SaleResponse{}, store.ErrInvalid
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if req.ClientID != "" {
		client, err := s.repo.GetPersonByID(ctx, req.ClientID)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		if client.Kind != domain.PersonKindClient {
			return domain.SaleResponse{}, store.ErrInvalid
		}
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	result, err := s.resolveCartLines(ctx, req.BranchID, req.Items)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if req.Discount.GreaterThan(result.Total) {
		return domain.SaleResponse{}, store.ErrInvalid
	}

	actor, _ := ActorFromContext(ctx)
	sale := domain.Sale{
		ID:              xid.New("sale"),
		BranchID:        req.BranchID,
		ClientID:        req.ClientID,
		CashierUsername: actor.Username,
		IdempotencyKey:  req.IdempotencyKey,
		PaymentMethod:   req.PaymentMethod,
		Discount:        req.Discount.Round(2),
		CashReceived:    req.CashReceived,
		Status:          domain.SaleStatusPaid,
		CreatedAt:       time.Now().UTC(),
		Lines:           saleLinesFromCart(result.Cart),
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, req.BranchID, "sale_create", "sale", created.ID,
		fmt.Sprintf("total=%s,payment=%s,discount=%s,lines=%d", created.Total, created.PaymentMethod, created.Discount, len(created.Lines)))

	return domain.SaleResponse{Sale: *created, Duplicate: false}, nil
}

func (s *Service) FindSale(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalid
	}
	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) VoidSale(ctx context.Context, saleID string, reason string) (domain.VoidSaleResponse, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.VoidSaleResponse{}, store.ErrInvalid
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}

	voidedAt := time.Now().UTC()
	sale, err := s.repo.VoidSale(ctx, saleID, reason, voidedAt)
	if err != nil {
		return domain.VoidSaleResponse{}, err
	}

	s.logAudit(ctx, sale.BranchID, "sale_void", "sale", sale.ID, reason)

	return domain.VoidSaleResponse{
		SaleID:   sale.ID,
		Status:   sale.Status,
		VoidedAt: voidedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) ListSales(ctx context.Context, branchID string, from string, to string, limit int) ([]domain.Sale, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit < 1 {
		limit = 100
	}
	fromAt, toAt, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, branchID, fromAt, toAt, limit)
}

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Purchase{}, fmt.Errorf("admin role required")
	}

	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if req.SupplierID == "" || len(req.Items) == 0 {
		return domain.Purchase{}, store.ErrInvalid
	}

	supplier, err := s.repo.GetPersonByID(ctx, req.SupplierID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if supplier.Kind != domain.PersonKindSupplier {
		return domain.Purchase{}, store.ErrInvalid
	}

	// Purchase lines run through the same line algebra as sales. There
	// is no ceiling on what can be bought in.
	current := cart.Cart(nil)
	for _, item := range req.Items {
		code := strings.ToUpper(strings.TrimSpace(item.Code))
		if code == "" || item.UnitCost.IsNegative() {
			return domain.Purchase{}, store.ErrInvalid
		}
		ref := cart.ProductRef{
			ProductID: code,
			Name:      code,
			Price:     item.UnitCost,
			Stock:     cart.Unlimited(),
		}
		result, err := cart.Add(current, ref, item.Qty)
		if err != nil {
			return domain.Purchase{}, err
		}
		current = result.Cart
	}

	lines := make([]domain.PurchaseLine, 0, len(current))
	for _, line := range current {
		lines = append(lines, domain.PurchaseLine{
			Code:     line.ProductID,
			Qty:      line.Quantity,
			UnitCost: line.Price,
			Subtotal: line.Subtotal,
		})
	}

	purchase := domain.Purchase{
		ID:            xid.New("pur"),
		BranchID:      req.BranchID,
		SupplierID:    req.SupplierID,
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		CreatedBy:     actor.Username,
		CreatedAt:     time.Now().UTC(),
		Lines:         lines,
	}

	created, err := s.repo.CreatePurchase(ctx, purchase)
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, req.BranchID, "purchase_create", "purchase", created.ID,
		fmt.Sprintf("supplier=%s,total=%s,lines=%d", created.SupplierID, created.Total, len(created.Lines)))
	return *created, nil
}

func (s *Service) ListPurchases(ctx context.Context, branchID string, from string, to string, limit int) ([]domain.Purchase, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit < 1 {
		limit = 100
	}
	fromAt, toAt, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPurchases(ctx, branchID, fromAt, toAt, limit)
}

func (s *Service) CreateDefective(ctx context.Context, req domain.DefectiveCreateRequest) (domain.Defective, error) {
	actor, _ := ActorFromContext(ctx)

	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Code == "" || req.Qty < 1 || req.Reason == "" {
		return domain.Defective{}, store.ErrInvalid
	}

	defective := domain.Defective{
		ID:         xid.New("def"),
		BranchID:   req.BranchID,
		Code:       req.Code,
		Qty:        req.Qty,
		Reason:     req.Reason,
		ReportedBy: actor.Username,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.repo.CreateDefective(ctx, defective)
	if err != nil {
		return domain.Defective{}, err
	}

	s.logAudit(ctx, req.BranchID, "defective_record", "defective", created.ID,
		fmt.Sprintf("code=%s,qty=%d,reason=%s", created.Code, created.Qty, created.Reason))
	return *created, nil
}

func (s *Service) ListDefectives(ctx context.Context, branchID string, from string, to string, limit int) ([]domain.Defective, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit < 1 {
		limit = 100
	}
	fromAt, toAt, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDefectives(ctx, branchID, fromAt, toAt, limit)
}

func (s *Service) CreateServiceSale(ctx context.Context, req domain.ServiceSaleCreateRequest) (domain.ServiceSale, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.ServiceSale{}, store.ErrInvalid
	}
	if req.Discount.IsNegative() || len(req.Items) == 0 {
		return domain.ServiceSale{}, store.ErrInvalid
	}
	if req.ClientID != "" {
		client, err := s.repo.GetPersonByID(ctx, req.ClientID)
		if err != nil {
			return domain.ServiceSale{}, err
		}
		if client.Kind != domain.PersonKindClient {
			return domain.ServiceSale{}, store.ErrInvalid
		}
	}

	// Service lines are priced ad hoc by the hairdresser. The line
	// identity is the service name and stock never constrains them.
	current := cart.Cart(nil)
	for _, item := range req.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" || item.Price.IsNegative() {
			return domain.ServiceSale{}, store.ErrInvalid
		}
		ref := cart.ProductRef{
			ProductID: strings.ToLower(name),
			Name:      name,
			Price:     item.Price,
			Stock:     cart.Unlimited(),
		}
		result, err := cart.Add(current, ref, item.Qty)
		if err != nil {
			return domain.ServiceSale{}, err
		}
		current = result.Cart
	}

	if req.Discount.GreaterThan(cart.Totals(current)) {
		return domain.ServiceSale{}, store.ErrInvalid
	}

	actor, _ := ActorFromContext(ctx)
	sale := domain.ServiceSale{
		ID:            xid.New("svc"),
		BranchID:      req.BranchID,
		ClientID:      req.ClientID,
		Hairdresser:   strings.TrimSpace(req.Hairdresser),
		PaymentMethod: req.PaymentMethod,
		Discount:      req.Discount.Round(2),
		CreatedBy:     actor.Username,
		CreatedAt:     time.Now().UTC(),
		Lines:         saleLinesFromCart(current),
	}

	created, err := s.repo.CreateServiceSale(ctx, sale)
	if err != nil {
		return domain.ServiceSale{}, err
	}

	s.logAudit(ctx, req.BranchID, "service_sale_create", "service_sale", created.ID,
		fmt.Sprintf("total=%s,hairdresser=%s,lines=%d", created.Total, created.Hairdresser, len(created.Lines)))
	return *created, nil
}

func (s *Service) ListServiceSales(ctx context.Context, branchID string, from string, to string, limit int) ([]domain.ServiceSale, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit < 1 {
		limit = 100
	}
	fromAt, toAt, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListServiceSales(ctx, branchID, fromAt, toAt, limit)
}

func (s *Service) HoldDraftCart(ctx context.Context, req domain.DraftHoldRequest) (domain.DraftCart, error) {
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if len(req.Lines) == 0 {
		return domain.DraftCart{}, store.ErrInvalid
	}
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Quantity < 1 {
			return domain.DraftCart{}, store.ErrInvalid
		}
	}

	actor, _ := ActorFromContext(ctx)
	draft := domain.DraftCart{
		ID:       xid.New("draft"),
		BranchID: req.BranchID,
		HeldBy:   actor.Username,
		Note:     strings.TrimSpace(req.Note),
		Lines:    req.Lines,
		Total:    cart.Totals(req.Lines),
		HeldAt:   time.Now().UTC(),
	}

	saved, err := s.repo.CreateDraftCart(ctx, draft)
	if err != nil {
		return domain.DraftCart{}, err
	}
	s.logAudit(ctx, req.BranchID, "draft_hold", "draft_cart", saved.ID, fmt.Sprintf("lines=%d", len(saved.Lines)))
	return *saved, nil
}

func (s *Service) ListDraftCarts(ctx context.Context, branchID string) (domain.DraftListResponse, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	items, err := s.repo.ListDraftCarts(ctx, branchID, 200)
	if err != nil {
		return domain.DraftListResponse{}, err
	}
	return domain.DraftListResponse{Items: items}, nil
}

// ResumeDraftCart pops the draft and rehydrates its total from the
// stored lines rather than trusting the figure saved at hold time.
func (s *Service) ResumeDraftCart(ctx context.Context, draftID string) (domain.DraftCart, error) {
	draftID = strings.TrimSpace(draftID)
	if draftID == "" {
		return domain.DraftCart{}, store.ErrInvalid
	}

	draft, err := s.repo.PopDraftCart(ctx, draftID)
	if err != nil {
		return domain.DraftCart{}, err
	}
	draft.Total = cart.Totals(draft.Lines)

	s.logAudit(ctx, draft.BranchID, "draft_resume", "draft_cart", draft.ID, fmt.Sprintf("lines=%d", len(draft.Lines)))
	return *draft, nil
}

// DiscardDraftCart mirrors the engine's delete semantics: discarding a
// draft that no longer exists is a no-op, not an error.
func (s *Service) DiscardDraftCart(ctx context.Context, draftID string) error {
	draftID = strings.TrimSpace(draftID)
	if draftID == "" {
		return store.ErrInvalid
	}

	if err := s.repo.DeleteDraftCart(ctx, draftID); err != nil {
		return err
	}
	s.logAudit(ctx, s.defaultBranchID, "draft_discard", "draft_cart", draftID, "discarded")
	return nil
}

func (s *Service) SalesReport(ctx context.Context, branchID string, from string, to string) (domain.SalesReport, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	fromAt, toAt, err := parseDateRange(from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}
	return s.reports.Sales(ctx, branchID, fromAt, toAt)
}

func (s *Service) PurchasesReport(ctx context.Context, branchID string, from string, to string) (domain.PurchasesReport, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	fromAt, toAt, err := parseDateRange(from, to)
	if err != nil {
		return domain.PurchasesReport{}, err
	}
	return s.reports.Purchases(ctx, branchID, fromAt, toAt)
}

func (s *Service) DefectivesReport(ctx context.Context, branchID string, from string, to string) (domain.DefectivesReport, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	fromAt, toAt, err := parseDateRange(from, to)
	if err != nil {
		return domain.DefectivesReport{}, err
	}
	return s.reports.Defectives(ctx, branchID, fromAt, toAt)
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalid
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, branchID, from, to, limit)
}

func saleLinesFromCart(c cart.Cart) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(c))
	for _, line := range c {
		lines = append(lines, domain.SaleLine{
			Code:      line.ProductID,
			Name:      line.Name,
			Qty:       line.Quantity,
			UnitPrice: line.Price,
			Subtotal:  line.Subtotal,
		})
	}
	return lines
}

// parseDateRange turns inclusive yyyy-mm-dd bounds into a half-open
// [from, to) window. Empty bounds default to the trailing 30 days.
func parseDateRange(from string, to string) (time.Time, time.Time, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)

	if from == "" && to == "" {
		now := time.Now().UTC()
		return now.Add(-30 * 24 * time.Hour), now.Add(time.Minute), nil
	}

	if from == "" {
		from = to
	}
	fromAt, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalid
	}
	if to == "" {
		to = from
	}
	toAt, err := time.Parse("2006-01-02", to)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalid
	}
	toAt = toAt.Add(24 * time.Hour)
	if !fromAt.Before(toAt) {
		return time.Time{}, time.Time{}, store.ErrInvalid
	}
	return fromAt.UTC(), toAt.UTC(), nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodTransfer:
		return true
	}
	return false
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

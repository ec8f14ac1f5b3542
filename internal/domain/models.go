package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"velora/backend/internal/cart"
)

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type BranchCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Person struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Document  string    `json:"document"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type PersonCreateRequest struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Document string `json:"document"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Address  string `json:"address"`
}

type PersonUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Document *string `json:"document,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Email    *string `json:"email,omitempty"`
	Address  *string `json:"address,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

type Product struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Tracked   bool            `json:"tracked"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// StockCeiling is the purchasable ceiling for the product at one
// branch. Untracked products (services, consignment goods) have no
// ceiling.
func (p Product) StockCeiling(units int) cart.Stock {
	if !p.Tracked {
		return cart.Unlimited()
	}
	return cart.Limited(units)
}

type ProductWithStock struct {
	Product
	Stock *int `json:"stock"`
}

type ProductCreateRequest struct {
	BranchID     string          `json:"branch_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Tracked      bool            `json:"tracked"`
	InitialStock int             `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Active   *bool            `json:"active,omitempty"`
}

type StockAdjustRequest struct {
	BranchID string `json:"branch_id"`
	Units    int    `json:"units"`
}

type PriceHistory struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

type CartItemInput struct {
	Code string `json:"code"`
	Qty  int    `json:"qty"`
}

type CartQuoteRequest struct {
	BranchID string          `json:"branch_id"`
	Items    []CartItemInput `json:"items"`
}

type CartQuoteResponse struct {
	BranchID string          `json:"branch_id"`
	Lines    cart.Cart       `json:"lines"`
	Total    decimal.Decimal `json:"total"`
}

type SaleLine struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Sale struct {
	ID              string          `json:"id"`
	BranchID        string          `json:"branch_id"`
	ClientID        string          `json:"client_id,omitempty"`
	CashierUsername string          `json:"cashier_username"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	CashReceived    decimal.Decimal `json:"cash_received"`
	Change          decimal.Decimal `json:"change"`
	Status          string          `json:"status"`
	VoidReason      string          `json:"void_reason,omitempty"`
	VoidedAt        *time.Time      `json:"voided_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Lines           []SaleLine      `json:"lines"`
}

type SaleCreateRequest struct {
	BranchID       string          `json:"branch_id"`
	ClientID       string          `json:"client_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	PaymentMethod  string          `json:"payment_method"`
	CashReceived   decimal.Decimal `json:"cash_received"`
	Discount       decimal.Decimal `json:"discount"`
	Items          []CartItemInput `json:"items"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type VoidSaleRequest struct {
	Reason        string `json:"reason"`
	AdminPassword string `json:"admin_password"`
}

type VoidSaleResponse struct {
	SaleID   string `json:"sale_id"`
	Status   string `json:"status"`
	VoidedAt string `json:"voided_at"`
}

type PurchaseItemInput struct {
	Code     string          `json:"code"`
	Qty      int             `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type PurchaseLine struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Qty      int             `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type Purchase struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	SupplierID    string          `json:"supplier_id"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Total         decimal.Decimal `json:"total"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []PurchaseLine  `json:"lines"`
}

type PurchaseCreateRequest struct {
	BranchID      string              `json:"branch_id"`
	SupplierID    string              `json:"supplier_id"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	Items         []PurchaseItemInput `json:"items"`
}

type Defective struct {
	ID         string    `json:"id"`
	BranchID   string    `json:"branch_id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Qty        int       `json:"qty"`
	Reason     string    `json:"reason"`
	ReportedBy string    `json:"reported_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type DefectiveCreateRequest struct {
	BranchID string `json:"branch_id"`
	Code     string `json:"code"`
	Qty      int    `json:"qty"`
	Reason   string `json:"reason"`
}

type ServiceItemInput struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Qty   int             `json:"qty"`
}

type ServiceSale struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	ClientID      string          `json:"client_id,omitempty"`
	Hairdresser   string          `json:"hairdresser"`
	PaymentMethod string          `json:"payment_method"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []SaleLine      `json:"lines"`
}

type ServiceSaleCreateRequest struct {
	BranchID      string             `json:"branch_id"`
	ClientID      string             `json:"client_id,omitempty"`
	Hairdresser   string             `json:"hairdresser"`
	PaymentMethod string             `json:"payment_method"`
	Discount      decimal.Decimal    `json:"discount"`
	Items         []ServiceItemInput `json:"items"`
}

type DraftCart struct {
	ID       string          `json:"id"`
	BranchID string          `json:"branch_id"`
	HeldBy   string          `json:"held_by"`
	Note     string          `json:"note"`
	Lines    cart.Cart       `json:"lines"`
	Total    decimal.Decimal `json:"total"`
	HeldAt   time.Time       `json:"held_at"`
}

type DraftHoldRequest struct {
	BranchID string    `json:"branch_id"`
	Note     string    `json:"note"`
	Lines    cart.Cart `json:"lines"`
}

type DraftListResponse struct {
	Items []DraftCart `json:"items"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type PaymentBreakdown struct {
	Method       string          `json:"method"`
	Transactions int64           `json:"transactions"`
	Total        decimal.Decimal `json:"total"`
}

type ProductSales struct {
	Code  string          `json:"code"`
	Name  string          `json:"name"`
	Qty   int             `json:"qty"`
	Total decimal.Decimal `json:"total"`
}

type SalesReport struct {
	BranchID     string             `json:"branch_id"`
	From         string             `json:"from"`
	To           string             `json:"to"`
	Transactions int64              `json:"transactions"`
	Gross        decimal.Decimal    `json:"gross"`
	Discounts    decimal.Decimal    `json:"discounts"`
	Net          decimal.Decimal    `json:"net"`
	ByPayment    []PaymentBreakdown `json:"by_payment"`
	TopProducts  []ProductSales     `json:"top_products"`
}

type SupplierBreakdown struct {
	SupplierID string          `json:"supplier_id"`
	Name       string          `json:"name"`
	Purchases  int64           `json:"purchases"`
	Total      decimal.Decimal `json:"total"`
}

type PurchasesReport struct {
	BranchID   string              `json:"branch_id"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Purchases  int64               `json:"purchases"`
	Total      decimal.Decimal     `json:"total"`
	BySupplier []SupplierBreakdown `json:"by_supplier"`
}

type DefectiveBreakdown struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Units int    `json:"units"`
}

type DefectivesReport struct {
	BranchID      string               `json:"branch_id"`
	From          string               `json:"from"`
	To            string               `json:"to"`
	Incidents     int64                `json:"incidents"`
	Units         int                  `json:"units"`
	EstimatedLoss decimal.Decimal      `json:"estimated_loss"`
	ByProduct     []DefectiveBreakdown `json:"by_product"`
}

const (
	PersonKindClient   = "client"
	PersonKindSupplier = "supplier"
)

const (
	SaleStatusPaid   = "paid"
	SaleStatusVoided = "voided"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

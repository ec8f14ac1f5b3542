package store

import (
	"context"
	"errors"
	"time"

	"velora/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid request")
	ErrConflict          = errors.New("conflict")
)

type Repository interface {
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranchByID(ctx context.Context, branchID string) (*domain.Branch, error)

	ListPersons(ctx context.Context, kind string) ([]domain.Person, error)
	CreatePerson(ctx context.Context, person domain.Person) (*domain.Person, error)
	GetPersonByID(ctx context.Context, personID string) (*domain.Person, error)
	UpdatePerson(ctx context.Context, person domain.Person) (*domain.Person, error)

	ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsByCodes(ctx context.Context, codes []string) (map[string]domain.Product, error)
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error
	ListPriceHistory(ctx context.Context, code string, limit int) ([]domain.PriceHistory, error)

	GetStockMap(ctx context.Context, branchID string, codes []string) (map[string]int, error)
	SetStock(ctx context.Context, branchID string, code string, units int) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, saleID string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	VoidSale(ctx context.Context, saleID string, reason string, at time.Time) (*domain.Sale, error)
	ListSales(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetPurchaseByID(ctx context.Context, purchaseID string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Purchase, error)

	CreateDefective(ctx context.Context, defective domain.Defective) (*domain.Defective, error)
	ListDefectives(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.Defective, error)

	CreateServiceSale(ctx context.Context, sale domain.ServiceSale) (*domain.ServiceSale, error)
	ListServiceSales(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.ServiceSale, error)

	CreateDraftCart(ctx context.Context, draft domain.DraftCart) (*domain.DraftCart, error)
	ListDraftCarts(ctx context.Context, branchID string, limit int) ([]domain.DraftCart, error)
	PopDraftCart(ctx context.Context, draftID string) (*domain.DraftCart, error)
	DeleteDraftCart(ctx context.Context, draftID string) error

	GetSalesReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.SalesReport, error)
	GetPurchasesReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.PurchasesReport, error)
	GetDefectivesReport(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.DefectivesReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

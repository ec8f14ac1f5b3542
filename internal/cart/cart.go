// Package cart implements the pure line-item engine behind sales,
// service billing and held drafts. Every operation takes a cart value
// and returns a new one; callers never observe a mutation of the input.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidProduct  = errors.New("invalid product")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrOutOfStock      = errors.New("insufficient stock")
	ErrNotFound        = errors.New("product not in cart")
)

// StockError reports a rejected quantity change together with how much
// stock was actually available. It matches errors.Is(err, ErrOutOfStock).
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrOutOfStock }

// Stock is the purchasable ceiling for a product. Unbounded stock is
// used for services and for products whose inventory is not tracked.
type Stock struct {
	Units     int
	Unbounded bool
}

func Limited(units int) Stock { return Stock{Units: units} }

func Unlimited() Stock { return Stock{Unbounded: true} }

// allows reports whether holding total units of the product would stay
// within the ceiling.
func (s Stock) allows(total int) bool { return s.Unbounded || total <= s.Units }

// MarshalJSON encodes unbounded stock as null and bounded stock as the
// unit count, which is also the shape accepted by UnmarshalJSON.
func (s Stock) MarshalJSON() ([]byte, error) {
	if s.Unbounded {
		return []byte("null"), nil
	}
	return json.Marshal(s.Units)
}

func (s *Stock) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Stock{Unbounded: true}
		return nil
	}
	var units int
	if err := json.Unmarshal(data, &units); err != nil {
		return fmt.Errorf("stock: %w", err)
	}
	*s = Stock{Units: units}
	return nil
}

// ProductRef is the catalog view of a product at the moment it enters
// the cart. Price and stock are captured here; the engine never looks
// anything up on its own.
type ProductRef struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Stock     Stock
}

// Line is one cart entry. Subtotal is always Price*Quantity rounded to
// two decimal places.
type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Stock     Stock           `json:"stock"`
}

// Cart is an ordered sequence of lines, at most one per product.
// Insertion order is preserved across all operations.
type Cart []Line

// Result pairs the cart produced by an operation with its total.
type Result struct {
	Cart  Cart            `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// Add puts qty units of product into the cart. If the product is
// already present the quantities merge into the existing line, which
// keeps its position but takes the price and stock from product. The
// merged quantity must fit within product's stock ceiling.
func Add(c Cart, product ProductRef, qty int) (Result, error) {
	if product.ProductID == "" {
		return Result{}, ErrInvalidProduct
	}
	if qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	idx := indexOf(c, product.ProductID)
	total := qty
	if idx >= 0 {
		total += c[idx].Quantity
	}
	if !product.Stock.allows(total) {
		return Result{}, &StockError{ProductID: product.ProductID, Requested: total, Available: product.Stock.Units}
	}
	next := clone(c)
	if idx >= 0 {
		next[idx] = newLine(product, total)
		return result(next), nil
	}
	next = append(next, newLine(product, qty))
	return result(next), nil
}

// Remove subtracts qty units from the product's line. Removing the full
// quantity (or more) drops the line entirely; the remaining lines keep
// their order.
func Remove(c Cart, productID string, qty int) (Result, error) {
	if qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	idx := indexOf(c, productID)
	if idx < 0 {
		return Result{}, ErrNotFound
	}
	remaining := c[idx].Quantity - qty
	if remaining <= 0 {
		return deleteAt(c, idx), nil
	}
	next := clone(c)
	line := next[idx]
	line.Quantity = remaining
	line.Subtotal = subtotal(line.Price, remaining)
	next[idx] = line
	return result(next), nil
}

// SetQuantity replaces the product's line quantity outright. A quantity
// of zero drops the line. When the product is already in the cart its
// existing price is kept unless that price is zero, in which case the
// product's price takes over; stock is always re-recorded from product.
func SetQuantity(c Cart, product ProductRef, qty int) (Result, error) {
	if product.ProductID == "" {
		return Result{}, ErrInvalidProduct
	}
	if qty < 0 {
		return Result{}, ErrInvalidQuantity
	}
	idx := indexOf(c, product.ProductID)
	if qty == 0 {
		if idx < 0 {
			return result(clone(c)), nil
		}
		return deleteAt(c, idx), nil
	}
	if !product.Stock.allows(qty) {
		return Result{}, &StockError{ProductID: product.ProductID, Requested: qty, Available: product.Stock.Units}
	}
	next := clone(c)
	if idx >= 0 {
		line := next[idx]
		line.Quantity = qty
		line.Stock = product.Stock
		if line.Price.IsZero() {
			line.Price = product.Price
		}
		line.Subtotal = subtotal(line.Price, qty)
		next[idx] = line
		return result(next), nil
	}
	next = append(next, newLine(product, qty))
	return result(next), nil
}

// DeleteLine removes the product's line regardless of quantity. A
// product not in the cart is not an error; the cart comes back
// unchanged.
func DeleteLine(c Cart, productID string) Result {
	idx := indexOf(c, productID)
	if idx < 0 {
		return result(clone(c))
	}
	return deleteAt(c, idx)
}

// Totals sums the line subtotals, rounded to two decimal places. A line
// with a zero subtotal falls back to price*quantity so that carts
// hydrated from stored JSON total correctly even when the subtotal
// field was omitted.
func Totals(c Cart) decimal.Decimal {
	total := decimal.Zero
	for _, line := range c {
		lineSubtotal := line.Subtotal
		if lineSubtotal.IsZero() {
			lineSubtotal = subtotal(line.Price, line.Quantity)
		}
		total = total.Add(lineSubtotal)
	}
	return total.Round(2)
}

// Quantity returns how many units of the product the cart holds, zero
// when absent.
func Quantity(c Cart, productID string) int {
	if idx := indexOf(c, productID); idx >= 0 {
		return c[idx].Quantity
	}
	return 0
}

func newLine(product ProductRef, qty int) Line {
	return Line{
		ProductID: product.ProductID,
		Name:      product.Name,
		Price:     product.Price,
		Quantity:  qty,
		Subtotal:  subtotal(product.Price, qty),
		Stock:     product.Stock,
	}
}

func subtotal(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

func indexOf(c Cart, productID string) int {
	for i, line := range c {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func clone(c Cart) Cart {
	next := make(Cart, len(c))
	copy(next, c)
	return next
}

func deleteAt(c Cart, idx int) Result {
	next := make(Cart, 0, len(c)-1)
	next = append(next, c[:idx]...)
	next = append(next, c[idx+1:]...)
	return result(next)
}

func result(c Cart) Result {
	return Result{Cart: c, Total: Totals(c)}
}

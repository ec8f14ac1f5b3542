package cart

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func widget() ProductRef {
	return ProductRef{
		ProductID: "p1",
		Name:      "Widget",
		Price:     decimal.NewFromFloat(10.00),
		Stock:     Limited(5),
	}
}

func mustAdd(t *testing.T, c Cart, p ProductRef, qty int) Result {
	t.Helper()
	res, err := Add(c, p, qty)
	if err != nil {
		t.Fatalf("add %s x%d: %v", p.ProductID, qty, err)
	}
	return res
}

func assertMoney(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s = %s want %s", label, got, want)
	}
}

func TestAddNewLine(t *testing.T) {
	res := mustAdd(t, nil, widget(), 2)
	if len(res.Cart) != 1 {
		t.Fatalf("expected 1 line, got %d", len(res.Cart))
	}
	line := res.Cart[0]
	if line.ProductID != "p1" || line.Name != "Widget" || line.Quantity != 2 {
		t.Fatalf("unexpected line %+v", line)
	}
	assertMoney(t, "subtotal", line.Subtotal, "20.00")
	assertMoney(t, "total", res.Total, "20.00")
}

func TestAddMergesExistingLine(t *testing.T) {
	res := mustAdd(t, nil, widget(), 1)
	res = mustAdd(t, res.Cart, widget(), 3)
	if len(res.Cart) != 1 {
		t.Fatalf("merge produced %d lines", len(res.Cart))
	}
	if res.Cart[0].Quantity != 4 {
		t.Fatalf("quantity = %d want 4", res.Cart[0].Quantity)
	}
	assertMoney(t, "subtotal", res.Cart[0].Subtotal, "40.00")
	assertMoney(t, "total", res.Total, "40.00")
}

func TestAddMergeOverwritesPrice(t *testing.T) {
	res := mustAdd(t, nil, widget(), 2)
	repriced := widget()
	repriced.Price = decimal.NewFromFloat(8.50)
	res = mustAdd(t, res.Cart, repriced, 1)
	assertMoney(t, "price", res.Cart[0].Price, "8.5")
	assertMoney(t, "subtotal", res.Cart[0].Subtotal, "25.50")
	assertMoney(t, "total", res.Total, "25.50")
}

func TestAddRejectsInvalidInput(t *testing.T) {
	if _, err := Add(nil, ProductRef{}, 1); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("missing product id: got %v", err)
	}
	if _, err := Add(nil, widget(), 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero quantity: got %v", err)
	}
	if _, err := Add(nil, widget(), -2); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("negative quantity: got %v", err)
	}
}

func TestAddEnforcesStockCeiling(t *testing.T) {
	p2 := ProductRef{ProductID: "p2", Name: "Gadget", Price: decimal.NewFromFloat(7.5), Stock: Limited(2)}
	_, err := Add(nil, p2, 5)
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	var stockErr *StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected *StockError, got %T", err)
	}
	if stockErr.Requested != 5 || stockErr.Available != 2 {
		t.Fatalf("unexpected stock error %+v", stockErr)
	}

	// Merging must count the quantity already in the cart.
	res := mustAdd(t, nil, widget(), 4)
	if _, err := Add(res.Cart, widget(), 2); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("merge past ceiling: got %v", err)
	}
	if res.Cart[0].Quantity != 4 {
		t.Fatalf("failed add mutated cart: %+v", res.Cart[0])
	}
}

func TestAddUnboundedStock(t *testing.T) {
	cut := ProductRef{ProductID: "svc-cut", Name: "Haircut", Price: decimal.NewFromFloat(15), Stock: Unlimited()}
	res := mustAdd(t, nil, cut, 1000)
	if res.Cart[0].Quantity != 1000 {
		t.Fatalf("quantity = %d", res.Cart[0].Quantity)
	}
	assertMoney(t, "total", res.Total, "15000.00")
}

func TestRemoveDecrements(t *testing.T) {
	res := mustAdd(t, nil, widget(), 3)
	res, err := Remove(res.Cart, "p1", 1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Cart[0].Quantity != 2 {
		t.Fatalf("quantity = %d want 2", res.Cart[0].Quantity)
	}
	assertMoney(t, "subtotal", res.Cart[0].Subtotal, "20.00")
}

func TestRemoveDropsLineAtZero(t *testing.T) {
	p2 := ProductRef{ProductID: "p2", Name: "Gadget", Price: decimal.NewFromFloat(7.5), Stock: Limited(2)}
	res := mustAdd(t, nil, p2, 1)
	res, err := Remove(res.Cart, "p2", 1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(res.Cart) != 0 {
		t.Fatalf("expected empty cart, got %+v", res.Cart)
	}
	assertMoney(t, "total", res.Total, "0")

	// Removing more than present also drops the line rather than
	// leaving a negative quantity behind.
	res = mustAdd(t, nil, widget(), 2)
	res, err = Remove(res.Cart, "p1", 5)
	if err != nil {
		t.Fatalf("over-remove: %v", err)
	}
	if len(res.Cart) != 0 {
		t.Fatalf("expected empty cart, got %+v", res.Cart)
	}
}

func TestRemoveErrors(t *testing.T) {
	res := mustAdd(t, nil, widget(), 1)
	if _, err := Remove(res.Cart, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown product: got %v", err)
	}
	if _, err := Remove(res.Cart, "p1", 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero quantity: got %v", err)
	}
}

func TestSetQuantity(t *testing.T) {
	res, err := SetQuantity(nil, widget(), 2)
	if err != nil {
		t.Fatalf("set on empty cart: %v", err)
	}
	if res.Cart[0].Quantity != 2 {
		t.Fatalf("quantity = %d want 2", res.Cart[0].Quantity)
	}

	res, err = SetQuantity(res.Cart, widget(), 0)
	if err != nil {
		t.Fatalf("set to zero: %v", err)
	}
	if len(res.Cart) != 0 {
		t.Fatalf("expected empty cart, got %+v", res.Cart)
	}
	assertMoney(t, "total", res.Total, "0")
}

func TestSetQuantityKeepsExistingPrice(t *testing.T) {
	res := mustAdd(t, nil, widget(), 1)
	repriced := widget()
	repriced.Price = decimal.NewFromFloat(99)
	res, err := SetQuantity(res.Cart, repriced, 3)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	assertMoney(t, "price", res.Cart[0].Price, "10")
	assertMoney(t, "subtotal", res.Cart[0].Subtotal, "30.00")
}

func TestSetQuantityAdoptsProductPriceForZeroPriceLine(t *testing.T) {
	free := widget()
	free.Price = decimal.Zero
	res := mustAdd(t, nil, free, 1)
	assertMoney(t, "price", res.Cart[0].Price, "0")

	res, err := SetQuantity(res.Cart, widget(), 3)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	assertMoney(t, "price", res.Cart[0].Price, "10")
	assertMoney(t, "subtotal", res.Cart[0].Subtotal, "30.00")
	assertMoney(t, "total", res.Total, "30.00")
}

func TestSetQuantityErrors(t *testing.T) {
	if _, err := SetQuantity(nil, ProductRef{}, 1); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("missing product id: got %v", err)
	}
	if _, err := SetQuantity(nil, widget(), -1); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("negative quantity: got %v", err)
	}
	if _, err := SetQuantity(nil, widget(), 6); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("past ceiling: got %v", err)
	}
	res, err := SetQuantity(nil, widget(), 0)
	if err != nil {
		t.Fatalf("set zero on absent line: %v", err)
	}
	if len(res.Cart) != 0 {
		t.Fatalf("expected no-op, got %+v", res.Cart)
	}
}

func TestDeleteLineIdempotent(t *testing.T) {
	res := mustAdd(t, nil, widget(), 2)
	once := DeleteLine(res.Cart, "p1")
	twice := DeleteLine(once.Cart, "p1")
	if len(once.Cart) != 0 || len(twice.Cart) != 0 {
		t.Fatalf("delete not idempotent: %+v / %+v", once.Cart, twice.Cart)
	}
	absent := DeleteLine(res.Cart, "ghost")
	if len(absent.Cart) != 1 {
		t.Fatalf("delete of absent line changed cart: %+v", absent.Cart)
	}
}

func TestAddThenRemoveRestoresCart(t *testing.T) {
	base := mustAdd(t, nil, widget(), 2)
	grown := mustAdd(t, base.Cart, widget(), 3)
	back, err := Remove(grown.Cart, "p1", 3)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(back.Cart) != 1 || back.Cart[0].Quantity != 2 {
		t.Fatalf("cart not restored: %+v", back.Cart)
	}
	assertMoney(t, "total", back.Total, "20.00")
}

func TestInsertionOrderPreserved(t *testing.T) {
	a := ProductRef{ProductID: "a", Name: "A", Price: decimal.NewFromInt(1), Stock: Limited(10)}
	b := ProductRef{ProductID: "b", Name: "B", Price: decimal.NewFromInt(2), Stock: Limited(10)}
	c := ProductRef{ProductID: "c", Name: "C", Price: decimal.NewFromInt(3), Stock: Limited(10)}

	res := mustAdd(t, nil, a, 1)
	res = mustAdd(t, res.Cart, b, 1)
	res = mustAdd(t, res.Cart, c, 1)
	res = mustAdd(t, res.Cart, a, 2) // merge must not move the line

	order := []string{res.Cart[0].ProductID, res.Cart[1].ProductID, res.Cart[2].ProductID}
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}

	res = DeleteLine(res.Cart, "b")
	if res.Cart[0].ProductID != "a" || res.Cart[1].ProductID != "c" {
		t.Fatalf("gap not closed: %+v", res.Cart)
	}
}

func TestOperationsDoNotMutateInput(t *testing.T) {
	base := mustAdd(t, nil, widget(), 2).Cart
	if _, err := Add(base, widget(), 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := Remove(base, "p1", 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := SetQuantity(base, widget(), 5); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	DeleteLine(base, "p1")
	if len(base) != 1 || base[0].Quantity != 2 {
		t.Fatalf("input cart was mutated: %+v", base)
	}
	assertMoney(t, "subtotal", base[0].Subtotal, "20.00")
}

func TestTotalsRounding(t *testing.T) {
	odd := ProductRef{ProductID: "odd", Name: "Odd", Price: decimal.RequireFromString("3.333"), Stock: Limited(100)}
	res := mustAdd(t, nil, odd, 3)
	// 3.333 * 3 = 9.999, rounded per line to 10.00
	assertMoney(t, "subtotal", res.Cart[0].Subtotal, "10.00")
	assertMoney(t, "total", res.Total, "10.00")
	if !res.Total.Equal(Totals(res.Cart)) {
		t.Fatalf("total %s disagrees with Totals %s", res.Total, Totals(res.Cart))
	}
}

func TestTotalsMixedLines(t *testing.T) {
	a := ProductRef{ProductID: "a", Name: "A", Price: decimal.RequireFromString("10.00"), Stock: Limited(10)}
	b := ProductRef{ProductID: "b", Name: "B", Price: decimal.RequireFromString("7.50"), Stock: Limited(10)}
	res := mustAdd(t, nil, a, 2)
	res = mustAdd(t, res.Cart, b, 3)
	assertMoney(t, "total", res.Total, "42.50")
}

func TestTotalsHydratedLineWithoutSubtotal(t *testing.T) {
	var hydrated Cart
	payload := []byte(`[{"product_id":"p1","name":"Widget","price":"10","quantity":2,"stock":5}]`)
	if err := json.Unmarshal(payload, &hydrated); err != nil {
		t.Fatalf("unmarshal cart: %v", err)
	}
	if !hydrated[0].Subtotal.IsZero() {
		t.Fatalf("expected omitted subtotal to decode as zero, got %s", hydrated[0].Subtotal)
	}
	assertMoney(t, "total", Totals(hydrated), "20.00")
}

func TestStockJSONRoundTrip(t *testing.T) {
	res := mustAdd(t, nil, widget(), 2)
	svc := ProductRef{ProductID: "svc", Name: "Trim", Price: decimal.NewFromInt(12), Stock: Unlimited()}
	res = mustAdd(t, res.Cart, svc, 1)

	data, err := res.Cart[0].Stock.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal bounded: %v", err)
	}
	if string(data) != "5" {
		t.Fatalf("bounded stock = %s", data)
	}
	data, err = res.Cart[1].Stock.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal unbounded: %v", err)
	}
	if string(data) != "null" {
		t.Fatalf("unbounded stock = %s", data)
	}

	var s Stock
	if err := s.UnmarshalJSON([]byte("null")); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !s.Unbounded {
		t.Fatalf("null did not decode as unbounded: %+v", s)
	}
	if err := s.UnmarshalJSON([]byte("7")); err != nil {
		t.Fatalf("unmarshal units: %v", err)
	}
	if s.Unbounded || s.Units != 7 {
		t.Fatalf("units did not round-trip: %+v", s)
	}
}

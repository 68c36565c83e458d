package pipeline

import (
	"testing"
	"time"

	"orderintake/internal"
)

func TestNormalizeOrder(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 123, time.FixedZone("KST", 9*3600))
	results := []SheetResult{
		{
			Sheet:      "A",
			Descriptor: internal.FormatDescriptor{FormatType: "purchase_order_kr", Vendor: "발주서"},
			Items:      []internal.OrderItem{{ProductName: "a1", Quantity: dec("1"), Sheet: "A"}, {ProductName: "a2", Quantity: dec("2"), Sheet: "A"}},
			Warnings:   []internal.Warning{{Sheet: "A", RowIndex: 4, Reason: internal.WarnSummaryRow}},
		},
		{
			Sheet:      "B",
			Descriptor: internal.FormatDescriptor{FormatType: "trade_statement_kr", Vendor: "거래명세서"},
			Items:      []internal.OrderItem{{ProductName: "b1", Quantity: dec("3"), Sheet: "B"}},
		},
		{
			Sheet:      "C",
			Descriptor: internal.FormatDescriptor{FormatType: "purchase_order_kr", Vendor: "발주서"},
		},
	}

	order := NormalizeOrder("order.xlsx", results, created)

	if order.FormatType != "purchase_order_kr+trade_statement_kr" || order.Vendor != "발주서+거래명세서" {
		t.Fatalf("format=%q vendor=%q", order.FormatType, order.Vendor)
	}
	if !order.CreatedAt.Equal(created) || order.CreatedAt.Location() != time.UTC {
		t.Fatalf("created_at = %v", order.CreatedAt)
	}
	var names []string
	for _, item := range order.Items {
		names = append(names, item.ProductName)
	}
	if len(names) != 3 || names[0] != "a1" || names[1] != "a2" || names[2] != "b1" {
		t.Fatalf("item order = %v", names)
	}
	if len(order.Warnings) != 1 {
		t.Fatalf("warnings = %+v", order.Warnings)
	}

	agg := order.Aggregates()
	if agg.ItemCount != 3 || !agg.TotalQuantity.Equal(dec("6")) {
		t.Fatalf("aggregates = %+v", agg)
	}
	if agg.TotalAmount.Valid {
		t.Fatal("total amount must be null when an item has no total price")
	}
}

func TestNormalizeOrderEmpty(t *testing.T) {
	order := NormalizeOrder("x.csv", []SheetResult{{Descriptor: internal.FormatDescriptor{FormatType: "purchase_order_kr", Vendor: "발주서"}}}, time.Now())
	if !order.Empty() || order.Items == nil || order.Warnings == nil {
		t.Fatalf("order = %+v", order)
	}
	agg := order.Aggregates()
	if agg.ItemCount != 0 || !agg.TotalAmount.Valid || !agg.TotalAmount.Decimal.IsZero() {
		t.Fatalf("aggregates = %+v", agg)
	}
}

func TestOrderAggregatesTotalAmount(t *testing.T) {
	order := &internal.Order{Items: []internal.OrderItem{
		{Quantity: dec("2"), TotalPrice: nullDec("1000")},
		{Quantity: dec("1.5"), TotalPrice: nullDec("250.25")},
	}}
	agg := order.Aggregates()
	if !agg.TotalAmount.Valid || !agg.TotalAmount.Decimal.Equal(dec("1250.25")) {
		t.Fatalf("total = %+v", agg.TotalAmount)
	}
	if !agg.TotalQuantity.Equal(dec("3.5")) {
		t.Fatalf("quantity = %s", agg.TotalQuantity)
	}
}

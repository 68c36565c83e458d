package pipeline

import (
	"fmt"

	"github.com/shopspring/decimal"

	"orderintake/internal"
	"orderintake/internal/util"
)

const derivedPricePlaces = 6

var relativePriceTolerance = decimal.RequireFromString("0.001")

type ExtractOptions struct {
	// PriceTolerance is the absolute slack allowed between total_price and
	// quantity × unit_price; 0.1% of the expected total is allowed when larger.
	PriceTolerance decimal.Decimal
	IsSummaryName  func(name string) bool
}

// ExtractRows walks every row after the header and returns the rows that are
// live orders, in sheet order, plus a warning for every row it dropped or
// flagged.
func ExtractRows(sheet *internal.Sheet, desc internal.FormatDescriptor, opts ExtractOptions) ([]internal.OrderItem, []internal.Warning) {
	qtyCol, _ := desc.Column(internal.FieldQuantity)
	nameCol, _ := desc.Column(internal.FieldProductName)
	unitCol, hasUnit := desc.Column(internal.FieldUnitPrice)
	totalCol, hasTotal := desc.Column(internal.FieldTotalPrice)

	items := []internal.OrderItem{}
	warnings := []internal.Warning{}
	warn := func(row int, reason internal.WarningReason, detail string) {
		warnings = append(warnings, internal.Warning{Sheet: sheet.Name, RowIndex: row, Reason: reason, Detail: detail})
	}

	for r := desc.HeaderRowIndex + 1; r < sheet.RowCount(); r++ {
		if rowIsBlank(sheet.Rows[r]) {
			continue
		}

		qtyCell := sheet.Cell(r, qtyCol)
		qty, ok := cellNumber(qtyCell)
		if !ok {
			qty = decimal.Zero
		}
		if !qty.IsPositive() {
			warn(r, internal.WarnQuantityNotPositive, describeQuantity(qtyCell))
			continue
		}

		name := util.CompactSpaces(sheet.Cell(r, nameCol).Text)
		if name == "" {
			warn(r, internal.WarnBlankProductName, fmt.Sprintf("quantity %s with no product name", qty))
			continue
		}
		if opts.IsSummaryName != nil && opts.IsSummaryName(name) {
			warn(r, internal.WarnSummaryRow, fmt.Sprintf("%q is a summary row", name))
			continue
		}

		var unit, total decimal.NullDecimal
		if hasUnit {
			if n, ok := cellNumber(sheet.Cell(r, unitCol)); ok {
				unit = decimal.NewNullDecimal(n)
			}
		}
		if hasTotal {
			if n, ok := cellNumber(sheet.Cell(r, totalCol)); ok {
				total = decimal.NewNullDecimal(n)
			}
		}

		switch {
		case unit.Valid && total.Valid:
			expected := qty.Mul(unit.Decimal)
			if total.Decimal.Sub(expected).Abs().GreaterThan(priceTolerance(opts.PriceTolerance, expected)) {
				warn(r, internal.WarnPriceMismatch, fmt.Sprintf("total %s differs from %s x %s = %s", total.Decimal, qty, unit.Decimal, expected))
			}
		case unit.Valid:
			total = decimal.NewNullDecimal(qty.Mul(unit.Decimal))
		case total.Valid:
			unit = decimal.NewNullDecimal(total.Decimal.DivRound(qty, derivedPricePlaces))
		}

		items = append(items, internal.OrderItem{
			ProductName:    name,
			Quantity:       qty,
			UnitPrice:      unit,
			TotalPrice:     total,
			SourceRowIndex: r,
			Sheet:          sheet.Name,
		})
	}
	return items, warnings
}

func priceTolerance(abs, expected decimal.Decimal) decimal.Decimal {
	rel := expected.Abs().Mul(relativePriceTolerance)
	if rel.GreaterThan(abs) {
		return rel
	}
	return abs
}

// cellNumber coerces a cell to a decimal; blank and non-numeric cells are
// not numbers.
func cellNumber(c internal.Cell) (decimal.Decimal, bool) {
	switch c.Kind {
	case internal.CellNumber:
		return c.Number, true
	case internal.CellText:
		return util.ParseNumber(c.Text)
	default:
		return decimal.Zero, false
	}
}

func describeQuantity(c internal.Cell) string {
	if c.IsBlank() {
		return "quantity cell is blank"
	}
	return fmt.Sprintf("quantity cell %q", c.Text)
}

func rowIsBlank(row []internal.Cell) bool {
	for _, c := range row {
		if !c.IsBlank() {
			return false
		}
	}
	return true
}

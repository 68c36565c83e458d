package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

type CellKind uint8

const (
	CellBlank CellKind = iota
	CellText
	CellNumber
)

// Cell is a single grid value. Number is only meaningful for CellNumber;
// Text always holds the trimmed source text.
type Cell struct {
	Kind   CellKind
	Text   string
	Number decimal.Decimal
}

func (c Cell) IsBlank() bool {
	return c.Kind == CellBlank
}

type Sheet struct {
	Name string
	Rows [][]Cell
}

// Cell returns the value at (row, col); reads outside the ragged grid are blank.
func (s *Sheet) Cell(row, col int) Cell {
	if row < 0 || row >= len(s.Rows) || col < 0 || col >= len(s.Rows[row]) {
		return Cell{}
	}
	return s.Rows[row][col]
}

func (s *Sheet) RowCount() int {
	return len(s.Rows)
}

type Workbook struct {
	Path        string
	ContentHash string
	Sheets      []Sheet
}

type Field string

const (
	FieldProductName Field = "product_name"
	FieldQuantity    Field = "quantity"
	FieldUnitPrice   Field = "unit_price"
	FieldTotalPrice  Field = "total_price"
)

// Fields lists the semantic fields in resolution order. The slice is fresh
// on every call.
func Fields() []Field {
	return []Field{FieldProductName, FieldQuantity, FieldUnitPrice, FieldTotalPrice}
}

type ColumnMap map[Field]int

type FormatDescriptor struct {
	FormatType     string    `json:"format_type"`
	Vendor         string    `json:"vendor"`
	HeaderRowIndex int       `json:"header_row_index"`
	ColumnMap      ColumnMap `json:"column_map"`
}

func (d FormatDescriptor) Resolved() bool {
	return d.HeaderRowIndex >= 0 && len(d.ColumnMap) > 0
}

// Column returns the mapped column for field and whether it is mapped.
func (d FormatDescriptor) Column(field Field) (int, bool) {
	idx, ok := d.ColumnMap[field]
	return idx, ok
}

type OrderItem struct {
	ProductName    string
	Quantity       decimal.Decimal
	UnitPrice      decimal.NullDecimal
	TotalPrice     decimal.NullDecimal
	SourceRowIndex int
	Sheet          string
}

type WarningReason string

const (
	WarnQuantityNotPositive WarningReason = "quantity_not_positive"
	WarnBlankProductName    WarningReason = "blank_product_name"
	WarnSummaryRow          WarningReason = "summary_row"
	WarnPriceMismatch       WarningReason = "price_mismatch"
)

type Warning struct {
	Sheet    string
	RowIndex int
	Reason   WarningReason
	Detail   string
}

type Order struct {
	FormatType string
	Vendor     string
	SourceFile string
	CreatedAt  time.Time
	Items      []OrderItem
	Warnings   []Warning
}

type Aggregates struct {
	ItemCount     int
	TotalQuantity decimal.Decimal
	TotalAmount   decimal.NullDecimal
}

// Aggregates derives the order totals. TotalAmount is null when any item
// lacks a total price.
func (o *Order) Aggregates() Aggregates {
	agg := Aggregates{
		ItemCount:     len(o.Items),
		TotalQuantity: decimal.Zero,
		TotalAmount:   decimal.NewNullDecimal(decimal.Zero),
	}
	for _, item := range o.Items {
		agg.TotalQuantity = agg.TotalQuantity.Add(item.Quantity)
		if !item.TotalPrice.Valid {
			agg.TotalAmount = decimal.NullDecimal{}
			continue
		}
		if agg.TotalAmount.Valid {
			agg.TotalAmount.Decimal = agg.TotalAmount.Decimal.Add(item.TotalPrice.Decimal)
		}
	}
	return agg
}

// Empty reports the soft-success case where no row qualified as an order.
func (o *Order) Empty() bool {
	return len(o.Items) == 0
}

// TimestampLayout is RFC 3339 with a fixed nine-digit fraction, so stamps
// of one zone sort as text in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

type RunRecord struct {
	RunID        string
	SourceFile   string
	SourceHash   string
	Status       string
	FailedStage  string
	Error        string
	FormatType   string
	ItemCount    int
	WarningCount int
	OutputPath   string
	CreatedAt    string
}

package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"orderintake/internal"
	"orderintake/internal/util"
)

const (
	stampLayout    = "20060102T150405.000000000"
	maxNameRetries = 1000
)

type orderRecord struct {
	FormatType string           `json:"format_type"`
	Vendor     string           `json:"vendor"`
	SourceFile string           `json:"source_file"`
	CreatedAt  time.Time        `json:"created_at"`
	Items      []itemRecord     `json:"items"`
	Aggregates aggregatesRecord `json:"aggregates"`
	EmptyOrder bool             `json:"empty_order"`
	Warnings   []warningRecord  `json:"warnings"`
}

type itemRecord struct {
	ProductName    string       `json:"product_name"`
	Quantity       json.Number  `json:"quantity"`
	UnitPrice      *json.Number `json:"unit_price"`
	TotalPrice     *json.Number `json:"total_price"`
	SourceRowIndex int          `json:"source_row_index"`
	Sheet          string       `json:"sheet"`
}

type aggregatesRecord struct {
	ItemCount     int          `json:"item_count"`
	TotalQuantity json.Number  `json:"total_quantity"`
	TotalAmount   *json.Number `json:"total_amount"`
}

type warningRecord struct {
	Sheet    string `json:"sheet"`
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func nullNumber(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := number(d.Decimal)
	return &n
}

func toRecord(order *internal.Order) orderRecord {
	agg := order.Aggregates()
	rec := orderRecord{
		FormatType: order.FormatType,
		Vendor:     order.Vendor,
		SourceFile: order.SourceFile,
		CreatedAt:  order.CreatedAt.UTC(),
		Items:      make([]itemRecord, 0, len(order.Items)),
		Aggregates: aggregatesRecord{
			ItemCount:     agg.ItemCount,
			TotalQuantity: number(agg.TotalQuantity),
			TotalAmount:   nullNumber(agg.TotalAmount),
		},
		EmptyOrder: order.Empty(),
		Warnings:   make([]warningRecord, 0, len(order.Warnings)),
	}
	for _, item := range order.Items {
		rec.Items = append(rec.Items, itemRecord{
			ProductName:    item.ProductName,
			Quantity:       number(item.Quantity),
			UnitPrice:      nullNumber(item.UnitPrice),
			TotalPrice:     nullNumber(item.TotalPrice),
			SourceRowIndex: item.SourceRowIndex,
			Sheet:          item.Sheet,
		})
	}
	for _, w := range order.Warnings {
		rec.Warnings = append(rec.Warnings, warningRecord{
			Sheet:    w.Sheet,
			RowIndex: w.RowIndex,
			Reason:   string(w.Reason),
			Detail:   w.Detail,
		})
	}
	return rec
}

// MarshalOrderJSON renders the unified order record.
func MarshalOrderJSON(order *internal.Order) ([]byte, error) {
	return json.MarshalIndent(toRecord(order), "", "  ")
}

// ParseOrderJSON reads a unified order record back. Aggregates are derived,
// so they are not read.
func ParseOrderJSON(blob []byte) (*internal.Order, error) {
	var rec orderRecord
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}

	order := &internal.Order{
		FormatType: rec.FormatType,
		Vendor:     rec.Vendor,
		SourceFile: rec.SourceFile,
		CreatedAt:  rec.CreatedAt.UTC(),
		Items:      make([]internal.OrderItem, 0, len(rec.Items)),
		Warnings:   make([]internal.Warning, 0, len(rec.Warnings)),
	}
	for i, it := range rec.Items {
		qty, err := decimal.NewFromString(it.Quantity.String())
		if err != nil {
			return nil, fmt.Errorf("items[%d].quantity: %w", i, err)
		}
		unit, err := parseNullNumber(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("items[%d].unit_price: %w", i, err)
		}
		total, err := parseNullNumber(it.TotalPrice)
		if err != nil {
			return nil, fmt.Errorf("items[%d].total_price: %w", i, err)
		}
		order.Items = append(order.Items, internal.OrderItem{
			ProductName:    it.ProductName,
			Quantity:       qty,
			UnitPrice:      unit,
			TotalPrice:     total,
			SourceRowIndex: it.SourceRowIndex,
			Sheet:          it.Sheet,
		})
	}
	for _, w := range rec.Warnings {
		order.Warnings = append(order.Warnings, internal.Warning{
			Sheet:    w.Sheet,
			RowIndex: w.RowIndex,
			Reason:   internal.WarningReason(w.Reason),
			Detail:   w.Detail,
		})
	}
	return order, nil
}

func parseNullNumber(n *json.Number) (decimal.NullDecimal, error) {
	if n == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// OutputStem is the file name of an order without its extension:
// the sanitized source base name and the UTC creation stamp.
func OutputStem(order *internal.Order) string {
	base := filepath.Base(order.SourceFile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return util.SanitizeFileStem(base) + "_" + order.CreatedAt.UTC().Format(stampLayout) + "Z"
}

// PersistOrder writes the order as JSON into dir and returns the path. Files
// are created exclusively; a colliding name gets a -N suffix.
func PersistOrder(order *internal.Order, dir string) (string, error) {
	blob, err := MarshalOrderJSON(order)
	if err != nil {
		return "", persistError(err)
	}
	blob = append(blob, '\n')

	path, err := writeExclusive(dir, OutputStem(order), ".json", func(w io.Writer) error {
		_, err := w.Write(blob)
		return err
	})
	if err != nil {
		return "", persistError(err)
	}
	return path, nil
}

// ExportOrderToXLSX writes a spreadsheet rendition of the order next to the
// JSON record: an Items sheet and, when present, a Warnings sheet.
func ExportOrderToXLSX(order *internal.Order, dir string) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	const items = "Items"
	if err := f.SetSheetName(f.GetSheetName(0), items); err != nil {
		return "", persistError(err)
	}
	writeRow(f, items, 1, "sheet", "row", "product_name", "quantity", "unit_price", "total_price")
	for i, item := range order.Items {
		writeRow(f, items, i+2,
			item.Sheet,
			item.SourceRowIndex,
			item.ProductName,
			item.Quantity.InexactFloat64(),
			nullCell(item.UnitPrice),
			nullCell(item.TotalPrice),
		)
	}

	if len(order.Warnings) > 0 {
		const warnings = "Warnings"
		if _, err := f.NewSheet(warnings); err != nil {
			return "", persistError(err)
		}
		writeRow(f, warnings, 1, "sheet", "row", "reason", "detail")
		for i, w := range order.Warnings {
			writeRow(f, warnings, i+2, w.Sheet, w.RowIndex, string(w.Reason), w.Detail)
		}
	}

	path, err := writeExclusive(dir, OutputStem(order), ".xlsx", func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
	if err != nil {
		return "", persistError(err)
	}
	return path, nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func nullCell(d decimal.NullDecimal) any {
	if !d.Valid {
		return ""
	}
	return d.Decimal.InexactFloat64()
}

// writeExclusive creates dir/stem+ext, or dir/stem-N+ext when taken, and
// fills it with write. A failed write leaves no file behind.
func writeExclusive(dir, stem, ext string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	for n := 0; n < maxNameRetries; n++ {
		name := stem + ext
		if n > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, n, ext)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		werr := write(f)
		if werr == nil {
			werr = f.Sync()
		}
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(path)
			return "", werr
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s%s in %s", stem, ext, dir)
}

func persistError(err error) *StageError {
	return &StageError{Stage: StagePersisted, Err: err}
}

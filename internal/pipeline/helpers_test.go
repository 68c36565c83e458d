package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"orderintake/internal"
)

type fixtureSheet struct {
	name string
	rows [][]any
}

// mkXLSX builds a workbook in memory; nil values leave the cell empty.
func mkXLSX(t *testing.T, sheets ...fixtureSheet) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.name); err != nil {
				t.Fatal(err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			t.Fatal(err)
		}
		for r, row := range s.rows {
			for c, v := range row {
				if v == nil {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
				if err := f.SetCellValue(s.name, cell, v); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	buf := bytes.NewBuffer(nil)
	if _, err := f.WriteTo(buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFixture(t *testing.T, dir, name string, blob []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// sheetOf builds a sheet the way the loader would from the same values.
func sheetOf(name string, rows [][]any) *internal.Sheet {
	raw := make([][]string, len(rows))
	for r, row := range rows {
		raw[r] = make([]string, len(row))
		for c, v := range row {
			if v != nil {
				raw[r][c] = fmt.Sprint(v)
			}
		}
	}
	return &internal.Sheet{Name: name, Rows: toCells(raw)}
}

// row places values at the given columns of an otherwise empty row.
func row(width int, cols map[int]any) []any {
	out := make([]any, width)
	for c, v := range cols {
		out[c] = v
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// catalogRows is a wholesale catalog sheet: a banner, the header on row 1
// and the order quantity far to the right in column 20.
func catalogRows(quantities map[int]any) [][]any {
	rows := [][]any{
		row(21, map[int]any{0: "도매 카탈로그 2024 하반기"}),
		row(21, map[int]any{0: "No", 1: "상품명", 5: "판매가", 13: "비고", 20: "주문수량"}),
	}
	for r := 2; r <= 12; r++ {
		cols := map[int]any{0: r - 1, 1: fmt.Sprintf("상품 %02d", r), 5: 1000 * r}
		if q, ok := quantities[r]; ok {
			cols[20] = q
		}
		rows = append(rows, row(21, cols))
	}
	return rows
}

package pipeline

import (
	"fmt"

	"orderintake/internal"
	"orderintake/internal/util"
)

// Densities at or below this are treated as an empty column.
const nearZeroDensity = 1e-9

// QuantityCandidate is a header cell that matched the quantity labels,
// with the numeric density of its data region.
type QuantityCandidate struct {
	Column  int     `json:"column"`
	Header  string  `json:"header"`
	Density float64 `json:"density"`
}

// ScanLayout resolves the header row and column map of sheet. Rows
// 0..maxHeaderRow are scored by the number of cells that match any label;
// the best row wins and ties go to the earliest. product_name and quantity
// must both resolve or the sheet is rejected.
func ScanLayout(sheet *internal.Sheet, labels LabelSet, desc internal.FormatDescriptor, maxHeaderRow int) (internal.FormatDescriptor, error) {
	resolved, _, err := scanLayout(sheet, labels, desc, maxHeaderRow)
	return resolved, err
}

func scanLayout(sheet *internal.Sheet, labels LabelSet, desc internal.FormatDescriptor, maxHeaderRow int) (internal.FormatDescriptor, []QuantityCandidate, error) {
	header, score := findHeaderRow(sheet, labels, maxHeaderRow)
	if score == 0 {
		return desc, nil, layoutError(sheet.Name, fieldHeader, fmt.Sprintf("no header labels in rows 0..%d", maxHeaderRow))
	}

	claimed := map[int]bool{}
	columns := internal.ColumnMap{}
	var candidates []QuantityCandidate
	for _, field := range internal.Fields() {
		var idx int
		if field == internal.FieldQuantity {
			var err error
			idx, candidates, err = resolveQuantity(sheet, header, labels[field], claimed)
			if err != nil {
				return desc, candidates, err
			}
		} else {
			idx = firstLabelColumn(sheet, header, labels[field], claimed)
		}

		if idx < 0 {
			if field == internal.FieldProductName {
				return desc, nil, layoutError(sheet.Name, string(field), fmt.Sprintf("no header cell in row %d matches %v", header, labels[field]))
			}
			continue
		}
		columns[field] = idx
		claimed[idx] = true
	}

	desc.HeaderRowIndex = header
	desc.ColumnMap = columns
	return desc, candidates, nil
}

func findHeaderRow(sheet *internal.Sheet, labels LabelSet, maxHeaderRow int) (int, int) {
	bestRow, bestScore := -1, 0
	for r := 0; r <= maxHeaderRow && r < sheet.RowCount(); r++ {
		score := 0
		for _, cell := range sheet.Rows[r] {
			if cell.IsBlank() {
				continue
			}
			for _, field := range internal.Fields() {
				if util.MatchesAnyLabel(cell.Text, labels[field]) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			bestRow, bestScore = r, score
		}
	}
	return bestRow, bestScore
}

func firstLabelColumn(sheet *internal.Sheet, header int, labels []string, claimed map[int]bool) int {
	for c, cell := range sheet.Rows[header] {
		if claimed[c] || cell.IsBlank() {
			continue
		}
		if util.MatchesAnyLabel(cell.Text, labels) {
			return c
		}
	}
	return -1
}

// resolveQuantity picks the authoritative quantity column among every header
// cell matching the quantity labels: highest numeric density wins, ties go to
// the rightmost column. A lone candidate is accepted on its header alone.
func resolveQuantity(sheet *internal.Sheet, header int, labels []string, claimed map[int]bool) (int, []QuantityCandidate, error) {
	var candidates []QuantityCandidate
	for c, cell := range sheet.Rows[header] {
		if claimed[c] || cell.IsBlank() || !util.MatchesAnyLabel(cell.Text, labels) {
			continue
		}
		candidates = append(candidates, QuantityCandidate{
			Column:  c,
			Header:  cell.Text,
			Density: NumericDensity(sheet, header, c),
		})
	}

	field := string(internal.FieldQuantity)
	switch len(candidates) {
	case 0:
		return -1, nil, layoutError(sheet.Name, field, fmt.Sprintf("no header cell in row %d matches %v", header, labels))
	case 1:
		return candidates[0].Column, candidates, nil
	}

	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Density >= best.Density {
			best = cand
		}
	}
	if best.Density <= nearZeroDensity {
		return -1, candidates, layoutError(sheet.Name, field, fmt.Sprintf("%d quantity columns and none holds positive numbers", len(candidates)))
	}
	return best.Column, candidates, nil
}

// NumericDensity is the fraction of rows below header whose cell in col
// holds a finite number greater than zero.
func NumericDensity(sheet *internal.Sheet, header, col int) float64 {
	total := sheet.RowCount() - header - 1
	if total <= 0 {
		return 0
	}
	positive := 0
	for r := header + 1; r < sheet.RowCount(); r++ {
		if n, ok := cellNumber(sheet.Cell(r, col)); ok && n.IsPositive() {
			positive++
		}
	}
	return float64(positive) / float64(total)
}

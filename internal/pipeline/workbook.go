package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/korean"

	"orderintake/internal"
	"orderintake/internal/util"
)

// Order sheets are tens to hundreds of rows; anything past this is not one.
const maxSourceBytes = 64 << 20

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// LoadWorkbook reads path in a single bounded read and parses it into
// sheets. Every failure is reported as ErrSourceUnavailable.
func LoadWorkbook(path string) (*internal.Workbook, error) {
	blob, err := readSource(path)
	if err != nil {
		return nil, sourceUnavailable(path, err)
	}

	sheets, err := parseSheets(filepath.Base(path), blob)
	if err != nil {
		return nil, sourceUnavailable(path, err)
	}
	if len(sheets) == 0 {
		return nil, sourceUnavailable(path, errors.New("no readable sheets"))
	}

	sum := sha256.Sum256(blob)
	return &internal.Workbook{
		Path:        path,
		ContentHash: hex.EncodeToString(sum[:]),
		Sheets:      sheets,
	}, nil
}

func readSource(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.New("is a directory")
	}

	blob, err := io.ReadAll(io.LimitReader(f, maxSourceBytes+1))
	if err != nil {
		return nil, err
	}
	if len(blob) > maxSourceBytes {
		return nil, fmt.Errorf("larger than %d bytes", maxSourceBytes)
	}
	return blob, nil
}

func parseSheets(name string, blob []byte) ([]internal.Sheet, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case bytes.HasPrefix(blob, zipMagic):
		return parseXLSX(blob)
	case bytes.HasPrefix(blob, oleMagic):
		return nil, errors.New("legacy binary .xls is not supported, re-save it as .xlsx")
	case ext == ".eml":
		return parseEML(blob)
	case looksLikeHTML(blob):
		return parseHTMLTables(blob)
	case ext == ".csv" || ext == ".tsv" || ext == ".txt":
		return parseDelimited(strings.TrimSuffix(name, filepath.Ext(name)), ext, blob)
	default:
		return nil, fmt.Errorf("unsupported source type %q", ext)
	}
}

func parseXLSX(blob []byte) ([]internal.Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []internal.Sheet{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			// chart sheets and other non-grid parts
			continue
		}
		out = append(out, internal.Sheet{Name: sheet, Rows: toCells(rows)})
	}
	return out, nil
}

func looksLikeHTML(blob []byte) bool {
	head := bytes.TrimLeft(bytes.TrimPrefix(blob, utf8BOM), " \t\r\n")
	if len(head) == 0 || head[0] != '<' {
		return false
	}
	return bytes.Contains(bytes.ToLower(blob), []byte("<table"))
}

// parseHTMLTables handles the HTML documents many vendor portals save with an
// .xls extension. Each table becomes one sheet.
func parseHTMLTables(blob []byte) ([]internal.Sheet, error) {
	blob, err := decodeText(blob)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}

	out := []internal.Sheet{}
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		name := util.CompactSpaces(table.Find("caption").First().Text())
		if name == "" {
			name = fmt.Sprintf("Table%d", i+1)
		}

		rows := [][]string{}
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := []string{}
			tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.CompactSpaces(cell.Text()))
				// keep later columns aligned with the header under merged cells
				if span, ok := cell.Attr("colspan"); ok {
					var n int
					if _, err := fmt.Sscanf(span, "%d", &n); err == nil {
						for j := 1; j < n && j < 64; j++ {
							cells = append(cells, "")
						}
					}
				}
			})
			rows = append(rows, cells)
		})
		out = append(out, internal.Sheet{Name: name, Rows: toCells(rows)})
	})
	return out, nil
}

func parseDelimited(sheetName, ext string, blob []byte) ([]internal.Sheet, error) {
	blob, err := decodeText(blob)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(blob))
	r.Comma = sniffDelimiter(ext, blob)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return []internal.Sheet{{Name: sheetName, Rows: toCells(rows)}}, nil
}

// decodeText returns UTF-8 text, treating anything that is not valid UTF-8
// as EUC-KR (CP949), the usual encoding of Korean vendor exports.
func decodeText(blob []byte) ([]byte, error) {
	blob = bytes.TrimPrefix(blob, utf8BOM)
	if utf8.Valid(blob) {
		return blob, nil
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(blob)
	if err != nil {
		return nil, fmt.Errorf("decode EUC-KR: %w", err)
	}
	return decoded, nil
}

func sniffDelimiter(ext string, blob []byte) rune {
	if ext == ".tsv" {
		return '\t'
	}
	firstLine := blob
	if i := bytes.IndexByte(blob, '\n'); i >= 0 {
		firstLine = blob[:i]
	}
	if bytes.Count(firstLine, []byte{'\t'}) > bytes.Count(firstLine, []byte{','}) {
		return '\t'
	}
	return ','
}

// parseEML loads the first spreadsheet attachment of a stored message that
// parses. When none does, the first attachment's error is returned.
func parseEML(blob []byte) ([]internal.Sheet, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}

	var firstErr error
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".xlsx", ".xlsm", ".xls", ".csv", ".tsv", ".htm", ".html":
		default:
			continue
		}
		sheets, err := parseSheets(filename, att.Content)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("attachment %q: %w", filename, err)
			}
			continue
		}
		return sheets, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, errors.New("message has no spreadsheet attachment")
}

func toCells(rows [][]string) [][]internal.Cell {
	out := make([][]internal.Cell, len(rows))
	for i, row := range rows {
		cells := make([]internal.Cell, len(row))
		for j, raw := range row {
			cells[j] = newCell(raw)
		}
		out[i] = cells
	}
	return out
}

func newCell(raw string) internal.Cell {
	text := strings.TrimSpace(raw)
	if text == "" {
		return internal.Cell{Kind: internal.CellBlank}
	}
	if util.IsPlainNumber(text) {
		if d, err := decimal.NewFromString(text); err == nil {
			return internal.Cell{Kind: internal.CellNumber, Text: text, Number: d}
		}
	}
	return internal.Cell{Kind: internal.CellText, Text: text}
}

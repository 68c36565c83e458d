package pipeline

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/korean"

	"orderintake/internal"
)

func cellTexts(row []internal.Cell) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = c.Text
	}
	return out
}

func TestLoadWorkbookXLSX(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "order.xlsx", mkXLSX(t,
		fixtureSheet{name: "발주", rows: [][]any{
			{"발주서"},
			{"품명", "수량", "단가"},
			{"볼펜", 3, 1.5},
		}},
		fixtureSheet{name: "메모", rows: [][]any{{"참고"}}},
	))

	wb, err := LoadWorkbook(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(wb.Sheets) != 2 || wb.Sheets[0].Name != "발주" || wb.Sheets[1].Name != "메모" {
		t.Fatalf("sheets = %+v", wb.Sheets)
	}
	if len(wb.ContentHash) != 64 {
		t.Fatalf("hash = %q", wb.ContentHash)
	}

	s := &wb.Sheets[0]
	if got := s.Cell(2, 1); got.Kind != internal.CellNumber || !got.Number.Equal(dec("3")) {
		t.Fatalf("quantity cell = %+v", got)
	}
	if got := s.Cell(2, 2); !got.Number.Equal(dec("1.5")) {
		t.Fatalf("price cell = %+v", got)
	}
	if got := s.Cell(0, 5); !got.IsBlank() {
		t.Fatalf("out of range cell = %+v", got)
	}
	if got := s.Cell(2, 0); got.Kind != internal.CellText || got.Text != "볼펜" {
		t.Fatalf("name cell = %+v", got)
	}
}

func TestLoadWorkbookDelimited(t *testing.T) {
	dir := t.TempDir()
	euckr, err := korean.EUCKR.NewEncoder().Bytes([]byte("품명,수량\n볼펜,3\n"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		blob []byte
	}{
		{"order.csv", []byte("\xEF\xBB\xBF품명,수량\n볼펜,3\n")},
		{"order.tsv", []byte("품명\t수량\n볼펜\t3\n")},
		{"order.txt", []byte("품명\t수량\n볼펜\t3\n")},
		{"euckr.csv", euckr},
		{"quoted.csv", []byte("품명,수량\n\"볼펜, 검정\",\"3\"\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb, err := LoadWorkbook(writeFixture(t, dir, tt.name, tt.blob))
			if err != nil {
				t.Fatal(err)
			}
			if len(wb.Sheets) != 1 {
				t.Fatalf("sheets = %d", len(wb.Sheets))
			}
			s := &wb.Sheets[0]
			if got := cellTexts(s.Rows[0]); len(got) != 2 || got[0] != "품명" || got[1] != "수량" {
				t.Fatalf("header = %q", got)
			}
			if got := s.Cell(1, 1); !got.Number.Equal(dec("3")) {
				t.Fatalf("quantity = %+v", got)
			}
			if s.Name != strings.TrimSuffix(tt.name, filepath.Ext(tt.name)) {
				t.Fatalf("sheet name = %q", s.Name)
			}
		})
	}
}

func TestLoadWorkbookHTMLDisguisedAsXLS(t *testing.T) {
	html := `<html><body>
<table><caption>주문 내역</caption>
<tr><th colspan="2">발주서</th><th>비고</th></tr>
<tr><td>품명</td><td>수량</td><td>단가</td></tr>
<tr><td> 볼펜 </td><td>1,200</td><td>500</td></tr>
</table>
<table><tr><td>x</td></tr></table>
</body></html>`
	wb, err := LoadWorkbook(writeFixture(t, t.TempDir(), "portal_export.xls", []byte(html)))
	if err != nil {
		t.Fatal(err)
	}
	if len(wb.Sheets) != 2 || wb.Sheets[0].Name != "주문 내역" || wb.Sheets[1].Name != "Table2" {
		t.Fatalf("sheets = %+v", wb.Sheets)
	}
	s := &wb.Sheets[0]
	if got := cellTexts(s.Rows[0]); len(got) != 3 || got[2] != "비고" {
		t.Fatalf("colspan not padded: %q", got)
	}
	if got := s.Cell(2, 0).Text; got != "볼펜" {
		t.Fatalf("name = %q", got)
	}
	if n, ok := cellNumber(s.Cell(2, 1)); !ok || !n.Equal(dec("1200")) {
		t.Fatalf("quantity = %v %v", n, ok)
	}
}

func TestLoadWorkbookEML(t *testing.T) {
	csv := base64.StdEncoding.EncodeToString([]byte("품명,수량\n볼펜,3\n"))
	msg := strings.Join([]string{
		"From: buyer@example.com",
		"To: orders@example.com",
		"Subject: order",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"see attached",
		"--b1",
		`Content-Type: text/csv; name="order.csv"`,
		`Content-Disposition: attachment; filename="order.csv"`,
		"Content-Transfer-Encoding: base64",
		"",
		csv,
		"--b1--",
		"",
	}, "\r\n")

	wb, err := LoadWorkbook(writeFixture(t, t.TempDir(), "mail.eml", []byte(msg)))
	if err != nil {
		t.Fatal(err)
	}
	if len(wb.Sheets) != 1 || wb.Sheets[0].Name != "order" {
		t.Fatalf("sheets = %+v", wb.Sheets)
	}
	if got := wb.Sheets[0].Cell(1, 0).Text; got != "볼펜" {
		t.Fatalf("cell = %q", got)
	}
}

type emlAttachment struct {
	name    string
	content []byte
}

func emlMessage(attachments ...emlAttachment) []byte {
	lines := []string{
		"From: buyer@example.com",
		"Subject: order",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
	}
	for _, a := range attachments {
		lines = append(lines,
			"--b1",
			`Content-Type: application/octet-stream; name="`+a.name+`"`,
			`Content-Disposition: attachment; filename="`+a.name+`"`,
			"Content-Transfer-Encoding: base64",
			"",
			base64.StdEncoding.EncodeToString(a.content),
		)
	}
	lines = append(lines, "--b1--", "")
	return []byte(strings.Join(lines, "\r\n"))
}

func TestLoadWorkbookEMLSkipsUnreadableAttachment(t *testing.T) {
	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)
	order := mkXLSX(t, fixtureSheet{name: "발주", rows: [][]any{{"품명", "수량"}, {"볼펜", 3}}})
	dir := t.TempDir()

	wb, err := LoadWorkbook(writeFixture(t, dir, "mail.eml", emlMessage(
		emlAttachment{"legacy.xls", ole},
		emlAttachment{"order.xlsx", order},
	)))
	if err != nil {
		t.Fatal(err)
	}
	if len(wb.Sheets) != 1 || wb.Sheets[0].Name != "발주" || wb.Sheets[0].Cell(1, 0).Text != "볼펜" {
		t.Fatalf("sheets = %+v", wb.Sheets)
	}

	_, err = LoadWorkbook(writeFixture(t, dir, "legacy.eml", emlMessage(emlAttachment{"legacy.xls", ole})))
	if !errors.Is(err, ErrSourceUnavailable) || !strings.Contains(err.Error(), "legacy.xls") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadWorkbookSourceUnavailable(t *testing.T) {
	dir := t.TempDir()
	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)
	tests := map[string]string{
		"missing":             filepath.Join(dir, "missing.xlsx"),
		"directory":           dir,
		"legacy xls":          writeFixture(t, dir, "old.xls", ole),
		"corrupt zip":         writeFixture(t, dir, "bad.xlsx", []byte("PK\x03\x04garbage")),
		"unsupported":         writeFixture(t, dir, "order.pdf", []byte("%PDF-1.4")),
		"html without tables": writeFixture(t, dir, "empty.html", []byte("<html><p>no tables</p></html>")),
		"eml without sheet":   writeFixture(t, dir, "note.eml", []byte("Subject: hi\r\n\r\nno attachment\r\n")),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			wb, err := LoadWorkbook(path)
			if wb != nil || !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("wb=%v err=%v", wb, err)
			}
			if FailedStage(err) != StageLoaded {
				t.Fatalf("stage = %s", FailedStage(err))
			}
		})
	}
}

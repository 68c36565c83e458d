package pipeline

import (
	"fmt"
	"strings"

	"orderintake/internal"
	"orderintake/internal/util"
)

// SheetSignature is the detector input: the sheet name plus the text of its
// first rows, each cell normalized and joined with "|" so keywords never
// match across cell boundaries.
func SheetSignature(sheet *internal.Sheet, rows int) string {
	parts := []string{util.NormalizeLabel(sheet.Name)}
	for r := 0; r < rows && r < sheet.RowCount(); r++ {
		for _, cell := range sheet.Rows[r] {
			if cell.IsBlank() {
				continue
			}
			parts = append(parts, util.NormalizeLabel(cell.Text))
		}
	}
	return strings.Join(parts, "|")
}

// DetectFormat selects the vendor format of a sheet. A non-empty hint
// bypasses signature matching; an unregistered hint is an unknown format.
// The returned descriptor has no header row or column map yet.
func DetectFormat(sheet *internal.Sheet, reg *Registry, hint string, signatureRows int) (internal.FormatDescriptor, error) {
	if strings.TrimSpace(hint) != "" {
		spec, ok := reg.Lookup(hint)
		if !ok {
			return unresolvedDescriptor(FormatSpec{}), unknownFormat(sheet.Name, fmt.Sprintf("vendor hint %q is not registered", hint))
		}
		return unresolvedDescriptor(spec), nil
	}

	spec, ok := reg.Match(SheetSignature(sheet, signatureRows))
	if !ok {
		return unresolvedDescriptor(FormatSpec{}), unknownFormat(sheet.Name, "no registered vendor signature matched")
	}
	return unresolvedDescriptor(spec), nil
}

func unresolvedDescriptor(spec FormatSpec) internal.FormatDescriptor {
	return internal.FormatDescriptor{
		FormatType:     spec.Type,
		Vendor:         spec.Vendor,
		HeaderRowIndex: -1,
	}
}

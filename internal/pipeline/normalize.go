package pipeline

import (
	"strings"
	"time"

	"orderintake/internal"
)

// SheetResult is the outcome of extraction for one detected sheet.
type SheetResult struct {
	Sheet      string
	Descriptor internal.FormatDescriptor
	Items      []internal.OrderItem
	Warnings   []internal.Warning
}

// NormalizeOrder folds per-sheet results into one order. Items and warnings
// keep sheet order then row order. Sheets that disagree on format or vendor
// are joined with "+" in first-seen order.
func NormalizeOrder(sourceFile string, results []SheetResult, createdAt time.Time) *internal.Order {
	order := &internal.Order{
		SourceFile: sourceFile,
		CreatedAt:  createdAt.UTC(),
		Items:      []internal.OrderItem{},
		Warnings:   []internal.Warning{},
	}

	var formats, vendors []string
	for _, res := range results {
		formats = appendDistinct(formats, res.Descriptor.FormatType)
		vendors = appendDistinct(vendors, res.Descriptor.Vendor)
		order.Items = append(order.Items, res.Items...)
		order.Warnings = append(order.Warnings, res.Warnings...)
	}
	order.FormatType = strings.Join(formats, "+")
	order.Vendor = strings.Join(vendors, "+")
	return order
}

func appendDistinct(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderintake/internal"
	"orderintake/internal/logging"
)

// Settings are the tunables of a run.
type Settings struct {
	HeaderScanRows int
	SignatureRows  int
	PriceTolerance decimal.Decimal
}

func DefaultSettings() Settings {
	return Settings{
		HeaderScanRows: 5,
		SignatureRows:  5,
		PriceTolerance: decimal.RequireFromString("0.01"),
	}
}

// Options are per-call knobs of Ingest and Inspect.
type Options struct {
	// VendorHint names a registered format type or vendor and skips
	// signature detection for every sheet.
	VendorHint string
	// Strict requires every sheet to be detected as one and the same format.
	Strict bool
}

// Engine runs the ingestion state machine for one file at a time. It holds
// no per-run state and may be shared between goroutines.
type Engine struct {
	registry *Registry
	settings Settings
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(reg *Registry, settings Settings, log *zap.Logger) *Engine {
	return &Engine{
		registry: reg,
		settings: settings,
		log:      logging.OrNop(log),
		now:      time.Now,
	}
}

// WithClock returns a copy of e that stamps orders with now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	cp := *e
	cp.now = now
	return &cp
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// Ingest runs one file through LOADED .. NORMALIZED and returns the order.
// Nothing is written; see ProcessingService for persistence.
func (e *Engine) Ingest(path string, opts Options) (*internal.Order, error) {
	order, _, err := e.run(path, opts, e.log)
	return order, err
}

type detectedSheet struct {
	sheet *internal.Sheet
	desc  internal.FormatDescriptor
}

func (e *Engine) run(path string, opts Options, log *zap.Logger) (*internal.Order, string, error) {
	wb, err := LoadWorkbook(path)
	if err != nil {
		return nil, "", err
	}
	log.Debug("workbook loaded",
		zap.String("stage", string(StageLoaded)),
		zap.Int("sheets", len(wb.Sheets)),
		zap.String("sha256", wb.ContentHash),
	)

	detected, err := e.detectSheets(wb, opts, log)
	if err != nil {
		return nil, wb.ContentHash, err
	}

	detected, err = e.resolveLayouts(detected, opts, log)
	if err != nil {
		return nil, wb.ContentHash, err
	}

	extract := ExtractOptions{
		PriceTolerance: e.settings.PriceTolerance,
		IsSummaryName:  e.registry.IsSummaryName,
	}
	results := make([]SheetResult, 0, len(detected))
	for _, d := range detected {
		items, warnings := ExtractRows(d.sheet, d.desc, extract)
		log.Debug("rows extracted",
			zap.String("stage", string(StageRowsExtracted)),
			zap.String("sheet", d.sheet.Name),
			zap.Int("items", len(items)),
			zap.Int("warnings", len(warnings)),
		)
		results = append(results, SheetResult{Sheet: d.sheet.Name, Descriptor: d.desc, Items: items, Warnings: warnings})
	}

	order := NormalizeOrder(filepath.Base(path), results, e.now())
	log.Debug("order normalized",
		zap.String("stage", string(StageNormalized)),
		zap.String("format_type", order.FormatType),
		zap.Int("items", len(order.Items)),
	)
	return order, wb.ContentHash, nil
}

func (e *Engine) detectSheets(wb *internal.Workbook, opts Options, log *zap.Logger) ([]detectedSheet, error) {
	var (
		detected []detectedSheet
		firstErr error
	)
	for i := range wb.Sheets {
		sheet := &wb.Sheets[i]
		desc, err := DetectFormat(sheet, e.registry, opts.VendorHint, e.settings.SignatureRows)
		if err != nil {
			if opts.Strict || opts.VendorHint != "" {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			log.Info("sheet skipped", zap.String("sheet", sheet.Name), zap.Error(err))
			continue
		}
		if opts.Strict && len(detected) > 0 && desc.FormatType != detected[0].desc.FormatType {
			return nil, unknownFormat(sheet.Name, fmt.Sprintf("detected %s, expected %s", desc.FormatType, detected[0].desc.FormatType))
		}
		log.Debug("format detected",
			zap.String("stage", string(StageFormatDetected)),
			zap.String("sheet", sheet.Name),
			zap.String("format_type", desc.FormatType),
			zap.String("vendor", desc.Vendor),
		)
		detected = append(detected, detectedSheet{sheet: sheet, desc: desc})
	}
	if len(detected) == 0 {
		return nil, firstErr
	}
	return detected, nil
}

// resolveLayouts scans every detected sheet. Outside strict mode a sheet
// whose layout cannot be resolved is dropped; the run fails only when no
// sheet is left.
func (e *Engine) resolveLayouts(detected []detectedSheet, opts Options, log *zap.Logger) ([]detectedSheet, error) {
	var (
		resolved []detectedSheet
		firstErr error
	)
	for _, d := range detected {
		labels := e.registry.LabelsFor(d.desc.FormatType)
		desc, err := ScanLayout(d.sheet, labels, d.desc, e.settings.HeaderScanRows)
		if err != nil {
			if opts.Strict {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			log.Warn("sheet skipped", zap.String("sheet", d.sheet.Name), zap.Error(err))
			continue
		}
		log.Debug("layout resolved",
			zap.String("stage", string(StageLayoutResolved)),
			zap.String("sheet", d.sheet.Name),
			zap.Int("header_row", desc.HeaderRowIndex),
			zap.Any("columns", desc.ColumnMap),
		)
		resolved = append(resolved, detectedSheet{sheet: d.sheet, desc: desc})
	}
	if len(resolved) == 0 {
		return nil, firstErr
	}
	return resolved, nil
}

// SheetReport is the detection and layout outcome of one sheet, as shown
// by Inspect.
type SheetReport struct {
	Sheet      string                    `json:"sheet"`
	Descriptor internal.FormatDescriptor `json:"descriptor"`
	Candidates []QuantityCandidate       `json:"quantity_candidates,omitempty"`
	Err        error                     `json:"-"`
}

// Inspect runs detection and layout on every sheet without extracting rows.
// Per-sheet failures are reported, not returned; only a load failure is.
func (e *Engine) Inspect(path string, opts Options) ([]SheetReport, error) {
	wb, err := LoadWorkbook(path)
	if err != nil {
		return nil, err
	}

	reports := make([]SheetReport, 0, len(wb.Sheets))
	for i := range wb.Sheets {
		sheet := &wb.Sheets[i]
		report := SheetReport{Sheet: sheet.Name}

		desc, err := DetectFormat(sheet, e.registry, opts.VendorHint, e.settings.SignatureRows)
		if err != nil {
			report.Descriptor, report.Err = desc, err
			reports = append(reports, report)
			continue
		}
		report.Descriptor, report.Candidates, report.Err = scanLayout(sheet, e.registry.LabelsFor(desc.FormatType), desc, e.settings.HeaderScanRows)
		reports = append(reports, report)
	}
	return reports, nil
}

package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderintake/internal"
	"orderintake/internal/logging"
	"orderintake/internal/metrics"
)

// RunLedger records every ingestion attempt. *storage.DB implements it.
type RunLedger interface {
	InsertRun(run internal.RunRecord) error
	FindBySourceHash(hash string) (*internal.RunRecord, error)
}

// ProcessingService wraps the engine with persistence, the run ledger and
// metrics. Ledger and metrics are optional.
type ProcessingService struct {
	engine    *Engine
	outputDir string
	ledger    RunLedger
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewProcessingService(engine *Engine, outputDir string, ledger RunLedger, m *metrics.Metrics, log *zap.Logger) *ProcessingService {
	return &ProcessingService{
		engine:    engine,
		outputDir: outputDir,
		ledger:    ledger,
		metrics:   m,
		log:       logging.OrNop(log),
	}
}

type ProcessOptions struct {
	Options
	ExportXLSX bool
}

type ProcessResult struct {
	RunID      string
	SourceFile string
	OutputPath string
	XLSXPath   string
	Order      *internal.Order
	Err        error
}

// Process ingests path and persists the order. On any fatal error no
// output file exists and the error carries the failed stage.
func (s *ProcessingService) Process(path string, opts ProcessOptions) ProcessResult {
	start := time.Now()
	res := ProcessResult{RunID: uuid.NewString(), SourceFile: path}
	log := s.log.With(zap.String("run_id", res.RunID), zap.String("source", filepath.Base(path)))

	order, hash, err := s.engine.run(path, opts.Options, log)
	if err == nil {
		s.noteDuplicate(hash, log)
		res.Order = order
		res.OutputPath, err = PersistOrder(order, s.outputDir)
	}
	if err != nil {
		res.Err = err
		stage := FailedStage(err)
		log.Error("ingestion failed", zap.String("failed_stage", string(stage)), zap.Error(err))
		s.metrics.ObserveFailure(string(stage), time.Since(start))
		s.record(internal.RunRecord{
			RunID:       res.RunID,
			SourceFile:  path,
			SourceHash:  hash,
			Status:      "failed",
			FailedStage: string(stage),
			Error:       err.Error(),
			CreatedAt:   start.UTC().Format(internal.TimestampLayout),
		}, log)
		res.Order = nil
		return res
	}
	log.Debug("order persisted", zap.String("stage", string(StagePersisted)), zap.String("path", res.OutputPath))

	if opts.ExportXLSX {
		if res.XLSXPath, err = ExportOrderToXLSX(order, s.outputDir); err != nil {
			log.Warn("xlsx export failed", zap.Error(err))
		}
	}

	reasons := map[string]int{}
	for _, w := range order.Warnings {
		reasons[string(w.Reason)]++
	}
	if len(order.Warnings) > 0 {
		log.Warn("rows excluded or flagged", zap.Int("warnings", len(order.Warnings)), zap.Any("reasons", reasons))
	}
	log.Info("order ingested",
		zap.String("format_type", order.FormatType),
		zap.Int("items", len(order.Items)),
		zap.Bool("empty_order", order.Empty()),
		zap.String("output", res.OutputPath),
	)
	s.metrics.ObserveSuccess(order.FormatType, len(order.Items), reasons, time.Since(start))
	s.record(internal.RunRecord{
		RunID:        res.RunID,
		SourceFile:   path,
		SourceHash:   hash,
		Status:       "success",
		FormatType:   order.FormatType,
		ItemCount:    len(order.Items),
		WarningCount: len(order.Warnings),
		OutputPath:   res.OutputPath,
		CreatedAt:    order.CreatedAt.UTC().Format(internal.TimestampLayout),
	}, log)
	return res
}

// ProcessBatch ingests paths concurrently, at most workers at a time.
// Results are in input order; a failed file does not stop the others.
// Files not yet started when ctx is cancelled report ctx.Err().
func (s *ProcessingService) ProcessBatch(ctx context.Context, paths []string, opts ProcessOptions, workers int) []ProcessResult {
	if workers < 1 {
		workers = 1
	}
	results := make([]ProcessResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			results[i] = ProcessResult{SourceFile: path, Err: err}
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = ProcessResult{SourceFile: path, Err: err}
				return nil
			}
			results[i] = s.Process(path, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *ProcessingService) noteDuplicate(hash string, log *zap.Logger) {
	if s.ledger == nil || hash == "" {
		return
	}
	prev, err := s.ledger.FindBySourceHash(hash)
	if err != nil {
		log.Warn("ledger lookup failed", zap.Error(err))
		return
	}
	if prev != nil {
		log.Info("identical content ingested before", zap.String("previous_run_id", prev.RunID), zap.String("previous_output", prev.OutputPath))
	}
}

func (s *ProcessingService) record(run internal.RunRecord, log *zap.Logger) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.InsertRun(run); err != nil {
		log.Warn("run ledger insert failed", zap.Error(err))
	}
}

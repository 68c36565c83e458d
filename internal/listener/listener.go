// Package listener polls an inbox directory and ingests every spreadsheet
// dropped into it.
package listener

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"orderintake/internal/logging"
	"orderintake/internal/pipeline"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

var inboxExtensions = map[string]bool{
	".xlsx": true, ".xlsm": true, ".xls": true,
	".csv": true, ".tsv": true, ".txt": true,
	".htm": true, ".html": true, ".eml": true,
}

type Service struct {
	processor *pipeline.ProcessingService
	inbox     string
	interval  time.Duration
	workers   int
	opts      pipeline.ProcessOptions
	log       *zap.Logger
}

func NewService(processor *pipeline.ProcessingService, inbox string, interval time.Duration, workers int, opts pipeline.ProcessOptions, log *zap.Logger) *Service {
	return &Service{
		processor: processor,
		inbox:     inbox,
		interval:  interval,
		workers:   workers,
		opts:      opts,
		log:       logging.OrNop(log),
	}
}

type CycleResult struct {
	Seen      int
	Processed int
	Failed    int
}

// Run polls until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.log.Error("inbox cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.interval):
		}
	}
}

// RunCycle ingests every file currently in the inbox and files each one
// under processed/ or failed/.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	paths, err := s.pending()
	if err != nil {
		return CycleResult{}, err
	}
	res := CycleResult{Seen: len(paths)}
	if len(paths) == 0 {
		return res, nil
	}

	var moveErrs []error
	for _, r := range s.processor.ProcessBatch(ctx, paths, s.opts, s.workers) {
		if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
			// left in the inbox for the next run
			continue
		}
		target := processedDir
		if r.Err != nil {
			target = failedDir
			res.Failed++
		} else {
			res.Processed++
		}
		if err := s.file(r.SourceFile, target); err != nil {
			moveErrs = append(moveErrs, err)
		}
	}

	s.log.Info("inbox cycle done",
		zap.String("inbox", s.inbox),
		zap.Int("seen", res.Seen),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	)
	return res, errors.Join(moveErrs...)
}

func (s *Service) pending() ([]string, error) {
	entries, err := os.ReadDir(s.inbox)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		if !inboxExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		out = append(out, filepath.Join(s.inbox, name))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) file(path, sub string) error {
	dir := filepath.Join(s.inbox, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	target := filepath.Join(dir, base)
	for n := 1; fileExists(target); n++ {
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
	}
	return os.Rename(path, target)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package pipeline

import (
	"errors"
	"fmt"
)

// Stage is a state of the single-pass ingestion pipeline.
type Stage string

const (
	StageLoaded         Stage = "LOADED"
	StageFormatDetected Stage = "FORMAT_DETECTED"
	StageLayoutResolved Stage = "LAYOUT_RESOLVED"
	StageRowsExtracted  Stage = "ROWS_EXTRACTED"
	StageNormalized     Stage = "NORMALIZED"
	StagePersisted      Stage = "PERSISTED"
	StageFailed         Stage = "FAILED"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrUnknownFormat     = errors.New("unknown format")
	ErrLayoutDetection   = errors.New("layout detection failed")
)

// StageError is the fatal error of a run. Stage is the state the pipeline
// failed to reach; Sheet and Field are set when they apply.
type StageError struct {
	Stage Stage
	Sheet string
	Field string
	Err   error
}

func (e *StageError) Error() string {
	msg := string(e.Stage)
	if e.Sheet != "" {
		msg += fmt.Sprintf(" sheet=%q", e.Sheet)
	}
	if e.Field != "" {
		msg += " field=" + e.Field
	}
	return msg + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func sourceUnavailable(path string, err error) *StageError {
	return &StageError{Stage: StageLoaded, Err: fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)}
}

func unknownFormat(sheet, detail string) *StageError {
	return &StageError{Stage: StageFormatDetected, Sheet: sheet, Err: fmt.Errorf("%w: %s", ErrUnknownFormat, detail)}
}

func layoutError(sheet string, field string, detail string) *StageError {
	return &StageError{Stage: StageLayoutResolved, Sheet: sheet, Field: field, Err: fmt.Errorf("%w: %s", ErrLayoutDetection, detail)}
}

// FailedStage extracts the failing stage from err, or StageFailed when err
// did not come from the pipeline.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageFailed
}

const fieldHeader = "header"

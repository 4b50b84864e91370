package ingest

import (
	"errors"
	"fmt"
)

// Pipeline stages, in execution order.
const (
	StageAssignID   = "assign_id"
	StageDedupe     = "dedupe"
	StageSave       = "save"
	StageExtract    = "extract_text"
	StageFields     = "extract_fields"
	StageDecode     = "decode_reply"
	StagePersist    = "persist"
	StageCategories = "extract_categories"
)

var (
	// ErrDuplicateDocument is returned when content dedupe is on and the
	// document digest was already ingested.
	ErrDuplicateDocument = errors.New("document already ingested")
	// ErrEmptyDocument is returned for attachments with no bytes.
	ErrEmptyDocument = errors.New("attachment is empty")
)

// StageError reports which stage of an ingestion run failed.
type StageError struct {
	RunID    string
	Stage    string
	FileName string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingest %s (stage: %s, run: %s): %v", e.FileName, e.Stage, e.RunID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on the underlying cause.
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func stageErr(runID, stage, fileName string, err error) error {
	return &StageError{RunID: runID, Stage: stage, FileName: fileName, Err: err}
}

// StageOf returns the failed stage of err, or "" when err is not a StageError.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

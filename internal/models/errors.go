package models

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a failure came from
type Stage string

const (
	StageExtraction    Stage = "extraction"
	StageSummarization Stage = "summarization"
	StageEmbedding     Stage = "embedding"
	StageStore         Stage = "store"
	StageCompletion    Stage = "completion"
)

var ErrMismatchedLengths = errors.New("parallel inputs have different lengths")

// PipelineError is the typed failure surfaced to ingestion and query callers
type PipelineError struct {
	Stage  Stage
	Source string
	Err    error
}

func (e *PipelineError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.Source, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func NewPipelineError(stage Stage, source string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Stage == stage {
		return err
	}
	return &PipelineError{Stage: stage, Source: source, Err: err}
}

// StageOf reports the stage of the outermost PipelineError in err, if any
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}

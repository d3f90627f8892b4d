package ingestion

import (
	"errors"
	"fmt"

	"github.com/docqa/backend/internal/extract"
)

var (
	ErrUnsupportedFileType = extract.ErrUnsupportedFileType
	ErrEmptyUpload         = errors.New("upload is empty")
	ErrMissingOwner        = errors.New("owner id is required")
	ErrNoText              = errors.New("no text could be extracted from the upload")
)

// IsValidation reports failures caused by the upload itself. They are
// never retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedFileType) ||
		errors.Is(err, ErrEmptyUpload) ||
		errors.Is(err, ErrMissingOwner) ||
		errors.Is(err, ErrNoText) ||
		errors.Is(err, extract.ErrExtraction)
}

type Stage string

const (
	StageReceived       Stage = "received"
	StageSupersede      Stage = "supersede"
	StageCreateDocument Stage = "create_document"
	StageCreateChunks   Stage = "create_chunks"
	StageEmbedChunks    Stage = "embed_chunks"
	StageSaved          Stage = "saved"
	StageFailed         Stage = "failed"
)

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

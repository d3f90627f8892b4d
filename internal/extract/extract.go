package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtraction          = errors.New("text extraction failed")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindSpreadsheet
	KindPresentation
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindSpreadsheet:
		return "spreadsheet"
	case KindPresentation:
		return "presentation"
	default:
		return "unknown"
	}
}

var kindsByExt = map[string]Kind{
	".pdf":  KindPDF,
	".xlsx": KindSpreadsheet,
	".xls":  KindSpreadsheet,
	".pptx": KindPresentation,
	".ppt":  KindPresentation,
}

func SupportedExtensions() []string {
	return []string{".pdf", ".xlsx", ".xls", ".pptx", ".ppt"}
}

func KindOf(filename string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	kind, ok := kindsByExt[ext]
	if !ok {
		return KindUnknown, fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedFileType, filename,
			strings.Join(SupportedExtensions(), ", "))
	}
	return kind, nil
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

type Registry struct {
	byKind map[Kind]Extractor
	byExt  map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{
		byKind: make(map[Kind]Extractor),
		byExt:  make(map[string]Extractor),
	}
	r.Register(KindPDF, &PDF{})
	r.Register(KindSpreadsheet, &Spreadsheet{})
	r.Register(KindPresentation, &Presentation{})
	r.RegisterExt(".ppt", ExtractorFunc(func(context.Context, []byte) (string, error) {
		return "", fmt.Errorf("%w: legacy binary .ppt presentations are not supported, save as .pptx", ErrExtraction)
	}))
	return r
}

func (r *Registry) Register(kind Kind, e Extractor) {
	r.byKind[kind] = e
}

// RegisterExt overrides the extractor for one extension within its kind.
func (r *Registry) RegisterExt(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

func (r *Registry) For(filename string) (Extractor, Kind, error) {
	kind, err := KindOf(filename)
	if err != nil {
		return nil, KindUnknown, err
	}
	if e, ok := r.byExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return e, kind, nil
	}
	e, ok := r.byKind[kind]
	if !ok {
		return nil, kind, fmt.Errorf("%w: no extractor for %s", ErrUnsupportedFileType, kind)
	}
	return e, kind, nil
}

func extractionError(format string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExtraction, format, err)
}

package model

import "github.com/m-mizutani/goerr/v2"

// Error tags classify failures across layers. Callers branch on the tag
// (e.g. mapping to exit codes or HTTP-ish semantics) while the wrapped cause
// chain stays intact.
var (
	TagValidation  = goerr.NewTag("validation")
	TagNotFound    = goerr.NewTag("not_found")
	TagConflict    = goerr.NewTag("conflict")
	TagExtraction  = goerr.NewTag("extraction")
	TagPersistence = goerr.NewTag("persistence")
)

var (
	ErrDuplicateTitle         = goerr.New("memory title already exists", goerr.T(TagConflict))
	ErrTitleNotFound          = goerr.New("memory title not found", goerr.T(TagNotFound))
	ErrRecommendationNotFound = goerr.New("recommendation not found", goerr.T(TagNotFound))
	ErrStateConflict          = goerr.New("recommendation state conflict", goerr.T(TagConflict))
	ErrInvalidExperiment      = goerr.New("invalid experiment result", goerr.T(TagValidation))
	ErrExtractionFailed       = goerr.New("memory extraction failed", goerr.T(TagExtraction))
	ErrPersistence            = goerr.New("persistence failure", goerr.T(TagPersistence))
)

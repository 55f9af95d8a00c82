package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes
const (
	CodeScrape     = "SCRAPE_ERROR"
	CodeAuth       = "AUTH_ERROR"
	CodeLoginWall  = "LOGIN_WALL"
	CodeFetch      = "FETCH_ERROR"
	CodeExtraction = "EXTRACTION_ERROR"
	CodeCache      = "CACHE_ERROR"
	CodeStorage    = "STORAGE_ERROR"
	CodeValidation = "VALIDATION_ERROR"
)

type ScrapeError struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *ScrapeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ScrapeError) Unwrap() error {
	return e.Cause
}

// HTTPStatus is promoted through every wrapper type so handlers can map
// any taxonomy error to a response code.
func (e *ScrapeError) HTTPStatus() int {
	return e.StatusCode
}

func NewScrapeError(message, code string, statusCode int, context map[string]any) *ScrapeError {
	return &ScrapeError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Context:    context,
	}
}

func (e *ScrapeError) WithCause(cause error) *ScrapeError {
	e.Cause = cause
	return e
}

type AuthError struct {
	*ScrapeError
	Stage string
}

func NewAuthError(message, stage string, cause error) *AuthError {
	return &AuthError{
		ScrapeError: &ScrapeError{
			Message:    message,
			Code:       CodeAuth,
			StatusCode: 401,
			Context: map[string]any{
				"stage": stage,
			},
			Cause: cause,
		},
		Stage: stage,
	}
}

// LoginWallError marks a fetch that came back as a login page instead of the
// requested content. The session must be rebuilt before retrying.
type LoginWallError struct {
	*ScrapeError
	URL string
}

func NewLoginWallError(url string) *LoginWallError {
	return &LoginWallError{
		ScrapeError: &ScrapeError{
			Message:    "login wall encountered",
			Code:       CodeLoginWall,
			StatusCode: 401,
			Context: map[string]any{
				"url": url,
			},
		},
		URL: url,
	}
}

func IsLoginWall(err error) bool {
	var lw *LoginWallError
	return stderrors.As(err, &lw)
}

type FetchError struct {
	*ScrapeError
	URL string
}

func NewFetchError(message, url string, statusCode int, cause error) *FetchError {
	return &FetchError{
		ScrapeError: &ScrapeError{
			Message:    message,
			Code:       CodeFetch,
			StatusCode: statusCode,
			Context: map[string]any{
				"url": url,
			},
			Cause: cause,
		},
		URL: url,
	}
}

type ExtractionError struct {
	*ScrapeError
	URL string
}

func NewExtractionError(message, url string, cause error) *ExtractionError {
	return &ExtractionError{
		ScrapeError: &ScrapeError{
			Message:    message,
			Code:       CodeExtraction,
			StatusCode: 500,
			Context: map[string]any{
				"url": url,
			},
			Cause: cause,
		},
		URL: url,
	}
}

type CacheError struct {
	*ScrapeError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		ScrapeError: &ScrapeError{
			Message:    message,
			Code:       CodeCache,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

type StorageError struct {
	*ScrapeError
	Slot string
}

func NewStorageError(message, slot string, cause error) *StorageError {
	return &StorageError{
		ScrapeError: &ScrapeError{
			Message:    message,
			Code:       CodeStorage,
			StatusCode: 500,
			Context: map[string]any{
				"slot": slot,
			},
			Cause: cause,
		},
		Slot: slot,
	}
}

type ValidationError struct {
	*ScrapeError
	Field string
	Value interface{}
}

func NewValidationError(message, field string, value interface{}) *ValidationError {
	return &ValidationError{
		ScrapeError: &ScrapeError{
			Message:    message,
			Code:       CodeValidation,
			StatusCode: 400,
			Context: map[string]any{
				"field": field,
				"value": value,
			},
		},
		Field: field,
		Value: value,
	}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied marks a category excluded by the permission gate.
	ErrPermissionDenied = errors.New("category not granted")
	// ErrFetchFailure marks a category whose records could not be fetched.
	ErrFetchFailure = errors.New("record fetch failed")
	// ErrMalformedRecord marks a record skipped during aggregation.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrStorageFailure marks a summary that could not be committed.
	ErrStorageFailure = errors.New("summary storage failed")
	// ErrRefreshSuperseded is returned when a newer overlapping refresh cancels an in-flight one.
	ErrRefreshSuperseded = errors.New("refresh superseded by a newer overlapping refresh")
	// ErrUnknownCategory is returned for unrecognised category names.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnknownPeriod is returned for unrecognised period names.
	ErrUnknownPeriod = errors.New("unknown period")
	// ErrInvalidRange is returned when a date or time range is empty or inverted.
	ErrInvalidRange = errors.New("invalid range")
)

// FetchError wraps a collaborator failure for a single category.
type FetchError struct {
	Category Category
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Category, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailure, e.Err}
}

// MalformedRecordError describes why a record was skipped.
type MalformedRecordError struct {
	Category Category
	Reason   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %v", e.Category, e.Reason)
}

// Unwrap exposes the taxonomy sentinel.
func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}

// StorageError reports a failed upsert for one date. It is retryable per date.
type StorageError struct {
	Date DateKey
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store summary for %s: %v", e.Date, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageFailure, e.Err}
}

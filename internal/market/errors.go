package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrDataConsistency marks inputs or state that cannot be reconciled, such as a
// missing price for a signalled asset or a sell larger than the holding.
// Runs abort on it; it is never corrected silently.
var ErrDataConsistency = errors.New("data consistency error")

// DataError describes a data-consistency failure for a date and asset.
type DataError struct {
	Date   time.Time
	Asset  string
	Reason string
	Err    error
}

// NewDataError builds a DataError with no underlying cause.
func NewDataError(date time.Time, asset, reason string) *DataError {
	return &DataError{Date: date, Asset: asset, Reason: reason}
}

// NewDataErrorWrap builds a DataError caused by err.
func NewDataErrorWrap(date time.Time, asset, reason string, err error) *DataError {
	return &DataError{Date: date, Asset: asset, Reason: reason, Err: err}
}

func (e *DataError) Error() string {
	msg := fmt.Sprintf("%s: [%s]", ErrDataConsistency, e.Date.Format(DateLayout))
	if e.Asset != "" {
		msg += " " + e.Asset
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrDataConsistency as the category of every DataError.
func (e *DataError) Is(target error) bool {
	return target == ErrDataConsistency
}

func (e *DataError) Unwrap() error {
	return e.Err
}

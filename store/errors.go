package store

import "github.com/pkg/errors"

// ErrNotFound is returned by drivers when an update or point lookup that
// requires an existing row finds none.
var ErrNotFound = errors.New("record not found")

// ErrInvalidInput marks a request rejected by validation before reaching the driver.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}

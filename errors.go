package ico

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStructure is returned when the byte layout of a container cannot be
	// read: a short header or payload, a seek that does not land, or a
	// directory count that does not match the data.
	ErrStructure = errors.New("ico: structural error")

	// ErrInvalid is matched by every *ValidationError.
	ErrInvalid = errors.New("ico: validation failed")

	// ErrUnsupportedFormat is returned for bit depths and bitmap encodings the
	// pixel codec does not handle.
	ErrUnsupportedFormat = errors.New("ico: unsupported format")

	// ErrPrecondition reports a caller error such as an out-of-range pixel
	// coordinate or a Bitmap requested for a PNG entry.
	ErrPrecondition = errors.New("ico: precondition violated")

	// ErrOffsetMismatch is returned by Write when an entry's payload would not
	// land at its recorded offset.
	ErrOffsetMismatch = errors.New("ico: offset incorrect")

	// ErrResourceNotFound is returned when an icon group or image resource is
	// missing from a module.
	ErrResourceNotFound = errors.New("ico: resource not found")
)

// headerEntry marks a Violation that belongs to the container header.
const headerEntry = -1

// Violation is one failed container invariant.
type Violation struct {
	Entry    int // index into Entries, or -1 for the header
	Field    string
	Expected any
	Actual   any
}

func (v Violation) Error() string {
	if v.Entry == headerEntry {
		return fmt.Sprintf("header %s: expected %v, got %v", v.Field, v.Expected, v.Actual)
	}
	return fmt.Sprintf("entry %d %s: expected %v, got %v", v.Entry, v.Field, v.Expected, v.Actual)
}

// ValidationError aggregates every violation found by Validate.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("ico: %d validation error(s): %s", len(e.Violations), strings.Join(msgs, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Unwrap exposes each violation to errors.As.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v
	}
	return errs
}

// Has reports whether a violation was recorded for field, on any entry.
func (e *ValidationError) Has(field string) bool {
	for _, v := range e.Violations {
		if v.Field == field {
			return true
		}
	}
	return false
}

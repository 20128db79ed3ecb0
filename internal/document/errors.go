package document

import "errors"

// ErrMissingNumber is returned when a document has no document number.
var ErrMissingNumber = errors.New("document number is required")

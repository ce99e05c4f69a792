package core

import (
	"errors"
	"fmt"
)

// ErrCopyLimit is returned for orders asking for more copies than the
// dispatcher is configured to print.
var ErrCopyLimit = errors.New("copy count exceeds limit")

// CopyCount returns how many copies an order asks for: the explicit count
// when positive, else one per serial, else one.
func CopyCount(o *RemoteOrder) int {
	if o == nil {
		return 0
	}
	if o.CopyCount != nil && *o.CopyCount > 0 {
		return *o.CopyCount
	}
	if len(o.Serials) > 0 {
		return len(o.Serials)
	}
	return 1
}

// PlanMarks returns the mark text for every copy in print order. Copies
// beyond the serial list get an empty mark and are printed unstamped.
// A positive maxCopies caps the count.
func PlanMarks(o *RemoteOrder, maxCopies int) ([]string, error) {
	n := CopyCount(o)
	if maxCopies > 0 && n > maxCopies {
		return nil, fmt.Errorf("%w: %d requested, max %d", ErrCopyLimit, n, maxCopies)
	}
	marks := make([]string, n)
	for i := range marks {
		if i < len(o.Serials) {
			marks[i] = o.Serials[i].Serial
		}
	}
	return marks, nil
}

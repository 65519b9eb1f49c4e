package flatten

import (
	"errors"
	"fmt"
)

// MissingReferenceError reports a CRF record whose required subject-registry
// or visit-chain linkage is absent. It is a data-integrity violation: the
// containing export unit fails without retry.
type MissingReferenceError struct {
	Kind              string
	SubjectIdentifier string
	Reference         string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s can not be missing for %s (subject %s)",
		e.Reference, e.Kind, e.SubjectIdentifier)
}

// IsMissingReference reports whether err is (or wraps) a MissingReferenceError.
func IsMissingReference(err error) bool {
	var mre *MissingReferenceError
	return errors.As(err, &mre)
}

// ErrUnknownParticipantType is returned when the caregiver-vs-child flag is
// not one of the two known values. Never silently defaulted.
var ErrUnknownParticipantType = errors.New("participant type must be caregiver or child")

package tokens

import "errors"

// ErrInvalid is the single outcome callers see for a token that cannot be used.
var ErrInvalid = errors.New("update token invalid")

// Reason says why a token was rejected. It is for logs only and must not be
// shown to the applicant.
type Reason int

const (
	ReasonNotFound Reason = iota + 1
	ReasonExpired
	ReasonAlreadyUsed
)

func (r Reason) String() string {
	switch r {
	case ReasonNotFound:
		return "not_found"
	case ReasonExpired:
		return "expired"
	case ReasonAlreadyUsed:
		return "already_used"
	default:
		return "unknown"
	}
}

// InvalidError carries the internal Reason and matches ErrInvalid.
type InvalidError struct {
	Reason Reason
}

func (e *InvalidError) Error() string {
	return ErrInvalid.Error() + " (" + e.Reason.String() + ")"
}

func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalid
}

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var invalid *InvalidError
	if errors.As(err, &invalid) {
		return invalid.Reason, true
	}
	return 0, false
}

package poller

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of a poll.
type Kind int

const (
	KindSuccess Kind = iota
	KindAuthRejected
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindAuthRejected:
		return "auth_rejected"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	// ErrSiteNotFound indicates the site is not among the account's installations.
	ErrSiteNotFound = errors.New("poller: site not found for account")

	// ErrSiteDenied indicates the site is listed but its diagnostics are refused.
	ErrSiteDenied = errors.New("poller: access to site denied")
)

// Error is a classified poll failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return "poller: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err: KindSuccess for nil, the carried kind
// for *Error, and KindTransient for anything else.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

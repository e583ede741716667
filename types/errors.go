package types

import "fmt"

// VenueErrorKind is the taxonomy every adapter-boundary error is classified
// into (spec section 7). The core never pattern-matches on SDK/HTTP error
// types; it only ever sees these kinds.
type VenueErrorKind string

const (
	KindValidation       VenueErrorKind = "validation"
	KindRateLimited      VenueErrorKind = "rate_limited"
	KindTransient        VenueErrorKind = "venue_transient"
	KindUnavailable      VenueErrorKind = "venue_unavailable"
	KindOrderReject      VenueErrorKind = "order_reject"
	KindInsufficientMargin VenueErrorKind = "insufficient_margin"
	KindPriceOutOfBounds VenueErrorKind = "price_out_of_bounds"
	KindReduceOnlyInvalid VenueErrorKind = "reduce_only_invalid"
	KindDuplicateClientID VenueErrorKind = "duplicate_client_id"
	KindTimeout          VenueErrorKind = "timeout"
)

// VenueError wraps every venue-adapter failure so callers switch on Kind,
// never on the underlying SDK/HTTP error.
type VenueError struct {
	Kind  VenueErrorKind
	Venue string
	Op    string
	Err   error
	// OrderID is set by adapters on KindDuplicateClientID: the venue's id for
	// the order that already owns this client_order_id, so the caller can
	// treat the retry as idempotent success by reading that order back
	// instead of resubmitting (spec section 4.E / 7).
	OrderID string
}

func (e *VenueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Venue, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s %s", e.Venue, e.Op, e.Kind)
}

func (e *VenueError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &VenueError{Kind: KindDuplicateClientID}) style
// matching on Kind alone.
func (e *VenueError) Is(target error) bool {
	t, ok := target.(*VenueError)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return true
	}
	return t.Kind == e.Kind
}

// NewVenueError constructs a classified VenueError.
func NewVenueError(venue, op string, kind VenueErrorKind, err error) *VenueError {
	return &VenueError{Kind: kind, Venue: venue, Op: op, Err: err}
}

// NewDuplicateClientIDError constructs a KindDuplicateClientID VenueError
// carrying the venue's OrderID for the order that already owns this
// client_order_id.
func NewDuplicateClientIDError(venue, op, orderID string, err error) *VenueError {
	return &VenueError{Kind: KindDuplicateClientID, Venue: venue, Op: op, Err: err, OrderID: orderID}
}

// FatalInvariantError describes a violated internal-consistency invariant
// (e.g. a cumulative fill decrease without a logged reset event). No code
// path in this module constructs it, and the supervisor has no handling
// that halts the run on it.
type FatalInvariantError struct {
	Invariant string
	Detail    string
}

func (e *FatalInvariantError) Error() string {
	return fmt.Sprintf("fatal invariant violated: %s: %s", e.Invariant, e.Detail)
}

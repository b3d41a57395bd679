package store

import (
	"errors"
	"fmt"
)

// AlreadyEnrolledError reports an enrollment attempt for a (journey,
// customer) pair that already has a location row, locked or not.
// Expected and recoverable: callers skip the customer.
type AlreadyEnrolledError struct {
	JourneyID  string
	CustomerID string
}

func (e *AlreadyEnrolledError) Error() string {
	return fmt.Sprintf("customer %s is already enrolled in journey %s", e.CustomerID, e.JourneyID)
}

// IsAlreadyEnrolled reports whether err is an AlreadyEnrolledError.
func IsAlreadyEnrolled(err error) bool {
	var ae *AlreadyEnrolledError
	return errors.As(err, &ae)
}

// CustomerStillMovingError reports a lock attempt on a location whose
// move_started is non-null and younger than the lock timeout: another
// worker is transitioning this customer. Expected and recoverable:
// callers skip and let the holder (or the timeout) finish.
type CustomerStillMovingError struct {
	JourneyID  string
	CustomerID string
}

func (e *CustomerStillMovingError) Error() string {
	return fmt.Sprintf("customer %s in journey %s is locked by another worker", e.CustomerID, e.JourneyID)
}

// IsCustomerStillMoving reports whether err is a CustomerStillMovingError.
func IsCustomerStillMoving(err error) bool {
	var cm *CustomerStillMovingError
	return errors.As(err, &cm)
}

// NotFoundError reports a point lookup that matched no row.
type NotFoundError struct {
	Kind string // "location", "journey", "customer"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

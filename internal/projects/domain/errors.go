package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrSubscription = errors.New("subscription failed")
)

// SubscriptionError is delivered to a subscription's error callback when the
// store push channel fails. The subscription is finished after it.
type SubscriptionError struct {
	Scope string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Scope, e.Err)
}

func (e *SubscriptionError) Unwrap() []error {
	return []error{ErrSubscription, e.Err}
}

// NewSubscriptionError wraps err for the given scope.
func NewSubscriptionError(scope string, err error) *SubscriptionError {
	return &SubscriptionError{Scope: scope, Err: err}
}

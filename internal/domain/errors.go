package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrInvalidResponse    = errors.New("invalid response")
	ErrDisconnected       = errors.New("disconnected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// SubscriptionError reports a pair the exchange would not subscribe.
type SubscriptionError struct {
	Pair   MarketPair
	Reason string
	Err    error
}

func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("subscribe %s: %s: %v", e.Pair, e.Reason, e.Err)
	}
	return fmt.Sprintf("subscribe %s: %s", e.Pair, e.Reason)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

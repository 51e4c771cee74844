package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/craftshopapp/craftshop/internal/db"
	"github.com/craftshopapp/craftshop/internal/ratelimit"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrUnknownStatus    = errors.New("unknown order status")
	ErrAlreadyRequested = errors.New("a cancellation request already exists for this order")
	ErrNotCancellable   = errors.New("order can no longer be cancelled")
)

// TransitionError reports a status change the state machine does not
// permit. Inside a bulk batch it becomes a per-order failure reason;
// in single-order flows it surfaces as a 400.
type TransitionError struct {
	From db.OrderStatus
	To   db.OrderStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("transition from %s to %s is not allowed", e.From, e.To)
}

type RateLimitedError struct {
	ResetIn time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, try again in %s", ratelimit.FormatRemaining(e.ResetIn))
}

type BannedError struct {
	Remaining time.Duration
	Reason    string
}

func (e BannedError) Error() string {
	return fmt.Sprintf("access suspended for %s", ratelimit.FormatRemaining(e.Remaining))
}

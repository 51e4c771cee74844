// Package observability carries a request-scoped sentry meter through
// context so services can count outcomes without threading a meter
// argument everywhere.
package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
)

type meterContextKey struct{}

// WithMeter stores meter on the context, creating one when nil.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterContextKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the stored meter, or a fresh one so callers
// never have to nil-check.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if ctx != nil {
		if meter, ok := ctx.Value(meterContextKey{}).(sentry.Meter); ok && meter != nil {
			return meter.WithCtx(ctx)
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return sentry.NewMeter(ctx).WithCtx(ctx)
}

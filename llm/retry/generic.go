package retry

import "context"

// Do is a type-safe generic wrapper around Retryer.DoWithResult.
//
// Usage:
//
//	concept, err := retry.Do(ctx, r, func() (string, error) {
//	    return adapter.CallText(ctx, prompt)
//	})
func Do[T any](ctx context.Context, r Retryer, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}

package breaker

// CallTyped is a type-safe wrapper around Breaker.Call for calls that
// produce a result, avoiding a type assertion at the call site.
func CallTyped[T any](b *Breaker, target string, fn func() (T, error)) (T, error) {
	var result T
	err := b.Call(target, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

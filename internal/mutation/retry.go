package mutation

// RetryPolicy decides whether a failed attempt should be retried. The zero
// value never retries.
type RetryPolicy struct {
	max  int
	pred func(failureCount int, err error) bool
}

// DefaultMaxRetries is the retry cap applied by RetryAlways.
const DefaultMaxRetries = 3

// NoRetry never retries. Equivalent to the zero value.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// RetryAlways retries up to the fixed default cap.
func RetryAlways() RetryPolicy {
	return RetryPolicy{max: DefaultMaxRetries}
}

// RetryCount retries up to n times beyond the initial attempt.
func RetryCount(n int) RetryPolicy {
	if n < 0 {
		n = 0
	}
	return RetryPolicy{max: n}
}

// RetryWhen retries while the predicate returns true. failureCount is the
// number of failed attempts so far, starting at 1.
func RetryWhen(pred func(failureCount int, err error) bool) RetryPolicy {
	return RetryPolicy{pred: pred}
}

func (p RetryPolicy) shouldRetry(failureCount int, err error) bool {
	if p.pred != nil {
		return p.pred(failureCount, err)
	}
	return failureCount <= p.max
}

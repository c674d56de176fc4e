package engine

import (
	"errors"
	"reflect"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.temporal.io/sdk/temporal"
)

// retryDelay returns how long to wait before the attempt following
// attempt (1-indexed) under policy.
func retryDelay(policy *temporal.RetryPolicy, attempt int) time.Duration {
	initial := policy.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	coefficient := policy.BackoffCoefficient
	if coefficient < 1 {
		coefficient = 2.0
	}
	maxInterval := policy.MaximumInterval
	if maxInterval <= 0 {
		maxInterval = 100 * initial
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          coefficient,
		MaxInterval:         maxInterval,
	}
	b.Reset()
	var d time.Duration
	for range attempt {
		d = b.NextBackOff()
	}
	return d
}

// attemptsExhausted reports whether no attempt may follow attempt.
func attemptsExhausted(policy *temporal.RetryPolicy, attempt int) bool {
	return policy.MaximumAttempts > 0 && attempt >= int(policy.MaximumAttempts)
}

// classify returns the type name recorded for err and whether policy
// allows retrying it.
func classify(policy *temporal.RetryPolicy, err error) (string, bool) {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.NonRetryable() || slices.Contains(policy.NonRetryableErrorTypes, appErr.Type()) {
			return appErr.Type(), false
		}
		return appErr.Type(), true
	}

	typeName := errorTypeName(err)
	for e := err; e != nil; e = errors.Unwrap(e) {
		if slices.Contains(policy.NonRetryableErrorTypes, errorTypeName(e)) {
			return errorTypeName(e), false
		}
	}
	return typeName, true
}

func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

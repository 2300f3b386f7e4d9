// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

// Package request executes remote calls under a retry policy. Every
// management, storage and marketplace call in azimg funnels through an
// Executor so that transient failures are handled in one place.
package request

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/suse-enceladus/azimg", "request")

const (
	// DefaultMaxAttempts is the retry budget used when a Policy does
	// not specify one.
	DefaultMaxAttempts = 5

	baseDelay = time.Second
	maxDelay  = 32 * time.Second
)

// Policy decides whether a failed attempt is retried and how long to
// back off before the next one. Policies are immutable values and safe
// to share between executors.
type Policy struct {
	// MaxAttempts is the total number of calls made before giving up,
	// including the first one.
	MaxAttempts int

	// Backoff maps a completed attempt count to the delay before the
	// next attempt. Nil means exponential backoff with jitter.
	Backoff func(attempt int) time.Duration

	// Retryable classifies an error as transient. Nil means
	// DefaultRetryable.
	Retryable func(err error) bool
}

// DefaultBackoff doubles the nominal delay each attempt, capped at 32s,
// and spreads attempts over the upper half of the nominal delay so that
// concurrent callers sharing a quota don't align.
func DefaultBackoff(attempt int) time.Duration {
	d := baseDelay << uint(attempt-1)
	if d <= 0 || d > maxDelay {
		d = maxDelay
	}
	half := int64(d / 2)
	return time.Duration(half + rand.Int63n(half+1))
}

// DefaultRetryable treats throttling, server errors and network-level
// failures as transient. Everything else, in particular other 4xx
// responses and validation errors, is permanent.
func DefaultRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return true
		case se.StatusCode == http.StatusRequestTimeout:
			return true
		case se.StatusCode >= 500:
			return true
		}
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return false
}

// Attempt records one try of a call for diagnostics. It is handed to
// the executor's Observer, if any, and otherwise discarded.
type Attempt struct {
	Number   int
	Start    time.Time
	Duration time.Duration
	Err      error
}

// Authorizer is notified when a call fails with 401 so that a cached
// token can be dropped before the single re-authentication retry.
type Authorizer interface {
	Invalidate()
}

// Executor runs calls under a Policy. The zero value uses the default
// policy. Executors hold no per-call state and are safe for concurrent
// use.
type Executor struct {
	Policy     Policy
	Authorizer Authorizer

	// Observer, if set, receives every finished Attempt.
	Observer func(Attempt)
}

// Do invokes call until it succeeds, its error is classified permanent,
// or the retry budget is exhausted. Permanent errors are returned as-is;
// an exhausted budget is reported as an ExhaustedError wrapping the last
// attempt's error. Backoff sleeps are interrupted by ctx.
func (e *Executor) Do(ctx context.Context, call func(ctx context.Context) error) error {
	maxAttempts := e.Policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := e.Policy.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	retryable := e.Policy.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	attempts := 0
	reauthed := false
	for {
		attempts++
		start := time.Now()
		err := call(ctx)
		if e.Observer != nil {
			e.Observer(Attempt{
				Number:   attempts,
				Start:    start,
				Duration: time.Since(start),
				Err:      err,
			})
		}
		if err == nil {
			return nil
		}

		// A single re-authentication per Do: drop the cached token
		// and try again without consuming the transient budget.
		var se *StatusError
		if e.Authorizer != nil && !reauthed &&
			errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			reauthed = true
			attempts--
			plog.Debugf("attempt failed with 401, refreshing credentials: %v", err)
			e.Authorizer.Invalidate()
			continue
		}

		if !retryable(err) {
			return err
		}
		if attempts >= maxAttempts {
			return &ExhaustedError{Attempts: attempts, Last: err}
		}

		delay := backoff(attempts)
		plog.Debugf("attempt %d failed, retrying in %v: %v", attempts, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

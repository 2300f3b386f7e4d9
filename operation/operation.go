// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

// Package operation polls asynchronous cloud operations to completion.
// A Waiter owns exactly one operation handle and probes its status at a
// fixed cadence until the operation reaches a terminal state or the
// deadline elapses.
package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coreos/pkg/capnslog"

	"github.com/suse-enceladus/azimg/request"
)

var plog = capnslog.NewPackageLogger("github.com/suse-enceladus/azimg", "operation")

// Status is the reported state of a remote operation. Transitions are
// strictly forward: Pending, then InProgress, then one terminal state.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusSucceeded  Status = "Succeeded"
	StatusFailed     Status = "Failed"
	StatusCanceled   Status = "Canceled"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	default:
		return 2
	}
}

// Kind names the remote operation being waited on.
type Kind string

const (
	ImageCreate          Kind = "image-create"
	ImageDelete          Kind = "image-delete"
	GalleryVersionCreate Kind = "gallery-version-create"
	GalleryVersionDelete Kind = "gallery-version-delete"
	OfferPublish         Kind = "offer-publish"
	OfferGoLive          Kind = "offer-go-live"
)

// Probe fetches the operation's current status and, when available, its
// final payload (for example the created image document).
type Probe func(ctx context.Context) (Status, json.RawMessage, error)

// Result is the terminal outcome of a successful wait.
type Result struct {
	Status  Status
	Payload json.RawMessage
}

// TimeoutError reports that the deadline elapsed before the operation
// reached a terminal state. It is distinct from a remote-reported
// failure.
type TimeoutError struct {
	Kind       Kind
	Handle     string
	Elapsed    time.Duration
	LastStatus Status
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation %q still %s after %v",
		e.Kind, e.Handle, e.LastStatus, e.Elapsed.Round(time.Second))
}

// FailedError reports that the remote explicitly ended the operation in
// Failed or Canceled, carrying whatever detail the remote provided.
type FailedError struct {
	Kind   Kind
	Handle string
	Status Status
	Detail json.RawMessage
}

func (e *FailedError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("%s operation %q ended %s: %s", e.Kind, e.Handle, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s operation %q ended %s", e.Kind, e.Handle, e.Status)
}

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 30 * time.Minute
)

// Waiter polls one asynchronous operation. Each Waiter instance owns
// its operation; concurrent waits on different operations are fully
// independent.
type Waiter struct {
	// Handle is the opaque identifier or URL of the operation,
	// used only for diagnostics here; the Probe closes over it.
	Handle string
	Kind   Kind

	// Interval defaults to DefaultInterval, Timeout to DefaultTimeout.
	Interval time.Duration
	Timeout  time.Duration

	// Executor runs every probe, so a transient error during polling
	// does not abort the wait. Nil means a default executor.
	Executor *request.Executor

	Probe Probe
}

// Wait polls until the operation reaches a terminal state. It returns
// the Result on success, a *FailedError when the remote reports Failed
// or Canceled, and a *TimeoutError when the deadline elapses first.
// Abandoning the wait through ctx stops polling without cancelling the
// remote operation.
func (w *Waiter) Wait(ctx context.Context) (*Result, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	executor := w.Executor
	if executor == nil {
		executor = &request.Executor{}
	}

	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	last := StatusPending
	for {
		var (
			status  Status
			payload json.RawMessage
		)
		err := executor.Do(ctx, func(ctx context.Context) error {
			var probeErr error
			status, payload, probeErr = w.Probe(ctx)
			return probeErr
		})
		if err != nil {
			return nil, fmt.Errorf("probing %s operation %q: %w", w.Kind, w.Handle, err)
		}

		if status.rank() < last.rank() {
			return nil, fmt.Errorf("%s operation %q went backwards from %s to %s",
				w.Kind, w.Handle, last, status)
		}
		if status != last {
			plog.Infof("%s operation %q is %s", w.Kind, w.Handle, status)
		}
		last = status

		if status.Terminal() {
			if status == StatusSucceeded {
				return &Result{Status: status, Payload: payload}, nil
			}
			return nil, &FailedError{Kind: w.Kind, Handle: w.Handle, Status: status, Detail: payload}
		}

		tick := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			tick.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			tick.Stop()
			return nil, &TimeoutError{
				Kind:       w.Kind,
				Handle:     w.Handle,
				Elapsed:    time.Since(start),
				LastStatus: last,
			}
		case <-tick.C:
		}
	}
}

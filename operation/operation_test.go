// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/suse-enceladus/azimg/request"
)

// scriptedProbe replays a fixed sequence of probe outcomes.
type scriptedProbe struct {
	statuses []Status
	payloads []json.RawMessage
	errs     []error
	calls    int
}

func (p *scriptedProbe) probe(ctx context.Context) (Status, json.RawMessage, error) {
	i := p.calls
	if i >= len(p.statuses) {
		i = len(p.statuses) - 1
	}
	p.calls++
	var payload json.RawMessage
	if i < len(p.payloads) {
		payload = p.payloads[i]
	}
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.statuses[i], payload, err
}

func fastWaiter(kind Kind, p *scriptedProbe) *Waiter {
	return &Waiter{
		Handle:   "op-1",
		Kind:     kind,
		Interval: time.Millisecond,
		Timeout:  time.Second,
		Executor: &request.Executor{Policy: request.Policy{
			MaxAttempts: 3,
			Backoff:     func(int) time.Duration { return 0 },
		}},
		Probe: p.probe,
	}
}

func TestWaitPollsToSuccess(t *testing.T) {
	p := &scriptedProbe{
		statuses: []Status{StatusInProgress, StatusInProgress, StatusSucceeded},
		payloads: []json.RawMessage{nil, nil, json.RawMessage(`{"id":"img-1"}`)},
	}
	res, err := fastWaiter(ImageCreate, p).Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p.calls != 3 {
		t.Errorf("got %d probes, want 3", p.calls)
	}
	if res.Status != StatusSucceeded {
		t.Errorf("got status %s, want Succeeded", res.Status)
	}
	if !strings.Contains(string(res.Payload), "img-1") {
		t.Errorf("result lost the terminal payload: %q", res.Payload)
	}
}

func TestWaitStopsAtFirstTerminal(t *testing.T) {
	p := &scriptedProbe{
		statuses: []Status{StatusPending, StatusSucceeded, StatusInProgress},
	}
	if _, err := fastWaiter(ImageCreate, p).Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("got %d probes, want polling to stop at the terminal state", p.calls)
	}
}

func TestWaitRemoteFailure(t *testing.T) {
	p := &scriptedProbe{
		statuses: []Status{StatusInProgress, StatusFailed},
		payloads: []json.RawMessage{nil, json.RawMessage(`{"code":"AllocationFailed"}`)},
	}
	_, err := fastWaiter(GalleryVersionCreate, p).Wait(context.Background())
	var fe *FailedError
	if !errors.As(err, &fe) {
		t.Fatalf("got %T (%v), want *FailedError", err, err)
	}
	if fe.Status != StatusFailed {
		t.Errorf("got status %s, want Failed", fe.Status)
	}
	if !strings.Contains(fe.Error(), "AllocationFailed") {
		t.Errorf("error dropped the remote detail: %v", fe)
	}
}

func TestWaitTimeout(t *testing.T) {
	p := &scriptedProbe{statuses: []Status{StatusInProgress}}
	w := fastWaiter(OfferPublish, p)
	w.Timeout = 20 * time.Millisecond
	w.Interval = time.Millisecond

	_, err := w.Wait(context.Background())
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("got %T (%v), want *TimeoutError", err, err)
	}
	if te.LastStatus != StatusInProgress {
		t.Errorf("got last status %s, want InProgress", te.LastStatus)
	}
	if te.Kind != OfferPublish {
		t.Errorf("got kind %s, want %s", te.Kind, OfferPublish)
	}
}

func TestWaitRejectsBackwardTransition(t *testing.T) {
	p := &scriptedProbe{
		statuses: []Status{StatusInProgress, StatusPending},
	}
	_, err := fastWaiter(ImageDelete, p).Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "backwards") {
		t.Fatalf("got %v, want a backward-transition error", err)
	}
}

func TestWaitRetriesTransientProbeErrors(t *testing.T) {
	p := &scriptedProbe{
		statuses: []Status{StatusInProgress, StatusInProgress, StatusSucceeded},
		errs:     []error{io.ErrUnexpectedEOF, nil, nil},
	}
	res, err := fastWaiter(ImageCreate, p).Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != StatusSucceeded {
		t.Errorf("got status %s, want Succeeded", res.Status)
	}
	if p.calls != 3 {
		t.Errorf("got %d probes, want 3", p.calls)
	}
}

func TestWaitContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProbe{statuses: []Status{StatusInProgress}}
	w := fastWaiter(ImageCreate, p)
	w.Interval = time.Minute

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(ctx)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusCanceled} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// maxBodyCapture bounds how much of a failed response body is kept for
// diagnostics.
const maxBodyCapture = 64 * 1024

// StatusError is an HTTP-shaped failure. It always carries the original
// status line and as much of the response body as was captured, so that
// a failed request can be diagnosed without re-running it.
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	body := bytes.TrimSpace(e.Body)
	if len(body) > 0 {
		return fmt.Sprintf("%s: %s", e.Status, body)
	}
	return e.Status
}

// NewStatusError builds a StatusError from resp, consuming and closing
// its body.
func NewStatusError(resp *http.Response) *StatusError {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
		resp.Body.Close()
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}
}

// ExhaustedError reports that the retry budget was consumed without a
// successful attempt. Last is the error from the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

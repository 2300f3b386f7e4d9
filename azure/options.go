// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package azure

import (
	"fmt"
	"time"

	"github.com/suse-enceladus/azimg/request"
	"github.com/suse-enceladus/azimg/upload"
)

// MissingArgumentError reports a configuration field that an operation
// needs but the caller never supplied.
type MissingArgumentError struct {
	Field string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("required argument %q was not provided", e.Field)
}

// Options is the flat configuration consumed by the API. Callers build
// it explicitly and pass it in; the package holds no global state.
// Fields an operation needs are validated at that operation's entry
// point.
type Options struct {
	ResourceGroup  string
	StorageAccount string
	Container      string
	Region         string

	// HyperVGeneration of created images, V1 or V2.
	HyperVGeneration string

	// MaxWorkers bounds upload concurrency. Zero means the uploader's
	// safety cap.
	MaxWorkers int

	// MaxAttempts is the retry budget for every remote call.
	MaxAttempts int

	// ChunkSize of blob uploads in bytes.
	ChunkSize int64

	// PollInterval and Timeout govern waits on asynchronous
	// operations.
	PollInterval time.Duration
	Timeout      time.Duration
}

// SetDefaults fills the unset tuning knobs.
func (o *Options) SetDefaults() {
	if o.HyperVGeneration == "" {
		o.HyperVGeneration = "V1"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = request.DefaultMaxAttempts
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = upload.DefaultChunkSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
}

func (o *Options) require(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return &MissingArgumentError{Field: pairs[i]}
		}
	}
	return nil
}

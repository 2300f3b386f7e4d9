// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"

	"github.com/coreos/pkg/multierror"
)

// ChunkFailure identifies a chunk that exhausted its retry budget,
// together with the number of attempts made and the final error.
type ChunkFailure struct {
	Chunk    Chunk
	Attempts int
	Err      error
}

func (f ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %d [%d,%d): %v",
		f.Chunk.Index, f.Chunk.Offset, f.Chunk.End(), f.Err)
}

// Error is the terminal failure of an upload session. Partial means
// some chunks were committed before the session aborted; the remote
// blob is left as-is for the caller to retry or delete.
type Error struct {
	Partial bool
	Failed  []ChunkFailure
}

func (e *Error) Error() string {
	var errs multierror.Error
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	if e.Partial {
		return fmt.Sprintf("upload incomplete, %d chunk(s) failed: %v", len(e.Failed), errs.AsError())
	}
	return fmt.Sprintf("upload failed: %v", errs.AsError())
}

// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload splits a local image file into chunks and drives them
// to a destination blob over a bounded worker pool. Each chunk is an
// independently retried unit; the blob is only finalized once every
// chunk has been committed.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/coreos/pkg/capnslog"

	"github.com/suse-enceladus/azimg/request"
)

var plog = capnslog.NewPackageLogger("github.com/suse-enceladus/azimg", "upload")

const (
	// DefaultChunkSize matches the page set size used by the Azure
	// VHD upload tooling.
	DefaultChunkSize = 4 * 1024 * 1024
)

// ChunkStatus is the lifecycle state of a chunk within one session.
type ChunkStatus int

const (
	StatusPending ChunkStatus = iota
	StatusInFlight
	StatusCommitted
	StatusFailed
)

// Blob is the destination of an upload session. Create allocates the
// remote object, PutChunk writes one chunk's byte range, and Commit
// seals the object once all chunks are in place.
//
// PutChunk may be called concurrently for distinct chunks. Create and
// Commit are called exactly once, before and after all PutChunk calls.
type Blob interface {
	Create(ctx context.Context, size int64) error
	PutChunk(ctx context.Context, c Chunk, data []byte) error
	Commit(ctx context.Context) error
}

// Session uploads one source file to one destination blob. A session
// owns its chunks; nothing is shared across sessions beyond the
// executor's policy.
type Session struct {
	// Source provides the file content. Chunks are read at their own
	// offsets, so Source must support concurrent ReadAt.
	Source io.ReaderAt
	Size   int64

	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int64

	// Workers bounds the number of chunks in flight. Zero or negative
	// means 8 per CPU, the same cap the VHD upload tooling uses.
	Workers int

	// MaxAttempts is the per-chunk retry budget.
	MaxAttempts int

	// Executor runs every remote call. Nil means a default executor
	// with MaxAttempts as its budget.
	Executor *request.Executor

	Dest Blob

	// chunk records, owned one per worker while in flight
	states []chunkState
}

type chunkState struct {
	chunk    Chunk
	status   ChunkStatus
	attempts int
	err      error
}

// Run plans the chunks, allocates the destination blob, uploads all
// chunks across the worker pool and commits the result. If any chunk
// exhausts its retry budget the session stops dispatching new chunks,
// lets in-flight chunks finish, and returns an *Error naming the
// failed chunks; Commit is never called in that case.
func (s *Session) Run(ctx context.Context) error {
	if s.Source == nil || s.Dest == nil {
		return errors.New("upload: session needs a source and a destination")
	}
	if s.Size <= 0 {
		return fmt.Errorf("upload: invalid source size %d", s.Size)
	}
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	executor := s.Executor
	if executor == nil {
		executor = &request.Executor{Policy: request.Policy{MaxAttempts: s.MaxAttempts}}
	}

	chunks := Plan(s.Size, chunkSize)
	s.states = make([]chunkState, len(chunks))
	for i := range s.states {
		s.states[i] = chunkState{chunk: chunks[i], status: StatusPending}
	}

	workers := s.Workers
	if workers <= 0 {
		workers = 8 * runtime.NumCPU()
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}

	if err := executor.Do(ctx, func(ctx context.Context) error {
		return s.Dest.Create(ctx, s.Size)
	}); err != nil {
		return fmt.Errorf("upload: creating destination blob: %w", err)
	}

	plog.Infof("Uploading %d bytes in %d chunk(s) with %d worker(s)", s.Size, len(chunks), workers)

	var (
		aborted atomic.Bool
		wg      sync.WaitGroup
	)
	work := make(chan int)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				st := &s.states[idx]
				st.status = StatusInFlight
				if err := s.uploadChunk(ctx, executor, st); err != nil {
					st.status = StatusFailed
					st.err = err
					aborted.Store(true)
					plog.Errorf("chunk %d failed permanently: %v", st.chunk.Index, err)
				} else {
					st.status = StatusCommitted
				}
			}
		}()
	}

dispatch:
	for idx := range chunks {
		if aborted.Load() {
			break
		}
		select {
		case work <- idx:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	var failed []ChunkFailure
	committed := 0
	for i := range s.states {
		st := &s.states[i]
		switch st.status {
		case StatusFailed:
			failed = append(failed, ChunkFailure{Chunk: st.chunk, Attempts: st.attempts, Err: st.err})
		case StatusCommitted:
			committed++
		}
	}
	if len(failed) > 0 {
		return &Error{Partial: committed > 0, Failed: failed}
	}

	if err := executor.Do(ctx, func(ctx context.Context) error {
		return s.Dest.Commit(ctx)
	}); err != nil {
		return fmt.Errorf("upload: finalizing blob: %w", err)
	}
	plog.Infof("Upload completed, %d chunk(s) committed", committed)
	return nil
}

// ChunkStates reports the terminal status and attempt count of every
// chunk after Run has returned. Useful for diagnostics.
func (s *Session) ChunkStates() []ChunkStatus {
	statuses := make([]ChunkStatus, len(s.states))
	for i := range s.states {
		statuses[i] = s.states[i].status
	}
	return statuses
}

func (s *Session) uploadChunk(ctx context.Context, executor *request.Executor, st *chunkState) error {
	buf := make([]byte, st.chunk.Length)
	return executor.Do(ctx, func(ctx context.Context) error {
		st.attempts++
		// ReadAt may return io.EOF together with a full read on the
		// final chunk.
		if n, err := s.Source.ReadAt(buf, st.chunk.Offset); err != nil && !(err == io.EOF && n == len(buf)) {
			return fmt.Errorf("reading chunk %d: %w", st.chunk.Index, err)
		}
		return s.Dest.PutChunk(ctx, st.chunk, buf)
	})
}

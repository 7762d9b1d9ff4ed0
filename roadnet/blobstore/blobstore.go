// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package blobstore defines the content-addressed store for uploaded
// files, snapshots and historical diffs.
package blobstore

import (
	"context"
	"io"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default blobstore errors class.
	Error = errs.Class("blobstore")
	// ErrNotFound is returned when a ref does not exist.
	ErrNotFound = errs.Class("blob not found")
)

// Kind partitions blobs by their role in the pipeline.
type Kind string

// Blob kinds.
const (
	KindUpload   Kind = "upload"
	KindSnapshot Kind = "snapshot"
	KindDiff     Kind = "diff"
)

// Ref is an opaque, stable handle to a stored blob.
type Ref string

// Info describes a stored blob.
type Info struct {
	Ref     Ref
	Size    int64
	ModTime time.Time
}

// Store is a content-addressed blob store. Writes are atomic; a reader
// never observes a partial write. Put is idempotent for identical
// content.
type Store interface {
	// Put streams r into the store and returns the content-addressed
	// ref.
	Put(ctx context.Context, kind Kind, r io.Reader) (Ref, error)

	// Open returns a reader over the blob. The caller closes it.
	Open(ctx context.Context, ref Ref) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing ref is not an error.
	Delete(ctx context.Context, ref Ref) error

	// Stat returns blob metadata, or ErrNotFound.
	Stat(ctx context.Context, ref Ref) (Info, error)
}

// Lister is implemented by stores that can enumerate blobs of a kind.
// Only the sweeper uses it; the hot path never lists.
type Lister interface {
	List(ctx context.Context, kind Kind, fn func(Info) error) error
}

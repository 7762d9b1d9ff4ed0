// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package filestore implements a disk-backed content-addressed blob
// store. Blobs are written to a temporary file and renamed into place,
// so concurrent readers never observe partial writes.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
)

var (
	// Error is the default filestore errors class.
	Error = errs.Class("filestore")

	mon = monkit.Package()

	_ blobstore.Store  = (*Store)(nil)
	_ blobstore.Lister = (*Store)(nil)
)

// Config is configuration for the blob store.
type Config struct {
	Dir string `help:"directory holding uploaded files, snapshots and diffs" default:"$CONFDIR/blobs"`
}

// Store is a disk blob store rooted at a directory, one subdirectory
// per kind.
type Store struct {
	log *zap.Logger
	dir string
}

// New creates the store, making the kind directories as needed.
func New(log *zap.Logger, config Config) (*Store, error) {
	for _, kind := range []blobstore.Kind{blobstore.KindUpload, blobstore.KindSnapshot, blobstore.KindDiff} {
		if err := os.MkdirAll(filepath.Join(config.Dir, string(kind)), 0o755); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(config.Dir, "tmp"), 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{log: log, dir: config.Dir}, nil
}

// Put streams r to a temporary file, hashing as it goes, then renames
// the file to its content address. Identical content lands on the same
// ref, which makes Put idempotent.
func (store *Store) Put(ctx context.Context, kind blobstore.Kind, r io.Reader) (_ blobstore.Ref, err error) {
	defer mon.Task()(&ctx)(&err)

	tmp, err := os.CreateTemp(filepath.Join(store.dir, "tmp"), "put-*")
	if err != nil {
		return "", Error.Wrap(err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), r); err != nil {
		return "", Error.Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		return "", Error.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return "", Error.Wrap(err)
	}

	ref := blobstore.Ref(string(kind) + "/" + hex.EncodeToString(hasher.Sum(nil)))
	path, err := store.refPath(ref)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", Error.Wrap(err)
	}
	return ref, nil
}

// Open returns a reader over the blob.
func (store *Store) Open(ctx context.Context, ref blobstore.Ref) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.refPath(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blobstore.ErrNotFound.New("%s", ref)
		}
		return nil, Error.Wrap(err)
	}
	return file, nil
}

// Delete removes the blob, tolerating a missing ref.
func (store *Store) Delete(ctx context.Context, ref blobstore.Ref) (err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.refPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return Error.Wrap(err)
	}
	return nil
}

// Stat returns metadata for the blob.
func (store *Store) Stat(ctx context.Context, ref blobstore.Ref) (_ blobstore.Info, err error) {
	defer mon.Task()(&ctx)(&err)

	path, err := store.refPath(ref)
	if err != nil {
		return blobstore.Info{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return blobstore.Info{}, blobstore.ErrNotFound.New("%s", ref)
		}
		return blobstore.Info{}, Error.Wrap(err)
	}
	return blobstore.Info{Ref: ref, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// List enumerates blobs of a kind. Only the sweeper calls this.
func (store *Store) List(ctx context.Context, kind blobstore.Kind, fn func(blobstore.Info) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	entries, err := os.ReadDir(filepath.Join(store.dir, string(kind)))
	if err != nil {
		return Error.Wrap(err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Error.Wrap(err)
		}
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			return Error.Wrap(err)
		}
		err = fn(blobstore.Info{
			Ref:     blobstore.Ref(string(kind) + "/" + entry.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// refPath maps a ref to its on-disk location, refusing refs that try
// to escape the root.
func (store *Store) refPath(ref blobstore.Ref) (string, error) {
	kind, name, ok := strings.Cut(string(ref), "/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", Error.New("malformed ref %q", ref)
	}
	switch blobstore.Kind(kind) {
	case blobstore.KindUpload, blobstore.KindSnapshot, blobstore.KindDiff:
	default:
		return "", Error.New("unknown kind in ref %q", ref)
	}
	return filepath.Join(store.dir, kind, name), nil
}

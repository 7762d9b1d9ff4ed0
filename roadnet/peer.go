// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package roadnet wires the import pipeline into a runnable peer: the
// database, the blob store, the engines, the job runner, the sweeper
// chore and the HTTP API.
package roadnet

import (
	"context"
	"net"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opencouncil/roadnet/roadnet/blobstore/filestore"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer/differ"
	"github.com/opencouncil/roadnet/roadnet/importer/jobrunner"
	"github.com/opencouncil/roadnet/roadnet/importer/pipeline"
	"github.com/opencouncil/roadnet/roadnet/importer/publisher"
	"github.com/opencouncil/roadnet/roadnet/importer/validation"
	"github.com/opencouncil/roadnet/roadnet/importweb"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
	"github.com/opencouncil/roadnet/roadnet/sweeper"
)

// Config is the complete configuration of a roadnet peer.
type Config struct {
	Database roadnetdb.Config
	Blobs    filestore.Config

	Differ    differ.Config
	Publisher publisher.Config
	Jobs      jobrunner.Config
	Pipeline  pipeline.Config
	Sweeper   sweeper.Config
	Web       importweb.Config
}

// Peer is the assembled import service.
type Peer struct {
	Log *zap.Logger
	DB  *roadnetdb.DB

	Blobs  *filestore.Store
	Reader *georead.Reader

	Validator *validation.Validator
	Differ    *differ.Differ
	Publisher *publisher.Publisher
	Runner    *jobrunner.Runner
	Pipeline  *pipeline.Service
	Sweeper   *sweeper.Chore

	Web struct {
		Listener net.Listener
		Server   *importweb.Server
	}
}

// New assembles a peer from an opened database and configuration.
func New(log *zap.Logger, db *roadnetdb.DB, config Config) (*Peer, error) {
	peer := &Peer{Log: log, DB: db}

	var err error
	peer.Blobs, err = filestore.New(log.Named("blobs"), config.Blobs)
	if err != nil {
		return nil, err
	}
	peer.Reader = georead.NewReader(peer.Blobs)

	peer.Validator = validation.New(log.Named("validation"), peer.Reader)
	peer.Differ = differ.New(log.Named("differ"), peer.Reader, peer.Blobs, config.Differ)
	peer.Publisher = publisher.New(log.Named("publisher"), db, peer.Blobs, peer.Differ, config.Publisher)
	peer.Runner = jobrunner.New(log.Named("jobs"), db.Versions(), config.Jobs)
	peer.Pipeline = pipeline.New(log.Named("pipeline"), db, peer.Blobs, peer.Reader,
		peer.Validator, peer.Differ, peer.Publisher, peer.Runner, config.Pipeline)
	peer.Sweeper = sweeper.New(log.Named("sweeper"), db.Versions(), peer.Blobs, peer.Blobs, config.Sweeper)

	peer.Web.Listener, err = net.Listen("tcp", config.Web.Address)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	peer.Web.Server = importweb.NewServer(log.Named("web"), peer.Web.Listener, peer.Pipeline, config.Web)

	return peer, nil
}

// Run runs the peer until ctx is canceled or a component fails.
func (peer *Peer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return peer.Runner.Run(ctx)
	})
	group.Go(func() error {
		return peer.Sweeper.Run(ctx)
	})
	group.Go(func() error {
		peer.Log.Info("import api listening", zap.String("address", peer.Web.Listener.Addr().String()))
		return peer.Web.Server.Run(ctx)
	})

	return group.Wait()
}

// Close releases the peer's resources. The database is owned by the
// caller and closed separately.
func (peer *Peer) Close() error {
	var group errs.Group
	if peer.Web.Server != nil {
		group.Add(peer.Web.Server.Close())
	}
	if peer.Sweeper != nil {
		group.Add(peer.Sweeper.Close())
	}
	if peer.Runner != nil {
		group.Add(peer.Runner.Close())
	}
	return group.Err()
}

// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package importweb exposes the import pipeline over HTTP. Handlers
// stay thin: they parse, call the pipeline service and map pipeline
// error classes onto status codes. Async operations return a job row
// with 202; clients poll the job endpoint.
package importweb

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"github.com/opencouncil/roadnet/roadnet/importer/pipeline"
)

var (
	// Error is the default importweb errors class.
	Error = errs.Class("importweb")

	mon = monkit.Package()
)

// Config defines the HTTP server configuration.
type Config struct {
	Address string `help:"import api http listening address" default:":10080"`
}

// Server serves the import API.
type Server struct {
	log      *zap.Logger
	listener net.Listener
	server   http.Server

	service *pipeline.Service
	config  Config
}

// NewServer creates an import API server on listener.
func NewServer(log *zap.Logger, listener net.Listener, service *pipeline.Service, config Config) *Server {
	server := &Server{
		log:      log,
		listener: listener,
		service:  service,
		config:   config,
	}

	root := mux.NewRouter()

	versions := root.PathPrefix("/import/versions").Subrouter()
	versions.HandleFunc("/upload", server.upload).Methods("POST")
	versions.HandleFunc("", server.list).Methods("GET")
	versions.HandleFunc("/jobs/{jobId}", server.job).Methods("GET")
	versions.HandleFunc("/{id}", server.get).Methods("GET")
	versions.HandleFunc("/{id}", server.deleteDraft).Methods("DELETE")
	versions.HandleFunc("/{id}/layers", server.layers).Methods("GET")
	versions.HandleFunc("/{id}/configure", server.configure).Methods("POST")
	versions.HandleFunc("/{id}/validate", server.validate).Methods("POST")
	versions.HandleFunc("/{id}/validation", server.validationResult).Methods("GET")
	versions.HandleFunc("/{id}/preview", server.preview).Methods("GET")
	versions.HandleFunc("/{id}/history", server.history).Methods("GET")
	versions.HandleFunc("/{id}/publish", server.publish).Methods("POST")
	versions.HandleFunc("/{id}/rollback", server.rollback).Methods("POST")

	exports := root.PathPrefix("/import/exports").Subrouter()
	exports.HandleFunc("", server.createExport).Methods("POST")
	exports.HandleFunc("/{id}", server.getExport).Methods("GET")
	exports.HandleFunc("/{id}/download", server.downloadExport).Methods("GET")

	server.server.Handler = root
	return server
}

// Run starts the server and shuts it down when ctx is done.
func (server *Server) Run(ctx context.Context) error {
	if server.listener == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errs2.IsCanceled(err) || errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close closes the server and the underlying listener.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// TestingHandler exposes the router for handler tests.
func (server *Server) TestingHandler() http.Handler {
	return server.server.Handler
}

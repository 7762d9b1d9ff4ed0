// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package importweb

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/pipeline"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

func (server *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		server.sendError(w, Error.Wrap(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (server *Server) sendError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		server.log.Error("request failed", zap.Error(err))
	}
	body, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// statusOf maps the pipeline error taxonomy onto HTTP status codes:
// 404 for unknown entities, 409 for conflicts, 400 for input and
// state errors, 500 for infrastructure failures.
func statusOf(err error) int {
	switch {
	case importer.ErrNotFound.Has(err), blobstore.ErrNotFound.Has(err):
		return http.StatusNotFound
	case importer.ErrConflictingJob.Has(err), importer.ErrConflictingPublish.Has(err):
		return http.StatusConflict
	case importer.ErrInvalidTransition.Has(err),
		importer.ErrValidationBlocked.Has(err),
		geo.ErrUnsupportedCRS.Has(err),
		roads.ErrInvalidScope.Has(err),
		georead.ErrInvalidFile.Has(err),
		georead.ErrUnsupportedFormat.Has(err),
		georead.ErrCorruptedGeometry.Has(err),
		georead.ErrLayerNotFound.Has(err),
		pipeline.Error.Has(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

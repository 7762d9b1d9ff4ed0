// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package importweb

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/pipeline"
)

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(mux.Vars(r)[name])
	if err != nil {
		return uuid.UUID{}, importer.ErrNotFound.New("invalid id %q", mux.Vars(r)[name])
	}
	return id, nil
}

func (server *Server) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	file, header, err := r.FormFile("file")
	if err != nil {
		server.sendError(w, pipeline.Error.New("multipart field %q is required: %v", "file", err))
		return
	}
	defer func() { _ = file.Close() }()

	version, err := server.service.Upload(ctx, header.Filename, file)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, version)
}

func (server *Server) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	opts := importer.ListVersions{
		Status: importer.VersionStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		opts.Limit, _ = strconv.Atoi(limit)
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		opts.Offset, _ = strconv.Atoi(offset)
	}

	versions, total, err := server.service.List(ctx, opts)
	if err != nil {
		server.sendError(w, err)
		return
	}
	if versions == nil {
		versions = []importer.ImportVersion{}
	}
	server.sendJSON(w, http.StatusOK, map[string]interface{}{
		"data":  versions,
		"total": total,
	})
}

func (server *Server) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	version, err := server.service.Get(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, version)
}

func (server *Server) layers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	layers, err := server.service.Layers(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, layers)
}

func (server *Server) configure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}

	var body struct {
		LayerName         string `json:"layerName"`
		SourceCRS         string `json:"sourceCRS"`
		DefaultDataSource string `json:"defaultDataSource"`
		RegionalRefresh   *bool  `json:"regionalRefresh"`
		ImportScope       string `json:"importScope"`
		SourceExportID    string `json:"sourceExportId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		server.sendError(w, pipeline.Error.New("invalid request body: %v", err))
		return
	}

	version, err := server.service.Configure(ctx, id, pipeline.ConfigureRequest{
		LayerName:         body.LayerName,
		SourceCRS:         body.SourceCRS,
		DefaultDataSource: body.DefaultDataSource,
		RegionalRefresh:   body.RegionalRefresh,
		ImportScope:       body.ImportScope,
		SourceExportID:    body.SourceExportID,
	})
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, version)
}

func (server *Server) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	job, err := server.service.Validate(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusAccepted, job)
}

func (server *Server) validationResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	result, err := server.service.ValidationResult(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, result)
}

func (server *Server) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	diff, err := server.service.Preview(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, diff)
}

func (server *Server) history(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	diff, err := server.service.History(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, diff)
}

func (server *Server) publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	job, err := server.service.Publish(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusAccepted, job)
}

func (server *Server) rollback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	job, err := server.service.Rollback(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusAccepted, job)
}

func (server *Server) deleteDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	if err := server.service.DeleteDraft(ctx, id); err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (server *Server) job(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "jobId")
	if err != nil {
		server.sendError(w, err)
		return
	}
	job, err := server.service.Job(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, job)
}

func (server *Server) createExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	var body struct {
		Scope string `json:"scope"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			server.sendError(w, pipeline.Error.New("invalid request body: %v", err))
			return
		}
	}
	export, err := server.service.CreateExport(ctx, body.Scope)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, export)
}

func (server *Server) getExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	export, err := server.service.GetExport(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	server.sendJSON(w, http.StatusOK, export)
}

func (server *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer mon.Task()(&ctx)(nil)

	id, err := pathID(r, "id")
	if err != nil {
		server.sendError(w, err)
		return
	}
	export, blob, err := server.service.OpenExport(ctx, id)
	if err != nil {
		server.sendError(w, err)
		return
	}
	defer func() { _ = blob.Close() }()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="roads-`+export.ID.String()+`.ndjson"`)
	_, _ = io.Copy(w, blob)
}

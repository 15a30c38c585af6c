// Package handlers provides the HTTP handlers for the batch staging API.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	stageerr "github.com/docstage/docstage/internal/errors"
	"github.com/docstage/docstage/internal/identity"
	"github.com/docstage/docstage/internal/jsonutil"
	"github.com/docstage/docstage/internal/progress"
	"github.com/docstage/docstage/internal/staging"
)

// BatchHandler contains handlers for the batch staging operations.
type BatchHandler struct {
	stager  *staging.Stager
	tracker *progress.Tracker
}

// NewBatchHandler creates a BatchHandler with the given dependencies.
func NewBatchHandler(stager *staging.Stager, tracker *progress.Tracker) *BatchHandler {
	return &BatchHandler{stager: stager, tracker: tracker}
}

// uploadResult is the JSON body returned after a successful staging.
type uploadResult struct {
	Tenant string `json:"tenant"`
	Batch  string `json:"batch"`
}

// listResult is the JSON body of a batch listing.
type listResult struct {
	Batches []string `json:"batches"`
}

// CreateOrReplaceBatch handles PUT /v1/batches/{tenant}/{batch}. The request
// body is a multipart stream whose parts arrive in upload order; parts with
// content type application/document+json are documents, everything else is a
// loose attachment.
func (h *BatchHandler) CreateOrReplaceBatch(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	batch := chi.URLParam(r, "batch")

	parts, err := newMultipartStream(r)
	if err != nil {
		jsonutil.WriteError(w, r, err)
		return
	}

	if err := h.stager.CreateOrReplaceBatch(r.Context(), tenant, batch, parts); err != nil {
		jsonutil.WriteError(w, r, err)
		return
	}

	slog.Info("Batch staged", "tenant", tenant, "batch", batch)
	jsonutil.WriteJSON(w, http.StatusCreated, uploadResult{Tenant: tenant, Batch: batch})
}

// GetBatches handles GET /v1/batches/{tenant}?starts_with=&from=&limit=.
func (h *BatchHandler) GetBatches(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonutil.WriteError(w, r, stageerr.ErrInvalidArgument.WithMessage("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	batches, err := h.stager.GetBatches(tenant, q.Get("starts_with"), q.Get("from"), limit)
	if err != nil {
		jsonutil.WriteError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, listResult{Batches: batches})
}

// GetBatchStatus handles GET /v1/batches/{tenant}/{batch}/status. The
// response blocks for at least one second when other instances have
// in-flight uploads of the batch, by design of the two-sample estimate.
func (h *BatchHandler) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	tenant, err := identity.NewTenantID(chi.URLParam(r, "tenant"))
	if err != nil {
		jsonutil.WriteError(w, r, err)
		return
	}
	batch, err := identity.NewBatchID(chi.URLParam(r, "batch"))
	if err != nil {
		jsonutil.WriteError(w, r, err)
		return
	}

	status, err := h.tracker.Status(r.Context(), tenant, batch)
	if err != nil {
		jsonutil.WriteError(w, r, err)
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, status)
}

// DeleteBatch handles DELETE /v1/batches/{tenant}/{batch}.
func (h *BatchHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	batch := chi.URLParam(r, "batch")

	if err := h.stager.DeleteBatch(tenant, batch); err != nil {
		jsonutil.WriteError(w, r, err)
		return
	}
	slog.Info("Batch deleted", "tenant", tenant, "batch", batch)
	w.WriteHeader(http.StatusNoContent)
}

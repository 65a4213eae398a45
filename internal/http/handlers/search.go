package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
)

type reindexResponse struct {
	Items    int `json:"items"`
	Fabrics  int `json:"fabrics"`
	Patterns int `json:"patterns"`
}

// Reindex — POST /search/reindex: перестраивает полнотекстовый индекс мастер-данных.
func (h *Handlers) Reindex(w http.ResponseWriter, r *http.Request) {
	var (
		resp reindexResponse
		err  error
	)

	if resp.Items, err = h.Items.Reindex(r.Context()); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if resp.Fabrics, err = h.Fabrics.Reindex(r.Context()); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if resp.Patterns, err = h.Patterns.Reindex(r.Context()); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

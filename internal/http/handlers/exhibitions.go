package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
)

type exhibitionItemsRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type exhibitionItemsResponse struct {
	Added int `json:"added"`
}

// PublishExhibition — POST /exhibitions/{id}/publish (идемпотентно).
func (h *Handlers) PublishExhibition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	e, err := h.Exhibitions.Publish(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// AddExhibitionItems — POST /exhibitions/{id}/items {"item_ids": [...]}.
func (h *Handlers) AddExhibitionItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	var in exhibitionItemsRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	n, err := h.Exhibitions.AddItems(r.Context(), id, in.ItemIDs)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, exhibitionItemsResponse{Added: n})
}

func (h *Handlers) RemoveExhibitionItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	itemID, err := pathID(r, "itemID")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	changed, err := h.Exhibitions.RemoveItem(r.Context(), id, itemID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

// ExportExhibition — GET /exhibitions/{id}/catalog.pdf.
func (h *Handlers) ExportExhibition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.Exhibitions.ExportCatalog(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writePDF(w, "catalog-"+id+".pdf", res.PDF)
}

package handlers

import (
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/service"
)

type codeResponse struct {
	Code string `json:"code"`
}

type shareResponse struct {
	URL string `json:"url"`
}

type pickupItemRequest struct {
	ItemID string `json:"item_id"`
}

// CreatePickup — POST /pickups. Пустой code — код генерируется;
// занятый явный код — 409/code_in_use.
func (h *Handlers) CreatePickup(w http.ResponseWriter, r *http.Request) {
	var in service.CreatePickupInput
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	id, err := h.Pickups.Create(r.Context(), in)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+id)
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handlers) UpdatePickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	patch, err := decodePatch(w, r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.Pickups.Update(r.Context(), id, patch); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	p, err := h.Pickups.Get(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// GeneratePickupCode — GET /pickups/code?exhibition_id=: следующий свободный код.
// Код не резервируется.
func (h *Handlers) GeneratePickupCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.Pickups.GenerateCode(r.Context(), r.URL.Query().Get("exhibition_id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, codeResponse{Code: code})
}

// SharePickup — POST /pickups/{id}/share: ссылка сохраняется в подборке.
func (h *Handlers) SharePickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	url, err := h.Pickups.Share(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, shareResponse{URL: url})
}

// AddPickupItem — POST /pickups/{id}/items {"item_id": ...}; повтор — changed=false.
func (h *Handlers) AddPickupItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	var in pickupItemRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	changed, err := h.Pickups.AddItem(r.Context(), id, in.ItemID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handlers) RemovePickupItem(w http.ResponseWriter, r *http.Request) {
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

	changed, err := h.Pickups.RemoveItem(r.Context(), id, itemID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

// ExportPickup — GET /pickups/{id}/export.pdf.
func (h *Handlers) ExportPickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.Pickups.ExportPDF(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writePDF(w, "pickup-"+id+".pdf", res.PDF)
}

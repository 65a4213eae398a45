package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/service"
)

type loansResponse struct {
	Items []models.Loan `json:"items"`
}

func (h *Handlers) ListLoans(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	page, err := h.Loans.List(r.Context(), p)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handlers) GetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	l, err := h.Loans.Get(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, l)
}

// CheckOut — POST /loans. Образец уже выдан — 409.
func (h *Handlers) CheckOut(w http.ResponseWriter, r *http.Request) {
	var in service.CheckOutInput
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	id, err := h.Loans.CheckOut(r.Context(), in)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ReturnLoan — POST /loans/{id}/return. Повторный возврат — 409.
func (h *Handlers) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	l, err := h.Loans.Return(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, l)
}

func (h *Handlers) OverdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Loans.Overdue(r.Context(), time.Now())
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if loans == nil {
		loans = []models.Loan{}
	}

	writeJSON(w, http.StatusOK, loansResponse{Items: loans})
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/http/middleware"
	"github.com/pribylovaa/apparel-admin/internal/scan"
	logctx "github.com/pribylovaa/apparel-admin/pkg/log"
)

// streamWriteTimeout — дедлайн записи одного SSE-события.
const streamWriteTimeout = 30 * time.Second

type startScanRequest struct {
	ExhibitionID string `json:"exhibition_id"`
	PickupCode   string `json:"pickup_code"`
}

type scanRequest struct {
	ItemID       string `json:"item_id"`
	ExhibitionID string `json:"exhibition_id"`
}

// StartScan — POST /scan/session: открывает (или заменяет) сессию устройства.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	var in startScanRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	s, err := h.Scan.Start(r.Context(), middleware.ClientIDFrom(r.Context()), in.ExhibitionID, in.PickupCode)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// CurrentScan — GET /scan/session; нет сессии — 412/no_session.
func (h *Handlers) CurrentScan(w http.ResponseWriter, r *http.Request) {
	s, err := h.Scan.Current(r.Context(), middleware.ClientIDFrom(r.Context()))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) EndScan(w http.ResponseWriter, r *http.Request) {
	if err := h.Scan.End(r.Context(), middleware.ClientIDFrom(r.Context())); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ScanItem — POST /scan {"item_id", "exhibition_id"}.
func (h *Handlers) ScanItem(w http.ResponseWriter, r *http.Request) {
	var in scanRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.Scan.Scan(r.Context(), middleware.ClientIDFrom(r.Context()), in.ItemID, in.ExhibitionID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ScanStream — GET /scan/stream: SSE-поток снимков подборки активной сессии.
// Снимок (полный список образцов) отправляется сразу и затем раз в интервал опроса.
// Поток закрывается, когда клиент отключается.
func (h *Handlers) ScanStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := middleware.ClientIDFrom(ctx)
	lg := logctx.From(ctx).With("op", "http/handlers/ScanStream")

	if _, err := h.Scan.Current(ctx, clientID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		lg.Error("streaming not supported", "err", err)
		return
	}

	err := h.Scan.Poll(ctx, clientID, func(s scan.Snapshot) error {
		return sendEvent(w, rc, "pickup", s)
	})
	if err != nil {
		lg.Warn("scan stream stopped", "err", err)
		_, resp := apierrors.ToHTTP(err)
		_ = sendEvent(w, rc, "error", resp)
	}
}

// sendEvent пишет одно SSE-событие и сбрасывает буфер.
func sendEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Не все ResponseWriter поддерживают дедлайны записи.
	_ = rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}

	return rc.Flush()
}

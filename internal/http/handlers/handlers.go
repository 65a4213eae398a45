// Package handlers — HTTP-хендлеры apparel-admin поверх сервисного слоя.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/scan"
	"github.com/pribylovaa/apparel-admin/internal/service"
)

// Размеры тел запросов по умолчанию.
const (
	defaultMaxJSON   = 1 << 20
	defaultMaxUpload = 32 << 20
)

// Services — сервисы, которые обслуживают хендлеры.
type Services struct {
	Items       *service.Catalog[models.Item]
	Fabrics     *service.Catalog[models.Fabric]
	Patterns    *service.Catalog[models.Pattern]
	Exhibitions *service.Exhibitions
	Pickups     *service.Pickups
	Loans       *service.Loans
	Scan        *scan.Workflow
}

// Handlers агрегирует зависимости хендлеров.
// MaxUploadBytes — предел multipart-тела (все файлы запроса вместе).
type Handlers struct {
	Services
	MaxUploadBytes int64
}

func New(s Services, maxUploadBytes int64) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUpload
	}
	return &Handlers{Services: s, MaxUploadBytes: maxUploadBytes}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxJSON))
	dec.DisallowUnknownFields()

	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrBadRequest, err)
	}

	return nil
}

// decodePatch читает частичное обновление; состав полей проверяет сервис.
func decodePatch(w http.ResponseWriter, r *http.Request) (models.Patch, error) {
	var patch models.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxJSON))

	if err := dec.Decode(&patch); err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrBadRequest, err)
	}

	return patch, nil
}

// pathID — обязательный параметр пути.
func pathID(r *http.Request, name string) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, name))
	if id == "" {
		return "", fmt.Errorf("%w: empty %s", apierrors.ErrBadRequest, name)
	}
	return id, nil
}

// queryInt — необязательный целочисленный параметр запроса.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", apierrors.ErrBadRequest, name)
	}

	return n, nil
}

// filterPrefix — фильтры равенства передаются как filter.<поле>=<значение>.
const filterPrefix = "filter."

// listParams разбирает параметры постраничной выдачи:
// search, sort, order, cursor, direction, page_size, filter.<поле>.
func listParams(r *http.Request) (models.ListParams, error) {
	q := r.URL.Query()

	size, err := queryInt(r, "page_size")
	if err != nil {
		return models.ListParams{}, err
	}

	p := models.ListParams{
		Search:    q.Get("search"),
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
		Cursor:    q.Get("cursor"),
		Direction: q.Get("direction"),
		PageSize:  size,
	}

	for key, values := range q {
		field, ok := strings.CutPrefix(key, filterPrefix)
		if !ok || field == "" || len(values) == 0 {
			continue
		}
		if p.Filters == nil {
			p.Filters = make(map[string]string)
		}
		p.Filters[field] = values[0]
	}

	return p, nil
}

// idResponse — ответ на создание.
type idResponse struct {
	ID string `json:"id"`
}

// changedResponse — ответ на идемпотентные операции с множествами.
type changedResponse struct {
	Changed bool `json:"changed"`
}

// writePDF отдаёт документ как вложение.
func writePDF(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/apparel-admin/internal/errors"
	"github.com/pribylovaa/apparel-admin/internal/service"
)

// Поля multipart-формы создания: JSON сущности и файлы изображений.
const (
	formData   = "data"
	formImages = "images"
	formImage  = "image"
)

// Catalog — CRUD-хендлеры мастер-данных одного вида.
type Catalog[T service.Entity] struct {
	svc       *service.Catalog[T]
	maxUpload int64
}

// NewCatalog связывает хендлеры с сервисом вида.
func NewCatalog[T service.Entity](svc *service.Catalog[T], maxUpload int64) *Catalog[T] {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Catalog[T]{svc: svc, maxUpload: maxUpload}
}

// List — GET /{kind}. Поиск и фильтры сужают только текущую страницу.
func (h *Catalog[T]) List(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	page, err := h.svc.List(r.Context(), p)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Catalog[T]) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// Create — POST /{kind}: JSON-тело либо multipart (data + images).
// Если документ записан, а загрузка изображения упала, ответ — ошибка с id в X-Entity-Id.
func (h *Catalog[T]) Create(w http.ResponseWriter, r *http.Request) {
	in, uploads, err := h.readCreate(w, r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	id, err := h.svc.Create(r.Context(), in, uploads...)
	if err != nil {
		if id != "" {
			w.Header().Set("X-Entity-Id", id)
		}
		apierrors.WriteError(w, r, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+id)
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Catalog[T]) readCreate(w http.ResponseWriter, r *http.Request) (T, []service.Upload, error) {
	var in T

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err := decodeStrict(w, r, &in)
		return in, nil, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return in, nil, fmt.Errorf("%w: %v", apierrors.ErrBadRequest, err)
	}

	dec := json.NewDecoder(strings.NewReader(r.FormValue(formData)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, nil, fmt.Errorf("%w: field %q: %v", apierrors.ErrBadRequest, formData, err)
	}

	uploads, err := readFiles(r.MultipartForm.File[formImages])
	return in, uploads, err
}

func (h *Catalog[T]) Update(w http.ResponseWriter, r *http.Request) {
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

	if err := h.svc.Update(r.Context(), id, patch); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// Delete идемпотентен: отсутствующая сущность — тоже 204.
func (h *Catalog[T]) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AttachImage — POST /{kind}/{id}/images, multipart с одним файлом image.
func (h *Catalog[T]) AttachImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %v", apierrors.ErrBadRequest, err))
		return
	}

	uploads, err := readFiles(r.MultipartForm.File[formImage])
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if len(uploads) != 1 {
		apierrors.WriteError(w, r, fmt.Errorf("%w: exactly one %q file expected", apierrors.ErrBadRequest, formImage))
		return
	}

	img, err := h.svc.AttachImage(r.Context(), id, uploads[0].Data)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, img)
}

// RemoveImage — DELETE /{kind}/{id}/images?path=<ключ объекта>.
func (h *Catalog[T]) RemoveImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	imagePath := r.URL.Query().Get("path")
	if imagePath == "" {
		apierrors.WriteError(w, r, fmt.Errorf("%w: path is required", apierrors.ErrBadRequest))
		return
	}

	if err := h.svc.RemoveImage(r.Context(), id, imagePath); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Search — GET /{kind}/search?q=&limit=: поиск по всей коллекции через индекс.
func (h *Catalog[T]) Search(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if text == "" {
		apierrors.WriteError(w, r, fmt.Errorf("%w: q is required", apierrors.ErrBadRequest))
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	items, err := h.svc.Search(r.Context(), text, limit)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// readFiles читает загруженные файлы целиком.
func readFiles(headers []*multipart.FileHeader) ([]service.Upload, error) {
	out := make([]service.Upload, 0, len(headers))

	for _, fh := range headers {
		data, err := readFile(fh)
		if err != nil {
			return nil, fmt.Errorf("%w: file %q: %v", apierrors.ErrBadRequest, fh.Filename, err)
		}
		out = append(out, service.Upload{Data: data})
	}

	return out, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}

	return data, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/pribylovaa/apparel-admin/internal/imaging"
	"github.com/pribylovaa/apparel-admin/internal/models"
	"github.com/pribylovaa/apparel-admin/internal/search"
	"github.com/pribylovaa/apparel-admin/internal/storage"
	"github.com/pribylovaa/apparel-admin/pkg/log"
)

// Entity — документ с идентификатором (models.Meta встраивается во все сущности).
type Entity interface {
	Key() string
}

// Upload — изображение, прикладываемое к сущности.
type Upload struct {
	Data []byte
}

// Catalog — постраничный список, поиск и CRUD одного вида сущностей.
type Catalog[T Entity] struct {
	kind Kind
	deps Deps

	// check — проверки сверх тегов validate (например, согласованность дат).
	check func(T) error
}

// NewCatalog создаёт каталог вида kind.
func NewCatalog[T Entity](kind Kind, deps Deps) *Catalog[T] {
	return &Catalog[T]{kind: kind, deps: deps}
}

// Kind возвращает описание вида.
func (c *Catalog[T]) Kind() Kind { return c.kind }

// pageSize приводит запрошенный размер страницы к [Default, Max].
func (c *Catalog[T]) pageSize(n int) int {
	if n <= 0 {
		n = c.deps.Limits.Default
	}

	if n > c.deps.Limits.Max {
		n = c.deps.Limits.Max
	}

	return max(n, 1)
}

// List возвращает страницу сущностей.
//
// Поиск (Search) и фильтры (Filters) применяются после выборки страницы из хранилища:
// они сужают только текущую страницу. Курсоры берутся из выбранных строк до сужения,
// поэтому следующая страница не перечитывает отфильтрованные строки. Для поиска
// по всей коллекции — Catalog.Search.
//
// Ошибки: ErrInvalidArgument (сортировка/направление/фильтр), ErrInvalidCursor, ErrUnavailable.
func (c *Catalog[T]) List(ctx context.Context, p models.ListParams) (*models.Page[T], error) {
	const op = "service/catalog/List"

	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection)

	sortBy := strings.TrimSpace(p.SortBy)
	if sortBy == "" {
		sortBy = c.kind.SortFields[0]
	}
	if !contains(c.kind.SortFields, sortBy) {
		lg.Warn("invalid argument: sort field", "sort", sortBy)
		return nil, fmt.Errorf("%s: %w", op, invalid("sort", "must be one of: "+strings.Join(c.kind.SortFields, " ")))
	}

	desc := c.kind.DefaultDesc
	switch strings.ToLower(strings.TrimSpace(p.SortOrder)) {
	case "":
	case models.OrderAsc:
		desc = false
	case models.OrderDesc:
		desc = true
	default:
		lg.Warn("invalid argument: sort order", "order", p.SortOrder)
		return nil, fmt.Errorf("%s: %w", op, invalid("order", "must be one of: asc desc"))
	}

	backward := false
	switch p.Direction {
	case "", models.DirectionForward:
	case models.DirectionBackward:
		backward = true
	default:
		lg.Warn("invalid argument: direction", "direction", p.Direction)
		return nil, fmt.Errorf("%s: %w", op, invalid("direction", "must be one of: forward backward"))
	}

	for field := range p.Filters {
		if !contains(c.kind.FilterFields, field) {
			lg.Warn("invalid argument: filter field", "field", field)
			return nil, fmt.Errorf("%s: %w", op, invalid(field, "filtering is not supported"))
		}
	}

	size := c.pageSize(p.PageSize)
	q := storage.Query{
		Collection: c.kind.Collection,
		OrderBy:    sortBy,
		Desc:       desc,
		Limit:      size + 1,
	}

	if cur := strings.TrimSpace(p.Cursor); cur != "" {
		if backward {
			q.Before = cur
		} else {
			q.After = cur
		}
	}

	rows, err := c.deps.Docs.Find(ctx, q)
	if err != nil {
		return nil, fromStorage(lg, op, err)
	}

	hasMore := len(rows) > size
	if hasMore {
		if backward {
			// Лишняя строка — самая ранняя, она перед страницей.
			rows = rows[len(rows)-size:]
		} else {
			rows = rows[:size]
		}
	}

	page := &models.Page[T]{Items: make([]T, 0, len(rows)), HasMore: hasMore}
	if len(rows) > 0 {
		page.FirstCursor = rows[0].Cursor
		page.LastCursor = rows[len(rows)-1].Cursor
	}

	needle := strings.ToLower(strings.TrimSpace(p.Search))
	for _, r := range rows {
		if !c.matches(r.Data, needle, p.Filters) {
			continue
		}

		var e T
		if err := bson.Unmarshal(r.Data, &e); err != nil {
			lg.Error("decode document", "id", r.ID, "err", err)
			return nil, fmt.Errorf("%s: %w", op, ErrInternal)
		}
		page.Items = append(page.Items, e)
	}

	return page, nil
}

// matches — подстрочный поиск без учёта регистра по SearchFields и равенство фильтров.
func (c *Catalog[T]) matches(raw bson.Raw, needle string, filters map[string]string) bool {
	for field, want := range filters {
		ok := false
		for _, v := range rawStrings(storage.SortValue(raw, field)) {
			if strings.EqualFold(v, want) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if needle == "" {
		return true
	}

	for _, field := range c.kind.SearchFields {
		for _, v := range rawStrings(storage.SortValue(raw, field)) {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
	}

	return false
}

// rawStrings — строковые представления скаляра или элементов массива.
func rawStrings(v bson.RawValue) []string {
	switch v.Type {
	case bsontype.String:
		return []string{v.StringValue()}
	case bsontype.Array:
		vals, err := v.Array().Values()
		if err != nil {
			return nil
		}
		out := make([]string, 0, len(vals))
		for _, el := range vals {
			out = append(out, rawStrings(el)...)
		}
		return out
	case bsontype.Double:
		return []string{fmt.Sprint(v.Double())}
	case bsontype.Int32:
		return []string{fmt.Sprint(v.Int32())}
	case bsontype.Int64:
		return []string{fmt.Sprint(v.Int64())}
	case bsontype.Boolean:
		return []string{fmt.Sprint(v.Boolean())}
	}
	return nil
}

// Get возвращает сущность по id.
func (c *Catalog[T]) Get(ctx context.Context, id string) (*T, error) {
	const op = "service/catalog/Get"

	id = strings.TrimSpace(id)
	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection, "id", id)

	if id == "" {
		lg.Warn("invalid argument: empty id")
		return nil, fmt.Errorf("%s: %w", op, invalid("id", "is required"))
	}

	raw, err := c.deps.Docs.Get(ctx, c.kind.Collection, id)
	if err != nil {
		return nil, fromStorage(lg, op, err)
	}

	var e T
	if err := bson.Unmarshal(raw, &e); err != nil {
		lg.Error("decode document", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return &e, nil
}

// Create валидирует и сохраняет сущность, затем последовательно загружает изображения.
// Изображения проверяются до записи документа; если падает загрузка, документ остаётся
// сохранённым и id возвращается вместе с ошибкой.
func (c *Catalog[T]) Create(ctx context.Context, in T, uploads ...Upload) (string, error) {
	const op = "service/catalog/Create"

	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection)

	if err := c.validate(in); err != nil {
		lg.Warn("validation failed", "err", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	prepared, err := c.prepareImages(uploads)
	if err != nil {
		lg.Warn("invalid image", "err", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	doc, err := toDoc(in)
	if err != nil {
		lg.Error("encode document", "err", err)
		return "", fmt.Errorf("%s: %w", op, ErrInternal)
	}

	doc = setElem(doc, "created_by", Actor(ctx))
	if c.kind.Images {
		doc = setElem(doc, "images", bson.A{})
	}
	doc = applyDefaults(doc, c.kind.Defaults)

	id, err := c.deps.Docs.Add(ctx, c.kind.Collection, doc)
	if err != nil {
		return "", fromStorage(lg, op, err)
	}

	lg = lg.With("id", id)
	c.reindex(ctx, lg, id)

	for i, img := range prepared {
		if _, err := c.storeImage(ctx, lg, id, img); err != nil {
			lg.Warn("document committed, image upload failed", "index", i)
			return id, fmt.Errorf("%s: image %d: %w", op, i, err)
		}
	}

	lg.Info("created")

	return id, nil
}

// Update применяет частичное обновление.
// Патч накладывается на текущий документ, результат валидируется целиком,
// в хранилище пишутся только перечисленные поля (в типах модели).
// Неизвестное или служебное поле — ошибка валидации.
func (c *Catalog[T]) Update(ctx context.Context, id string, patch models.Patch) error {
	const op = "service/catalog/Update"

	id = strings.TrimSpace(id)
	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection, "id", id)

	if id == "" {
		lg.Warn("invalid argument: empty id")
		return fmt.Errorf("%s: %w", op, invalid("id", "is required"))
	}

	if len(patch) == 0 {
		lg.Warn("invalid argument: empty patch")
		return fmt.Errorf("%s: %w", op, invalid("patch", "is empty"))
	}

	cur, err := c.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	merged, err := c.merge(*cur, patch)
	if err != nil {
		lg.Warn("invalid patch", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := c.validate(merged); err != nil {
		lg.Warn("validation failed", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	raw, err := bson.Marshal(merged)
	if err != nil {
		lg.Error("encode document", "err", err)
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	fields := make(map[string]any, len(patch))
	for k := range patch {
		fields[k] = storage.SortValue(raw, k)
	}

	if err := c.deps.Docs.Update(ctx, c.kind.Collection, id, fields); err != nil {
		return fromStorage(lg, op, err)
	}

	c.reindex(ctx, lg, id)

	return nil
}

func (c *Catalog[T]) validate(e T) error {
	if err := c.deps.Validator.Validate(e); err != nil {
		return err
	}
	if c.check != nil {
		return c.check(e)
	}
	return nil
}

// readonly — поля, которые нельзя менять патчем.
func (c *Catalog[T]) readonly(field string) bool {
	switch field {
	case "id", storage.FieldID, storage.FieldCreatedAt, storage.FieldUpdatedAt, "created_by":
		return true
	case "images":
		return c.kind.Images
	}
	return false
}

// merge накладывает патч на сущность через её JSON-представление.
func (c *Catalog[T]) merge(cur T, patch models.Patch) (T, error) {
	var zero T

	b, err := json.Marshal(cur)
	if err != nil {
		return zero, fmt.Errorf("encode: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}

	verr := &ValidationError{Fields: map[string]string{}}
	for k, v := range patch {
		if _, known := m[k]; !known {
			verr.Fields[k] = "unknown field"
			continue
		}
		if c.readonly(k) {
			verr.Fields[k] = "is read-only"
			continue
		}
		m[k] = v
	}

	if len(verr.Fields) > 0 {
		return zero, verr
	}

	b, err = json.Marshal(m)
	if err != nil {
		return zero, fmt.Errorf("encode: %w", err)
	}

	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return zero, invalid(typeErr.Field, "must be "+typeErr.Type.String())
		}
		return zero, invalid("patch", err.Error())
	}

	return out, nil
}

// Delete удаляет сущность и её объекты под <collection>/<id>/.
// Отсутствие документа — успех (операция идемпотентна).
func (c *Catalog[T]) Delete(ctx context.Context, id string) error {
	const op = "service/catalog/Delete"

	id = strings.TrimSpace(id)
	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection, "id", id)

	if id == "" {
		lg.Warn("invalid argument: empty id")
		return fmt.Errorf("%s: %w", op, invalid("id", "is required"))
	}

	if err := c.deps.Docs.Delete(ctx, c.kind.Collection, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fromStorage(lg, op, err)
	}

	if c.kind.Images && c.deps.Objects != nil {
		paths, err := c.deps.Objects.List(ctx, path.Join(c.kind.Collection, id)+"/")
		if err != nil {
			return fromStorage(lg, op, err)
		}

		for _, p := range paths {
			if err := c.deps.Objects.Delete(ctx, p); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fromStorage(lg.With("path", p), op, err)
			}
		}
	}

	if c.kind.Indexed && c.deps.Index != nil {
		if err := c.deps.Index.Remove(c.kind.Collection, id); err != nil {
			lg.Warn("search index remove failed", "err", err)
		}
	}

	return nil
}

// AttachImage обрабатывает и загружает изображение в <collection>/<id>/<uuid>.jpg,
// затем атомарно добавляет его в поле images.
func (c *Catalog[T]) AttachImage(ctx context.Context, id string, data []byte) (*models.Image, error) {
	const op = "service/catalog/AttachImage"

	id = strings.TrimSpace(id)
	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection, "id", id)

	if !c.kind.Images {
		lg.Warn("invalid argument: kind has no images")
		return nil, fmt.Errorf("%s: %w", op, invalid("images", "not supported"))
	}

	prepared, err := c.prepareImages([]Upload{{Data: data}})
	if err != nil {
		lg.Warn("invalid image", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := c.Get(ctx, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	img, err := c.storeImage(ctx, lg, id, prepared[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return img, nil
}

// RemoveImage убирает изображение из документа и удаляет объект.
func (c *Catalog[T]) RemoveImage(ctx context.Context, id, imagePath string) error {
	const op = "service/catalog/RemoveImage"

	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection, "id", id, "path", imagePath)

	prefix := path.Join(c.kind.Collection, id) + "/"
	if !c.kind.Images || !strings.HasPrefix(imagePath, prefix) {
		lg.Warn("invalid argument: foreign image path")
		return fmt.Errorf("%s: %w", op, invalid("path", "does not belong to the entity"))
	}

	raw, err := c.deps.Docs.Get(ctx, c.kind.Collection, id)
	if err != nil {
		return fromStorage(lg, op, err)
	}

	var holder struct {
		Images []models.Image `bson:"images"`
	}
	if err := bson.Unmarshal(raw, &holder); err != nil {
		lg.Error("decode document", "err", err)
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	for _, img := range holder.Images {
		if img.Path != imagePath {
			continue
		}
		if _, err := c.deps.Docs.Pull(ctx, c.kind.Collection, id, "images", img); err != nil {
			return fromStorage(lg, op, err)
		}
	}

	if err := c.deps.Objects.Delete(ctx, imagePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fromStorage(lg, op, err)
	}

	return nil
}

// prepareImages проверяет и перекодирует загрузки до любых записей.
func (c *Catalog[T]) prepareImages(uploads []Upload) ([]*imaging.Result, error) {
	if len(uploads) == 0 {
		return nil, nil
	}

	if !c.kind.Images || c.deps.Images == nil {
		return nil, invalid("images", "not supported")
	}

	out := make([]*imaging.Result, 0, len(uploads))
	for i, u := range uploads {
		res, err := c.deps.Images.Process(u.Data)
		if err != nil {
			field := "image"
			if len(uploads) > 1 {
				field = fmt.Sprintf("images[%d]", i)
			}
			return nil, invalid(field, err.Error())
		}
		out = append(out, res)
	}

	return out, nil
}

// storeImage загружает подготовленное изображение и дописывает его в документ.
// Если документ исчез между загрузкой и записью, объект удаляется.
func (c *Catalog[T]) storeImage(ctx context.Context, lg *slog.Logger, id string, res *imaging.Result) (*models.Image, error) {
	key := path.Join(c.kind.Collection, id, uuid.NewString()+".jpg")

	url, err := c.deps.Objects.Upload(ctx, key, res.Data, res.ContentType)
	if err != nil {
		return nil, fromStorage(lg.With("path", key), "upload", err)
	}

	img := models.Image{Path: key, URL: url, BlurHash: res.BlurHash, ContentType: res.ContentType}

	if _, err := c.deps.Docs.AddToSet(ctx, c.kind.Collection, id, "images", img); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.deps.Objects.Delete(ctx, key)
		}
		return nil, fromStorage(lg, "attach", err)
	}

	return &img, nil
}

// Search — полнотекстовый поиск по всей коллекции (если настроен индекс).
func (c *Catalog[T]) Search(ctx context.Context, text string, limit int) ([]T, error) {
	const op = "service/catalog/Search"

	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection)

	if !c.kind.Indexed || c.deps.Index == nil {
		lg.Warn("search index is not configured")
		return nil, fmt.Errorf("%s: %w", op, ErrUnavailable)
	}

	hits, err := c.deps.Index.Search(ctx, c.kind.Collection, text, c.pageSize(limit))
	if err != nil {
		lg.Error("search failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	out := make([]T, 0, len(hits))
	for _, h := range hits {
		e, err := c.Get(ctx, h.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *e)
	}

	return out, nil
}

// Reindex перестраивает индекс вида по всей коллекции.
func (c *Catalog[T]) Reindex(ctx context.Context) (int, error) {
	const op = "service/catalog/Reindex"

	lg := log.From(ctx).With("op", op, "collection", c.kind.Collection)

	if !c.kind.Indexed || c.deps.Index == nil {
		return 0, nil
	}

	rows, err := c.deps.Docs.Find(ctx, storage.Query{Collection: c.kind.Collection})
	if err != nil {
		return 0, fromStorage(lg, op, err)
	}

	docs := make([]search.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, c.searchDoc(r.ID, r.Data))
	}

	if err := c.deps.Index.Reindex(docs); err != nil {
		lg.Error("reindex failed", "err", err)
		return 0, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return len(docs), nil
}

func (c *Catalog[T]) searchDoc(id string, raw bson.Raw) search.Document {
	var fields []string
	for _, f := range c.kind.SearchFields {
		fields = append(fields, rawStrings(storage.SortValue(raw, f))...)
	}
	return search.Document{Kind: c.kind.Collection, ID: id, Fields: fields}
}

// reindex обновляет документ в индексе; ошибки индекса не ломают запись.
func (c *Catalog[T]) reindex(ctx context.Context, lg *slog.Logger, id string) {
	if !c.kind.Indexed || c.deps.Index == nil {
		return
	}

	raw, err := c.deps.Docs.Get(ctx, c.kind.Collection, id)
	if err != nil {
		lg.Warn("search index refresh skipped", "err", err)
		return
	}

	if err := c.deps.Index.Put(c.searchDoc(id, raw)); err != nil {
		lg.Warn("search index put failed", "err", err)
	}
}

// toDoc — BSON-представление сущности как bson.D.
func toDoc(v any) (bson.D, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}

	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, err
	}

	return d, nil
}

func setElem(d bson.D, key string, v any) bson.D {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = v
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: v})
}

// applyDefaults заполняет пустые (""/null) поля значениями по умолчанию.
func applyDefaults(d bson.D, defaults map[string]any) bson.D {
	for key, def := range defaults {
		found := false
		for i := range d {
			if d[i].Key != key {
				continue
			}
			found = true
			if d[i].Value == nil || d[i].Value == "" {
				d[i].Value = def
			}
		}
		if !found {
			d = append(d, bson.E{Key: key, Value: def})
		}
	}
	return d
}

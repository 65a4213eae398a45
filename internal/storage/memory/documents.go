// Package memory — in-process реализации storage.Documents и storage.Objects.
// Используются в тестах и для локального запуска без MongoDB/MinIO.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/pribylovaa/apparel-admin/internal/storage"
)

// Documents — документное хранилище в памяти.
// Значения хранятся как BSON, поэтому порядок сортировки и декодирование
// совпадают с MongoDB-реализацией.
type Documents struct {
	mu    sync.Mutex
	colls map[string]map[string]bson.Raw
	now   func() time.Time
}

// Option настраивает Documents.
type Option func(*Documents)

// WithClock подменяет часы (для тестов временных меток).
func WithClock(now func() time.Time) Option {
	return func(d *Documents) { d.now = now }
}

// NewDocuments создаёт пустое хранилище.
func NewDocuments(opts ...Option) *Documents {
	d := &Documents{
		colls: make(map[string]map[string]bson.Raw),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// tick возвращает текущее время с точностью BSON DateTime.
func (d *Documents) tick() time.Time {
	return d.now().UTC().Truncate(time.Millisecond)
}

func (d *Documents) coll(name string) map[string]bson.Raw {
	c, ok := d.colls[name]
	if !ok {
		c = make(map[string]bson.Raw)
		d.colls[name] = c
	}
	return c
}

// Get возвращает копию документа.
func (d *Documents) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	const op = "storage/memory/Get"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	raw, ok := d.coll(collection)[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return cloneRaw(raw), nil
}

// Add сохраняет документ с новым nanoid-идентификатором.
func (d *Documents) Add(ctx context.Context, collection string, doc any) (string, error) {
	const op = "storage/memory/Add"

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}

	fields, err := toD(doc)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("%s: generate id: %w", op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.tick()
	out := bson.D{{Key: storage.FieldID, Value: id}}
	for _, e := range fields {
		switch e.Key {
		case storage.FieldID, storage.FieldCreatedAt, storage.FieldUpdatedAt:
			continue
		}
		out = append(out, e)
	}
	out = append(out,
		bson.E{Key: storage.FieldCreatedAt, Value: now},
		bson.E{Key: storage.FieldUpdatedAt, Value: now},
	)

	raw, err := bson.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", op, err)
	}

	if err := d.checkUnique(collection, id, raw); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	d.coll(collection)[id] = raw

	return id, nil
}

// Update записывает поля и строго увеличивает updated_at.
func (d *Documents) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	const op = "storage/memory/Update"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	raw, ok := d.coll(collection)[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc, err := toD(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, k := range keys {
		switch k {
		case storage.FieldID, storage.FieldCreatedAt, storage.FieldUpdatedAt:
			continue
		}
		doc = setField(doc, k, fields[k])
	}

	return d.commit(op, collection, id, raw, doc)
}

// Delete удаляет документ.
func (d *Documents) Delete(ctx context.Context, collection, id string) error {
	const op = "storage/memory/Delete"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.coll(collection)
	if _, ok := c[id]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	delete(c, id)

	return nil
}

// Find — упорядоченная выборка по (OrderBy, _id) с курсорами.
func (d *Documents) Find(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	const op = "storage/memory/Find"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = storage.FieldID
	}

	type bound struct {
		value, id bson.RawValue
	}

	var after, before *bound
	if q.After != "" {
		v, id, err := storage.DecodeCursor(q.After, q.Collection, orderBy, q.Desc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		after = &bound{v, id}
	}
	if q.Before != "" {
		v, id, err := storage.DecodeCursor(q.Before, q.Collection, orderBy, q.Desc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		before = &bound{v, id}
	}

	where := make([]bson.RawValue, len(q.Where))
	for i, f := range q.Where {
		rv, err := toRaw(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: filter %q: %w", op, f.Field, err)
		}
		where[i] = rv
	}

	d.mu.Lock()
	docs := make([]bson.Raw, 0, len(d.colls[q.Collection]))
	for _, raw := range d.colls[q.Collection] {
		docs = append(docs, cloneRaw(raw))
	}
	d.mu.Unlock()

	// Позиция строки относительно (value, id) в порядке запроса.
	order := func(v, id, bv, bid bson.RawValue) int {
		c := compareRaw(v, bv)
		if c == 0 {
			c = compareRaw(id, bid)
		}
		if q.Desc {
			c = -c
		}
		return c
	}

	rows := make([]bson.Raw, 0, len(docs))
	for _, raw := range docs {
		match := true
		for i, f := range q.Where {
			if !equalRaw(storage.SortValue(raw, f.Field), where[i]) {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		v, id := storage.SortValue(raw, orderBy), raw.Lookup(storage.FieldID)
		if after != nil && order(v, id, after.value, after.id) <= 0 {
			continue
		}
		if before != nil && order(v, id, before.value, before.id) >= 0 {
			continue
		}

		rows = append(rows, raw)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		return order(storage.SortValue(a, orderBy), a.Lookup(storage.FieldID),
			storage.SortValue(b, orderBy), b.Lookup(storage.FieldID)) < 0
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		if before != nil && after == nil {
			// Страница, заканчивающаяся прямо перед курсором.
			rows = rows[len(rows)-q.Limit:]
		} else {
			rows = rows[:q.Limit]
		}
	}

	out := make([]storage.Row, 0, len(rows))
	for _, raw := range rows {
		cur, err := storage.EncodeCursor(q.Collection, orderBy, q.Desc, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, storage.Row{
			ID:     raw.Lookup(storage.FieldID).StringValue(),
			Cursor: cur,
			Data:   raw,
		})
	}

	return out, nil
}

// AddToSet добавляет value в массив field, если его там нет.
func (d *Documents) AddToSet(ctx context.Context, collection, id, field string, value any) (bool, error) {
	const op = "storage/memory/AddToSet"

	return d.mutateArray(ctx, op, collection, id, field, value, func(vals []bson.RawValue, v bson.RawValue) ([]bson.RawValue, bool) {
		for _, el := range vals {
			if compareRaw(el, v) == 0 {
				return vals, false
			}
		}
		return append(vals, v), true
	})
}

// Pull удаляет все вхождения value из массива field.
func (d *Documents) Pull(ctx context.Context, collection, id, field string, value any) (bool, error) {
	const op = "storage/memory/Pull"

	return d.mutateArray(ctx, op, collection, id, field, value, func(vals []bson.RawValue, v bson.RawValue) ([]bson.RawValue, bool) {
		out := vals[:0:0]
		for _, el := range vals {
			if compareRaw(el, v) != 0 {
				out = append(out, el)
			}
		}
		return out, len(out) != len(vals)
	})
}

func (d *Documents) mutateArray(
	ctx context.Context,
	op, collection, id, field string,
	value any,
	apply func([]bson.RawValue, bson.RawValue) ([]bson.RawValue, bool),
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}

	v, err := toRaw(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	raw, ok := d.coll(collection)[id]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	var vals []bson.RawValue
	if cur := storage.SortValue(raw, field); cur.Type == bsontype.Array {
		vals, err = cur.Array().Values()
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}

	next, changed := apply(vals, v)
	if !changed {
		return false, nil
	}

	doc, err := toD(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	arr := make(bson.A, 0, len(next))
	for _, el := range next {
		arr = append(arr, el)
	}

	if err := d.commit(op, collection, id, raw, setField(doc, field, arr)); err != nil {
		return false, err
	}

	return true, nil
}

// commit проставляет updated_at (строго больше прежнего), проверяет уникальность и сохраняет.
// Вызывается под d.mu.
func (d *Documents) commit(op, collection, id string, prev bson.Raw, doc bson.D) error {
	now := d.tick()
	if last, ok := storage.SortValue(prev, storage.FieldUpdatedAt).TimeOK(); ok {
		if floor := last.UTC().Add(time.Millisecond); now.Before(floor) {
			now = floor
		}
	}
	doc = setField(doc, storage.FieldUpdatedAt, now)

	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	if err := d.checkUnique(collection, id, raw); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	d.coll(collection)[id] = raw

	return nil
}

// checkUnique проверяет storage.UniqueIndexes. Вызывается под d.mu.
func (d *Documents) checkUnique(collection, id string, raw bson.Raw) error {
	for _, keys := range storage.UniqueIndexes[collection] {
		for otherID, other := range d.colls[collection] {
			if otherID == id {
				continue
			}

			same := true
			for _, k := range keys {
				if compareRaw(storage.SortValue(raw, k), storage.SortValue(other, k)) != 0 {
					same = false
					break
				}
			}

			if same {
				return storage.ErrConflict
			}
		}
	}

	return nil
}

// Ping всегда успешен.
func (d *Documents) Ping(ctx context.Context) error { return ctx.Err() }

// Close ничего не освобождает.
func (d *Documents) Close(context.Context) error { return nil }

func toD(v any) (bson.D, error) {
	raw, ok := v.(bson.Raw)
	if !ok {
		b, err := bson.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		raw = b
	}

	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return out, nil
}

func setField(doc bson.D, key string, value any) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			return doc
		}
	}

	return append(doc, bson.E{Key: key, Value: value})
}

func cloneRaw(raw bson.Raw) bson.Raw {
	out := make(bson.Raw, len(raw))
	copy(out, raw)
	return out
}

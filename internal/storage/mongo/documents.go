package mongo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pribylovaa/apparel-admin/internal/storage"
)

// objectID разбирает строковый id; некорректный формат трактуется как «нет такой записи».
func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, storage.ErrNotFound
	}
	return oid, nil
}

// rowID возвращает строковое представление _id документа.
func rowID(raw bson.Raw) string {
	v := raw.Lookup(storage.FieldID)
	switch v.Type {
	case bsontype.ObjectID:
		return v.ObjectID().Hex()
	case bsontype.String:
		return v.StringValue()
	}
	return v.String()
}

// now — текущее время с точностью BSON DateTime.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// bumpUpdatedAt — выражение агрегации: updated_at = max(now, updated_at + 1ms).
// Гарантирует строгий рост даже при совпадении миллисекунд.
func bumpUpdatedAt() bson.E {
	return bson.E{Key: storage.FieldUpdatedAt, Value: bson.D{{Key: "$max", Value: bson.A{
		now(),
		bson.D{{Key: "$add", Value: bson.A{"$" + storage.FieldUpdatedAt, 1}}},
	}}}}
}

func literal(v any) bson.D {
	return bson.D{{Key: "$literal", Value: v}}
}

// Get возвращает документ по идентификатору.
func (m *Mongo) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	const op = "storage/mongo/Get"

	oid, err := objectID(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := m.db.Collection(collection).FindOne(ctx, bson.D{{Key: storage.FieldID, Value: oid}}).Raw()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return raw, nil
}

// Add вставляет документ; _id генерирует драйвер, временные метки — хранилище.
func (m *Mongo) Add(ctx context.Context, collection string, doc any) (string, error) {
	const op = "storage/mongo/Add"

	raw, err := bson.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", op, err)
	}

	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("%s: unmarshal: %w", op, err)
	}

	ts := now()
	out := make(bson.D, 0, len(fields)+3)
	out = append(out, bson.E{Key: storage.FieldID, Value: primitive.NewObjectID()})
	for _, e := range fields {
		switch e.Key {
		case storage.FieldID, storage.FieldCreatedAt, storage.FieldUpdatedAt:
			continue
		}
		out = append(out, e)
	}
	out = append(out,
		bson.E{Key: storage.FieldCreatedAt, Value: ts},
		bson.E{Key: storage.FieldUpdatedAt, Value: ts},
	)

	res, err := m.db.Collection(collection).InsertOne(ctx, out)
	if err != nil {
		return "", fmt.Errorf("%s: insert: %w", op, mapErr(err))
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("%s: inserted id type %T", op, res.InsertedID)
	}

	return oid.Hex(), nil
}

// Update записывает поля одним pipeline-обновлением; updated_at строго растёт.
// Значения оборачиваются в $literal, чтобы строки вида "$x" не трактовались как выражения.
func (m *Mongo) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	const op = "storage/mongo/Update"

	oid, err := objectID(id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		switch k {
		case storage.FieldID, storage.FieldCreatedAt, storage.FieldUpdatedAt:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := make(bson.D, 0, len(keys)+1)
	for _, k := range keys {
		set = append(set, bson.E{Key: k, Value: literal(fields[k])})
	}
	set = append(set, bumpUpdatedAt())

	res, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: storage.FieldID, Value: oid}},
		mongodriver.Pipeline{{{Key: "$set", Value: set}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// Delete удаляет документ.
func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	const op = "storage/mongo/Delete"

	oid, err := objectID(id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: storage.FieldID, Value: oid}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// Find — keyset-пагинация по (OrderBy, _id).
//   - After: строки строго после курсора в порядке запроса;
//   - Before: запрос в обратном порядке от курсора, затем разворот —
//     получаем страницу, заканчивающуюся прямо перед курсором.
func (m *Mongo) Find(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	const op = "storage/mongo/Find"

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = storage.FieldID
	}

	filter := bson.D{}
	for _, f := range q.Where {
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}

	// asc: forward -> $gt, backward -> $lt; desc — наоборот.
	bound := func(token string, forward bool) (bson.D, error) {
		v, id, err := storage.DecodeCursor(token, q.Collection, orderBy, q.Desc)
		if err != nil {
			return nil, err
		}

		cmpOp := "$gt"
		if forward == q.Desc {
			cmpOp = "$lt"
		}

		if orderBy == storage.FieldID {
			return bson.D{{Key: storage.FieldID, Value: bson.D{{Key: cmpOp, Value: id}}}}, nil
		}

		return bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: orderBy, Value: bson.D{{Key: cmpOp, Value: v}}}},
			bson.D{
				{Key: orderBy, Value: v},
				{Key: storage.FieldID, Value: bson.D{{Key: cmpOp, Value: id}}},
			},
		}}}, nil
	}

	var bounds bson.A
	if q.After != "" {
		b, err := bound(q.After, true)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		bounds = append(bounds, b)
	}

	backward := q.Before != "" && q.After == ""
	if q.Before != "" {
		b, err := bound(q.Before, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		bounds = append(bounds, b)
	}

	if len(bounds) > 0 {
		filter = append(filter, bson.E{Key: "$and", Value: bounds})
	}

	dir := 1
	if q.Desc {
		dir = -1
	}
	if backward {
		dir = -dir
	}

	sortSpec := bson.D{{Key: orderBy, Value: dir}}
	if orderBy != storage.FieldID {
		sortSpec = append(sortSpec, bson.E{Key: storage.FieldID, Value: dir})
	}

	findOpts := options.Find().SetSort(sortSpec)
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cur, err := m.db.Collection(q.Collection).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("%s: find: %w", op, mapErr(err))
	}
	defer cur.Close(ctx)

	var rows []storage.Row
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)

		token, err := storage.EncodeCursor(q.Collection, orderBy, q.Desc, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		rows = append(rows, storage.Row{ID: rowID(raw), Cursor: token, Data: raw})
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: cursor: %w", op, mapErr(err))
	}

	if backward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	return rows, nil
}

// AddToSet атомарно дописывает value в массив, если его там нет.
// Фильтр {field: {$ne: value}} исключает гонку двух сканов: выигрывает ровно одна запись.
func (m *Mongo) AddToSet(ctx context.Context, collection, id, field string, value any) (bool, error) {
	const op = "storage/mongo/AddToSet"

	oid, err := objectID(id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	res, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: storage.FieldID, Value: oid}, {Key: field, Value: bson.D{{Key: "$ne", Value: value}}}},
		mongodriver.Pipeline{{{Key: "$set", Value: bson.D{
			{Key: field, Value: bson.D{{Key: "$concatArrays", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, bson.A{}}}},
				bson.A{literal(value)},
			}}}},
			bumpUpdatedAt(),
		}}}},
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, mapErr(err))
	}

	if res.MatchedCount > 0 {
		return true, nil
	}

	return false, m.mustExist(ctx, op, collection, oid)
}

// Pull атомарно удаляет value из массива.
func (m *Mongo) Pull(ctx context.Context, collection, id, field string, value any) (bool, error) {
	const op = "storage/mongo/Pull"

	oid, err := objectID(id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	res, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: storage.FieldID, Value: oid}, {Key: field, Value: value}},
		mongodriver.Pipeline{{{Key: "$set", Value: bson.D{
			{Key: field, Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: "$" + field},
				{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$this", literal(value)}}}},
			}}}},
			bumpUpdatedAt(),
		}}}},
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, mapErr(err))
	}

	if res.MatchedCount > 0 {
		return true, nil
	}

	return false, m.mustExist(ctx, op, collection, oid)
}

// mustExist различает «документа нет» и «массив уже в нужном состоянии».
func (m *Mongo) mustExist(ctx context.Context, op, collection string, oid primitive.ObjectID) error {
	n, err := m.db.Collection(collection).CountDocuments(ctx, bson.D{{Key: storage.FieldID, Value: oid}}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("%s: count: %w", op, mapErr(err))
	}

	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

var _ storage.Documents = (*Mongo)(nil)

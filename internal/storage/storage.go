// Package storage описывает контракты документного и объектного хранилищ.
// Реализации: mongo (документы), minio (объекты), memory (оба, для тестов и локального запуска).
package storage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNotFound — документ/объект отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCursor — битый курсор или курсор из другого контекста сортировки.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrConflict — нарушение уникального индекса.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable — хранилище недоступно (сеть/таймаут); повтор возможен на стороне вызывающего.
	ErrUnavailable = errors.New("unavailable")
)

// Служебные поля документа, которыми управляет хранилище.
const (
	FieldID        = "_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Filter — условие равенства field == value.
type Filter struct {
	Field string
	Value any
}

// Query — упорядоченная выборка из коллекции.
//   - OrderBy/Desc — поле сортировки; _id всегда добавляется как второй ключ
//     в том же направлении, что даёт строгий полный порядок;
//   - After — курсор строки, после которой продолжить (forward);
//   - Before — курсор строки, перед которой закончить (backward): строки
//     возвращаются в прямом порядке сортировки;
//   - Limit <= 0 — без ограничения.
type Query struct {
	Collection string
	OrderBy    string
	Desc       bool
	Limit      int
	After      string
	Before     string
	Where      []Filter
}

// Row — строка результата Find.
// Cursor — непрозрачная позиция строки в порядке (Collection, OrderBy, Desc) запроса.
type Row struct {
	ID     string
	Cursor string
	Data   bson.Raw
}

// Documents — клиент документного хранилища.
type Documents interface {
	// Get возвращает документ по id. Нет документа — ErrNotFound.
	Get(ctx context.Context, collection, id string) (bson.Raw, error)

	// Add сохраняет документ и возвращает его id.
	// _id/created_at/updated_at из doc игнорируются и выставляются хранилищем.
	// Нарушение уникального индекса — ErrConflict.
	Add(ctx context.Context, collection string, doc any) (string, error)

	// Update записывает перечисленные поля и увеличивает updated_at
	// (строго больше предыдущего значения). Нет документа — ErrNotFound.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete удаляет документ. Нет документа — ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Find выполняет упорядоченную выборку.
	// Некорректный или чужой курсор — ErrInvalidCursor.
	Find(ctx context.Context, q Query) ([]Row, error)

	// AddToSet атомарно добавляет value в массив field, если его там нет.
	// changed=false — значение уже присутствовало (документ не изменён).
	AddToSet(ctx context.Context, collection, id, field string, value any) (changed bool, err error)

	// Pull атомарно удаляет value из массива field.
	// changed=false — значения в массиве не было.
	Pull(ctx context.Context, collection, id, field string, value any) (changed bool, err error)

	// Ping проверяет доступность хранилища (readiness).
	Ping(ctx context.Context) error

	// Close освобождает ресурсы клиента.
	Close(ctx context.Context) error
}

// Objects — клиент объектного хранилища.
type Objects interface {
	// Upload кладёт объект по пути и возвращает его публичный URL.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Delete удаляет объект. Отсутствие объекта — не ошибка.
	Delete(ctx context.Context, path string) error

	// List возвращает пути объектов с префиксом prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Fetch скачивает объект по его публичному URL. Нет объекта — ErrNotFound.
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// UniqueIndexes — уникальные составные ключи по коллекциям.
// Общие для всех реализаций Documents: MongoDB создаёт по ним индексы,
// memory-хранилище проверяет их при записи.
var UniqueIndexes = map[string][][]string{
	"pickups": {{"exhibition_id", "code"}},
}

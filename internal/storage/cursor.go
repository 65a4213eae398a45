package storage

import (
	"encoding/base64"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// cursorDoc — содержимое курсора: контекст сортировки и ключи строки.
type cursorDoc struct {
	Collection string        `bson:"c"`
	Field      string        `bson:"f"`
	Desc       bool          `bson:"d"`
	Value      bson.RawValue `bson:"v"`
	ID         bson.RawValue `bson:"i"`
}

// SortValue возвращает значение поля сортировки строки.
// Отсутствующее поле трактуется как null.
func SortValue(doc bson.Raw, field string) bson.RawValue {
	v, err := doc.LookupErr(field)
	if err != nil {
		return bson.RawValue{Type: bsontype.Null}
	}

	return v
}

// EncodeCursor кодирует позицию строки doc под сортировкой (collection, field, desc)
// в непрозрачный токен для клиента.
func EncodeCursor(collection, field string, desc bool, doc bson.Raw) (string, error) {
	id, err := doc.LookupErr(FieldID)
	if err != nil {
		return "", fmt.Errorf("cursor: document without _id")
	}

	raw, err := bson.Marshal(cursorDoc{
		Collection: collection,
		Field:      field,
		Desc:       desc,
		Value:      SortValue(doc, field),
		ID:         id,
	})
	if err != nil {
		return "", fmt.Errorf("cursor: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor декодирует токен и проверяет, что он выдан для той же
// (collection, field, desc). Иначе — ErrInvalidCursor.
func DecodeCursor(token, collection, field string, desc bool) (value, id bson.RawValue, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return bson.RawValue{}, bson.RawValue{}, ErrInvalidCursor
	}

	if err := bson.Raw(raw).Validate(); err != nil {
		return bson.RawValue{}, bson.RawValue{}, ErrInvalidCursor
	}

	var c cursorDoc
	if err := bson.Unmarshal(raw, &c); err != nil {
		return bson.RawValue{}, bson.RawValue{}, ErrInvalidCursor
	}

	if c.Collection != collection || c.Field != field || c.Desc != desc {
		return bson.RawValue{}, bson.RawValue{}, ErrInvalidCursor
	}

	if c.ID.Type == 0 || c.Value.Type == 0 {
		return bson.RawValue{}, bson.RawValue{}, ErrInvalidCursor
	}

	return c.Value, c.ID, nil
}

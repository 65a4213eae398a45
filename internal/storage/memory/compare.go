package memory

import (
	"bytes"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// typeRank повторяет порядок сравнения BSON-типов MongoDB:
// null < числа < строки < документы < массивы < binary < ObjectId < bool < дата.
func typeRank(t bsontype.Type) int {
	switch t {
	case 0, bsontype.Undefined, bsontype.Null:
		return 1
	case bsontype.Double, bsontype.Int32, bsontype.Int64, bsontype.Decimal128:
		return 2
	case bsontype.String, bsontype.Symbol:
		return 3
	case bsontype.EmbeddedDocument:
		return 4
	case bsontype.Array:
		return 5
	case bsontype.Binary:
		return 6
	case bsontype.ObjectID:
		return 7
	case bsontype.Boolean:
		return 8
	case bsontype.DateTime:
		return 9
	case bsontype.Timestamp:
		return 10
	default:
		return 11
	}
}

func number(v bson.RawValue) float64 {
	switch v.Type {
	case bsontype.Int32:
		return float64(v.Int32())
	case bsontype.Int64:
		return float64(v.Int64())
	case bsontype.Double:
		return v.Double()
	}

	return 0
}

func cmp[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareRaw сравнивает два BSON-значения: -1, 0, 1.
func compareRaw(a, b bson.RawValue) int {
	ra, rb := typeRank(a.Type), typeRank(b.Type)
	if ra != rb {
		return cmp(int64(ra), int64(rb))
	}

	switch ra {
	case 1:
		return 0
	case 2:
		return cmp(number(a), number(b))
	case 3:
		return strings.Compare(a.StringValue(), b.StringValue())
	case 7:
		oa, ob := a.ObjectID(), b.ObjectID()
		return bytes.Compare(oa[:], ob[:])
	case 8:
		ba, bb := a.Boolean(), b.Boolean()
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 9:
		return cmp(a.DateTime(), b.DateTime())
	}

	return bytes.Compare(a.Value, b.Value)
}

// toRaw переводит произвольное Go-значение в BSON-значение.
func toRaw(v any) (bson.RawValue, error) {
	if rv, ok := v.(bson.RawValue); ok {
		return rv, nil
	}

	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, err
	}

	return bson.RawValue{Type: t, Value: data}, nil
}

// equalRaw — равенство в смысле запроса {field: value}:
// для массивов достаточно вхождения значения.
func equalRaw(field, value bson.RawValue) bool {
	if field.Type == bsontype.Array && value.Type != bsontype.Array {
		vals, err := field.Array().Values()
		if err != nil {
			return false
		}
		for _, el := range vals {
			if compareRaw(el, value) == 0 {
				return true
			}
		}
		return false
	}

	return compareRaw(field, value) == 0
}

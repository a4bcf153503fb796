package mongodb

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
)

// idField is the document field holding the key column.
const idField = "_id"

// binarySubtypeUUID is the standard BSON binary subtype for UUIDs.
const binarySubtypeUUID byte = 0x04

var uuidType = reflect.TypeOf(uuid.UUID{})

var operators = map[query.Operator]string{
	query.OpEq:    "$eq",
	query.OpNotEq: "$ne",
	query.OpLt:    "$lt",
	query.OpLte:   "$lte",
	query.OpGt:    "$gt",
	query.OpGte:   "$gte",
	query.OpIn:    "$in",
}

// fieldName maps a column to its document field.
func fieldName(model *schema.Model, column string) string {
	if key := model.Key(); key != nil && key.Column == column {
		return idField
	}
	return column
}

// filter renders pred as a MongoDB filter document. Values are converted to
// the column type first so they compare against what was stored.
func filter(model *schema.Model, pred query.Predicate) (bson.D, error) {
	if err := pred.Validate(); err != nil {
		return nil, err
	}

	clauses := make([]bson.D, 0, len(pred))
	for _, c := range pred {
		field, ok := model.Field(c.Field)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", query.ErrInvalidPredicate, c.Field)
		}
		op, ok := operators[c.Op]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported operator %q", query.ErrInvalidPredicate, c.Op)
		}

		var value any
		if c.Op == query.OpIn {
			values := c.Value.([]any)
			arr := make(bson.A, len(values))
			for i, v := range values {
				converted, err := encodeAs(v, field.Type)
				if err != nil {
					return nil, err
				}
				arr[i] = converted
			}
			value = arr
		} else {
			converted, err := encodeAs(c.Value, field.Type)
			if err != nil {
				return nil, err
			}
			value = converted
		}
		clauses = append(clauses, bson.D{{Key: fieldName(model, c.Field), Value: bson.D{{Key: op, Value: value}}}})
	}

	switch len(clauses) {
	case 0:
		return bson.D{}, nil
	case 1:
		return clauses[0], nil
	default:
		all := make(bson.A, len(clauses))
		for i, c := range clauses {
			all[i] = c
		}
		return bson.D{{Key: "$and", Value: all}}, nil
	}
}

func sortDocument(model *schema.Model, orders []query.Order) (bson.D, error) {
	out := make(bson.D, 0, len(orders))
	for _, o := range orders {
		if _, ok := model.Field(o.Field); !ok {
			return nil, fmt.Errorf("%w: unknown field %q", query.ErrInvalidSort, o.Field)
		}
		dir := 1
		if o.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: fieldName(model, o.Field), Value: dir})
	}
	return out, nil
}

func encodeAs(value any, typ reflect.Type) (any, error) {
	converted, err := schema.ConvertTo(value, typ)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", query.ErrInvalidPredicate, err)
	}
	return encodeValue(converted), nil
}

// encodeValue maps Go values to the BSON types they are stored as.
func encodeValue(v any) any {
	switch t := v.(type) {
	case uuid.UUID:
		return primitive.Binary{Subtype: binarySubtypeUUID, Data: t[:]}
	case time.Time:
		return primitive.NewDateTimeFromTime(t)
	default:
		return v
	}
}

// toDocument returns the stored document for entity.
func toDocument(model *schema.Model, entity any) (bson.D, error) {
	columns, values, err := model.Row(entity)
	if err != nil {
		return nil, err
	}
	doc := make(bson.D, 0, len(columns))
	for i, col := range columns {
		doc = append(doc, bson.E{Key: fieldName(model, col), Value: encodeValue(values[i])})
	}
	return doc, nil
}

// fromDocument builds a new entity from a decoded document. Fields missing
// from the document keep their zero value.
func fromDocument(model *schema.Model, doc bson.M) (any, error) {
	entity := model.New()
	for _, f := range model.Fields() {
		raw, ok := doc[fieldName(model, f.Column)]
		if !ok {
			continue
		}
		value, err := decodeValue(raw, f.Type)
		if err != nil {
			return nil, fmt.Errorf("decoding %s.%s: %w", model.Name(), f.Column, err)
		}
		if err := model.Set(entity, f.Column, value); err != nil {
			return nil, fmt.Errorf("decoding %s.%s: %w", model.Name(), f.Column, err)
		}
	}
	return entity, nil
}

func decodeValue(raw any, typ reflect.Type) (any, error) {
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	switch v := raw.(type) {
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case primitive.Binary:
		if typ == uuidType {
			return uuid.FromBytes(v.Data)
		}
		return v.Data, nil
	case primitive.ObjectID:
		if typ.Kind() == reflect.String {
			return v.Hex(), nil
		}
		return v, nil
	default:
		return raw, nil
	}
}

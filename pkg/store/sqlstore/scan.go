package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
)

// conditions translates a predicate into squirrel expressions. Every field
// must be a model column.
func conditions(model *schema.Model, pred query.Predicate) (squirrel.And, error) {
	if err := pred.Validate(); err != nil {
		return nil, err
	}
	where := make(squirrel.And, 0, len(pred))
	for _, c := range pred {
		if _, ok := model.Field(c.Field); !ok {
			return nil, fmt.Errorf("%w: unknown field %q", query.ErrInvalidPredicate, c.Field)
		}
		switch c.Op {
		case query.OpEq:
			where = append(where, squirrel.Eq{c.Field: c.Value})
		case query.OpNotEq:
			where = append(where, squirrel.NotEq{c.Field: c.Value})
		case query.OpLt:
			where = append(where, squirrel.Lt{c.Field: c.Value})
		case query.OpLte:
			where = append(where, squirrel.LtOrEq{c.Field: c.Value})
		case query.OpGt:
			where = append(where, squirrel.Gt{c.Field: c.Value})
		case query.OpGte:
			where = append(where, squirrel.GtOrEq{c.Field: c.Value})
		case query.OpIn:
			// squirrel renders an empty list as a false condition
			where = append(where, squirrel.Eq{c.Field: c.Value.([]any)})
		}
	}
	return where, nil
}

// scanAll reads every row into new entities, assigning columns by name so
// driver representations are converted by schema.Assign.
func scanAll(model *schema.Model, rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out []any
	for rows.Next() {
		dest := make([]any, len(columns))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		entity := model.New()
		for i, col := range columns {
			if _, ok := model.Field(col); !ok {
				continue
			}
			if err := model.Set(entity, col, *(dest[i].(*any))); err != nil {
				return nil, err
			}
		}
		out = append(out, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

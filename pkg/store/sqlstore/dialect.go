package sqlstore

import "github.com/Masterminds/squirrel"

// Dialect captures the differences between the supported SQL databases.
type Dialect struct {
	// Name is reported as db.system on spans.
	Name        string
	Placeholder squirrel.PlaceholderFormat
	// Returning is true when INSERT ... RETURNING yields generated keys;
	// otherwise sql.Result.LastInsertId is used.
	Returning bool
	// OffsetNeedsLimit is true when OFFSET is only valid after a LIMIT.
	OffsetNeedsLimit bool
}

// Supported dialects
var (
	Postgres = Dialect{Name: "postgresql", Placeholder: squirrel.Dollar, Returning: true}
	MySQL    = Dialect{Name: "mysql", Placeholder: squirrel.Question, OffsetNeedsLimit: true}
)

// maxLimit is the documented MySQL idiom for "no limit" with an offset.
const maxLimit = uint64(18446744073709551615)

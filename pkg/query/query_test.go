package query

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseSort(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []Order
		wantErr bool
	}{
		{name: "empty", spec: "  ", want: nil},
		{name: "single default asc", spec: "title", want: []Order{{Field: "title"}}},
		{name: "explicit directions", spec: "author asc, title DESC", want: []Order{{Field: "author"}, {Field: "title", Desc: true}}},
		{name: "long form", spec: "id descending", want: []Order{{Field: "id", Desc: true}}},
		{name: "bad direction", spec: "title sideways", wantErr: true},
		{name: "too many tokens", spec: "title asc now", wantErr: true},
		{name: "empty part", spec: "title,,id", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSort(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSort) {
					t.Fatalf("ParseSort(%q) error = %v, want ErrInvalidSort", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSort(%q) error = %v", tt.spec, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSort(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestOrder_String(t *testing.T) {
	if got := (Order{Field: "title", Desc: true}).String(); got != "title desc" {
		t.Errorf("String() = %q", got)
	}
	if got := (Order{Field: "title"}).String(); got != "title asc" {
		t.Errorf("String() = %q", got)
	}
}

func TestPredicate_AndDoesNotAlias(t *testing.T) {
	base := make(Predicate, 1, 4)
	base[0] = Eq("author", "Herbert")

	a := base.And(Eq("is_soft_deleted", false))
	b := base.And(Gt("year", 1960))

	if len(base) != 1 {
		t.Errorf("And mutated the receiver: %v", base)
	}
	if a[1].Field != "is_soft_deleted" || b[1].Field != "year" {
		t.Errorf("predicates share storage: a=%v b=%v", a, b)
	}
	if got := b.Fields(); !reflect.DeepEqual(got, []string{"author", "year"}) {
		t.Errorf("Fields() = %v", got)
	}
}

func TestPredicate_Validate(t *testing.T) {
	if err := Where(In("id", 1, 2), Lte("year", 2000), NotEq("title", "")).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	bad := Where(Condition{Field: "id", Op: OpIn, Value: 3})
	if err := bad.Validate(); !errors.Is(err, ErrInvalidPredicate) {
		t.Errorf("Validate() error = %v, want ErrInvalidPredicate", err)
	}
	unknown := Where(Condition{Field: "id", Op: "LIKE", Value: "x"})
	if err := unknown.Validate(); !errors.Is(err, ErrInvalidPredicate) {
		t.Errorf("Validate() error = %v, want ErrInvalidPredicate", err)
	}
}

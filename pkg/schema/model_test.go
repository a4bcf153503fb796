package schema

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/repokit/pkg/domain"
)

type book struct {
	ID       int64  `db:"id,pk,auto"`
	Title    string `db:"title"`
	Author   string
	Internal string `db:"-"`
	Version  int64  `db:"version"`
	domain.SoftDelete
	domain.Events
}

func (b *book) GetVersion() int64        { return b.Version }
func (b *book) SetVersion(version int64) { b.Version = version }

type tag struct {
	Key  uuid.UUID `db:"key,pk"`
	Name string    `db:"name"`
}

type noKey struct {
	Line string `db:"line"`
}

func TestDescribe(t *testing.T) {
	m, err := Describe[book](WithName("Book"), WithTable("books"))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if m.Name() != "Book" || m.Table() != "books" {
		t.Errorf("name/table = %s/%s", m.Name(), m.Table())
	}
	want := []string{"id", "title", "author", "version", "is_soft_deleted"}
	if got := m.Columns(); !reflect.DeepEqual(got, want) {
		t.Errorf("Columns() = %v, want %v", got, want)
	}
	if m.Key() == nil || m.Key().Column != "id" || !m.Key().Auto {
		t.Errorf("Key() = %+v", m.Key())
	}
	if !m.SoftDeletable() || m.SoftDeleteField().Column != "is_soft_deleted" {
		t.Error("soft-delete column not detected")
	}
	if m.VersionField() == nil || m.VersionField().Column != "version" {
		t.Error("version column not detected from domain.Versioned")
	}

	plain := MustDescribe[noKey]()
	if plain.Key() != nil || plain.SoftDeletable() || plain.Table() != "nokey" {
		t.Errorf("unexpected model %+v", plain)
	}
}

type twoKeys struct {
	A int64 `db:"a,pk"`
	B int64 `db:"b,pk"`
}

type dupColumn struct {
	A string `db:"x"`
	B string `db:"x"`
}

type badSoftDelete struct {
	ID      int64  `db:"id,pk"`
	Deleted string `db:"deleted,softdelete"`
}

type flagWithoutInterface struct {
	ID      int64 `db:"id,pk"`
	Deleted bool  `db:"deleted,softdelete"`
}

type embeddedPointer struct {
	*domain.SoftDelete
	ID int64 `db:"id,pk"`
}

func TestDescribe_Rejects(t *testing.T) {
	cases := map[string]func() error{
		"non struct":           func() error { _, err := Describe[int](); return err },
		"composite key":        func() error { _, err := Describe[twoKeys](); return err },
		"duplicate column":     func() error { _, err := Describe[dupColumn](); return err },
		"non bool soft delete": func() error { _, err := Describe[badSoftDelete](); return err },
		"flag without methods": func() error { _, err := Describe[flagWithoutInterface](); return err },
		"embedded pointer":     func() error { _, err := Describe[embeddedPointer](); return err },
		"no columns":           func() error { _, err := Describe[struct{ x int }](); return err },
	}
	for name, describe := range cases {
		if err := describe(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestModel_Accessors(t *testing.T) {
	m := MustDescribe[book]()
	b := &book{Title: "Dune"}

	if _, ok := m.KeyOf(b); ok {
		t.Error("zero key must not be an identity")
	}
	if err := m.SetKey(b, int32(7)); err != nil {
		t.Fatalf("SetKey() error = %v", err)
	}
	if key, ok := m.KeyOf(b); !ok || key != int64(7) {
		t.Errorf("KeyOf() = %v, %v", key, ok)
	}

	if err := m.Set(b, "author", []byte("Herbert")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, _ := m.Get(b, "author"); v != "Herbert" {
		t.Errorf("Get(author) = %v", v)
	}
	if err := m.Set(b, "is_soft_deleted", int64(1)); err != nil || !b.SoftDeleted {
		t.Errorf("Set(bool from int) = %v, flag %v", err, b.SoftDeleted)
	}
	if _, err := m.Get(b, "missing"); err == nil {
		t.Error("expected unknown column error")
	}
	if err := m.Check(book{}); !errors.Is(err, ErrNotEntity) {
		t.Errorf("Check(value) error = %v", err)
	}
	if err := m.Check((*book)(nil)); !errors.Is(err, ErrNotEntity) {
		t.Errorf("Check(nil) error = %v", err)
	}
}

func TestModel_Lookup(t *testing.T) {
	m := MustDescribe[book]()
	tests := []struct {
		name   string
		column string
		ok     bool
	}{
		{"title", "title", true},
		{"Title", "title", true},
		{"TITLE", "title", true},
		{"is_soft_deleted", "is_soft_deleted", true},
		{"SoftDeleted", "is_soft_deleted", true},
		{"Internal", "", false},
		{"isbn", "", false},
	}
	for _, tt := range tests {
		f, ok := m.Lookup(tt.name)
		if ok != tt.ok {
			t.Errorf("Lookup(%q) ok = %t, want %t", tt.name, ok, tt.ok)
			continue
		}
		if ok && f.Column != tt.column {
			t.Errorf("Lookup(%q) = %s, want %s", tt.name, f.Column, tt.column)
		}
	}
}

func TestModel_RowOmitsUnassignedKey(t *testing.T) {
	m := MustDescribe[book]()
	cols, vals, err := m.Row(&book{Title: "Dune"})
	if err != nil {
		t.Fatal(err)
	}
	if cols[0] != "title" || len(cols) != len(vals) || len(cols) != 4 {
		t.Errorf("Row() = %v %v", cols, vals)
	}

	cols, _, _ = m.Row(&book{ID: 3})
	if cols[0] != "id" {
		t.Errorf("Row() = %v, want assigned key included", cols)
	}
}

func TestModel_CopyColumnsKeepsEvents(t *testing.T) {
	m := MustDescribe[book]()
	dst := &book{ID: 1, Title: "old", Internal: "kept"}
	dst.Record("pending")
	src := &book{ID: 1, Title: "new", Author: "Herbert"}

	if err := m.CopyColumns(dst, src); err != nil {
		t.Fatal(err)
	}
	if dst.Title != "new" || dst.Author != "Herbert" {
		t.Errorf("columns not copied: %+v", dst)
	}
	if dst.Internal != "kept" || len(dst.DomainEvents()) != 1 {
		t.Error("unmapped state must be left untouched")
	}

	clone, err := m.Clone(dst)
	if err != nil {
		t.Fatal(err)
	}
	if c := clone.(*book); c == dst || c.Title != "new" || len(c.DomainEvents()) != 0 {
		t.Errorf("Clone() = %+v", c)
	}
}

func TestConvertTo(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		value   any
		typ     reflect.Type
		want    any
		wantErr bool
	}{
		{"int widen", int32(5), reflect.TypeOf(int64(0)), int64(5), false},
		{"numeric text", []byte("42"), reflect.TypeOf(int64(0)), int64(42), false},
		{"float text", []byte("1.5"), reflect.TypeOf(float64(0)), 1.5, false},
		{"bool from bytes", []byte("true"), reflect.TypeOf(false), true, false},
		{"nil to zero", nil, reflect.TypeOf(""), "", false},
		{"uuid", id, reflect.TypeOf(uuid.UUID{}), id, false},
		{"pointer", "x", reflect.TypeOf((*string)(nil)), nil, false},
		{"int to string", 65, reflect.TypeOf(""), nil, true},
		{"string to int", "65", reflect.TypeOf(0), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertTo(tt.value, tt.typ)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ConvertTo() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ConvertTo() error = %v", err)
			}
			if tt.want == nil {
				if p, ok := got.(*string); !ok || *p != "x" {
					t.Errorf("ConvertTo() = %v", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ConvertTo() = %v (%T), want %v", got, got, tt.want)
			}
		})
	}
}

func TestModel_UUIDKey(t *testing.T) {
	m := MustDescribe[tag]()
	v := &tag{Name: "scifi"}
	if _, ok := m.KeyOf(v); ok {
		t.Error("nil uuid must not be an identity")
	}
	id := uuid.New()
	if err := m.SetKey(v, id.String()); err == nil {
		t.Error("expected string to uuid assignment to fail")
	}
	if err := m.SetKey(v, id); err != nil || v.Key != id {
		t.Errorf("SetKey() error = %v", err)
	}
}

// Clone preserves every mapped column.
func TestProperty_CloneMatchesColumns(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	m := MustDescribe[book]()

	properties.Property("clone row equals source row", prop.ForAll(
		func(id int64, title, author string, deleted bool) bool {
			src := &book{ID: id, Title: title, Author: author}
			src.SoftDeleted = deleted
			clone, err := m.Clone(src)
			if err != nil {
				return false
			}
			_, a, _ := m.Row(src)
			_, b, _ := m.Row(clone)
			return reflect.DeepEqual(a, b)
		},
		gen.Int64(),
		gen.AnyString(),
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

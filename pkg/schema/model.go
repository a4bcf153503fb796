// Package schema describes how an entity type maps onto store columns.
//
// A Model is built once per entity type at start-up from `db` struct tags:
//
//	type Book struct {
//		ID     int64  `db:"id,pk,auto"`
//		Title  string `db:"title"`
//		Author string `db:"author"`
//		domain.SoftDelete
//		domain.Events
//	}
//
// Tag options: pk marks the identity column, auto lets the store assign it on
// insert when it is zero, softdelete marks the soft-delete flag and version
// marks the optimistic-locking column. Untagged exported fields map to their
// lower-cased name; `db:"-"` skips a field. Fields of embedded structs are
// promoted.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/nimburion/repokit/pkg/domain"
)

// ErrNotEntity is returned when a value is not a pointer to the model's struct type.
var ErrNotEntity = errors.New("value is not an entity of this model")

// Field maps a struct field onto a column.
type Field struct {
	Name       string
	Column     string
	Index      []int
	Type       reflect.Type
	PrimaryKey bool
	Auto       bool
	SoftDelete bool
	Version    bool
}

// Model is the descriptor of one entity type.
type Model struct {
	name     string
	table    string
	typ      reflect.Type
	fields   []*Field
	byColumn map[string]*Field
	// byAlias holds lowercased columns and Go field names.
	byAlias map[string]*Field

	key        *Field
	softDelete *Field
	version    *Field
}

// Option customizes a Model.
type Option func(*Model)

// WithName overrides the type tag used to identify the entity.
func WithName(name string) Option {
	return func(m *Model) {
		m.name = name
	}
}

// WithTable overrides the table (or collection) name.
func WithTable(table string) Option {
	return func(m *Model) {
		m.table = table
	}
}

// Describe builds the Model of E, which must be a struct type.
func Describe[E any](opts ...Option) (*Model, error) {
	typ := reflect.TypeOf((*E)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity type %s must be a struct", typ)
	}

	m := &Model{
		name:     typ.Name(),
		table:    strings.ToLower(typ.Name()),
		typ:      typ,
		byColumn: make(map[string]*Field),
		byAlias:  make(map[string]*Field),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, sf := range reflect.VisibleFields(typ) {
		if sf.Anonymous {
			if sf.Type.Kind() == reflect.Pointer {
				return nil, fmt.Errorf("entity type %s: embedded pointer %s is not supported", typ, sf.Name)
			}
			if sf.Type.Kind() == reflect.Struct {
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		field, ok := parseField(sf)
		if !ok {
			continue
		}
		if _, dup := m.byColumn[field.Column]; dup {
			return nil, fmt.Errorf("entity type %s: duplicate column %q", typ, field.Column)
		}

		switch {
		case field.PrimaryKey:
			if m.key != nil {
				return nil, fmt.Errorf("entity type %s: composite keys are not supported", typ)
			}
			if !field.Type.Comparable() {
				return nil, fmt.Errorf("entity type %s: key %s is not comparable", typ, field.Name)
			}
			m.key = field
		case field.SoftDelete:
			if field.Type.Kind() != reflect.Bool {
				return nil, fmt.Errorf("entity type %s: soft-delete column %q must be bool", typ, field.Column)
			}
			m.softDelete = field
		case field.Version:
			m.version = field
		}

		m.fields = append(m.fields, field)
		m.byColumn[field.Column] = field
	}

	if len(m.fields) == 0 {
		return nil, fmt.Errorf("entity type %s has no mapped columns", typ)
	}
	// Columns take precedence over Go names that lowercase to the same text.
	for _, f := range m.fields {
		m.byAlias[strings.ToLower(f.Column)] = f
	}
	for _, f := range m.fields {
		if _, taken := m.byAlias[strings.ToLower(f.Name)]; !taken {
			m.byAlias[strings.ToLower(f.Name)] = f
		}
	}

	ptr := reflect.PointerTo(typ)
	if m.softDelete != nil && !ptr.Implements(reflect.TypeOf((*domain.SoftDeletable)(nil)).Elem()) {
		return nil, fmt.Errorf("entity type %s: soft-delete column without domain.SoftDeletable", typ)
	}
	if m.version == nil && ptr.Implements(reflect.TypeOf((*domain.Versioned)(nil)).Elem()) {
		if f, ok := m.byColumn["version"]; ok {
			f.Version = true
			m.version = f
		}
	}

	return m, nil
}

// MustDescribe is like Describe but panics on error. Use it for package-level declarations.
func MustDescribe[E any](opts ...Option) *Model {
	m, err := Describe[E](opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func parseField(sf reflect.StructField) (*Field, bool) {
	tag := sf.Tag.Get("db")
	if tag == "-" {
		return nil, false
	}

	parts := strings.Split(tag, ",")
	column := strings.TrimSpace(parts[0])
	if column == "" {
		column = strings.ToLower(sf.Name)
	}

	field := &Field{
		Name:   sf.Name,
		Column: column,
		Index:  sf.Index,
		Type:   sf.Type,
	}
	for _, opt := range parts[1:] {
		switch strings.TrimSpace(opt) {
		case "pk":
			field.PrimaryKey = true
		case "auto":
			field.Auto = true
		case "softdelete":
			field.SoftDelete = true
		case "version":
			field.Version = true
		}
	}
	return field, true
}

// Name returns the entity type tag.
func (m *Model) Name() string { return m.name }

// Table returns the table or collection name.
func (m *Model) Table() string { return m.table }

// Type returns the entity struct type.
func (m *Model) Type() reflect.Type { return m.typ }

// Fields returns the mapped fields in declaration order.
func (m *Model) Fields() []*Field { return m.fields }

// Field returns the field mapped to column.
func (m *Model) Field(column string) (*Field, bool) {
	f, ok := m.byColumn[column]
	return f, ok
}

// Lookup resolves name to a field. An exact column match wins; otherwise the
// column or the Go field name is matched case-insensitively, so "Title",
// "title" and "TITLE" all find the title column.
func (m *Model) Lookup(name string) (*Field, bool) {
	if f, ok := m.byColumn[name]; ok {
		return f, true
	}
	f, ok := m.byAlias[strings.ToLower(name)]
	return f, ok
}

// Columns returns all column names in declaration order.
func (m *Model) Columns() []string {
	cols := make([]string, len(m.fields))
	for i, f := range m.fields {
		cols[i] = f.Column
	}
	return cols
}

// Key returns the identity field, or nil for identity-less entities.
func (m *Model) Key() *Field { return m.key }

// SoftDeleteField returns the soft-delete flag field, or nil.
func (m *Model) SoftDeleteField() *Field { return m.softDelete }

// VersionField returns the optimistic-locking field, or nil.
func (m *Model) VersionField() *Field { return m.version }

// SoftDeletable reports whether entities of this model are soft deleted.
func (m *Model) SoftDeletable() bool { return m.softDelete != nil }

// New allocates a zero entity and returns it as *E.
func (m *Model) New() any {
	return reflect.New(m.typ).Interface()
}

// Check verifies that entity is a non-nil pointer to the model's struct type.
func (m *Model) Check(entity any) error {
	_, err := m.elem(entity)
	return err
}

func (m *Model) elem(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != m.typ {
		return reflect.Value{}, fmt.Errorf("%w %s: got %T", ErrNotEntity, m.name, entity)
	}
	return v.Elem(), nil
}

// Get returns the value of column on entity.
func (m *Model) Get(entity any, column string) (any, error) {
	f, ok := m.byColumn[column]
	if !ok {
		return nil, fmt.Errorf("unknown column %q on %s", column, m.name)
	}
	v, err := m.elem(entity)
	if err != nil {
		return nil, err
	}
	return v.FieldByIndex(f.Index).Interface(), nil
}

// Set assigns value to column on entity, converting compatible types.
func (m *Model) Set(entity any, column string, value any) error {
	f, ok := m.byColumn[column]
	if !ok {
		return fmt.Errorf("unknown column %q on %s", column, m.name)
	}
	v, err := m.elem(entity)
	if err != nil {
		return err
	}
	if err := Assign(v.FieldByIndex(f.Index), value); err != nil {
		return fmt.Errorf("column %q on %s: %w", column, m.name, err)
	}
	return nil
}

// KeyOf returns the identity of entity. ok is false for identity-less models
// and for entities whose key is still the zero value.
func (m *Model) KeyOf(entity any) (key any, ok bool) {
	if m.key == nil {
		return nil, false
	}
	v, err := m.elem(entity)
	if err != nil {
		return nil, false
	}
	fv := v.FieldByIndex(m.key.Index)
	if fv.IsZero() {
		return nil, false
	}
	return fv.Interface(), true
}

// SetKey assigns the identity of entity.
func (m *Model) SetKey(entity any, key any) error {
	if m.key == nil {
		return fmt.Errorf("%s has no key column", m.name)
	}
	return m.Set(entity, m.key.Column, key)
}

// Row returns the columns and values to write for entity. The key column is
// omitted when it is store-assigned and still zero.
func (m *Model) Row(entity any) (columns []string, values []any, err error) {
	v, err := m.elem(entity)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range m.fields {
		fv := v.FieldByIndex(f.Index)
		if f.PrimaryKey && f.Auto && fv.IsZero() {
			continue
		}
		columns = append(columns, f.Column)
		values = append(values, fv.Interface())
	}
	return columns, values, nil
}

// CopyColumns copies every mapped column from src to dst. Unmapped state,
// such as an event buffer, is left untouched.
func (m *Model) CopyColumns(dst, src any) error {
	dv, err := m.elem(dst)
	if err != nil {
		return err
	}
	sv, err := m.elem(src)
	if err != nil {
		return err
	}
	for _, f := range m.fields {
		dv.FieldByIndex(f.Index).Set(sv.FieldByIndex(f.Index))
	}
	return nil
}

// Clone returns a new entity holding a copy of entity's mapped columns.
func (m *Model) Clone(entity any) (any, error) {
	out := m.New()
	if err := m.CopyColumns(out, entity); err != nil {
		return nil, err
	}
	return out, nil
}

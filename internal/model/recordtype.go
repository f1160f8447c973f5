package model

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
)

// FieldKind is the Go type of a record field, detected from the pointer
// returned by its accessor.
type FieldKind int

const (
	KindBool FieldKind = iota + 1
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindInt
	KindFloat32
	KindFloat64
	KindString
	KindEnum
	KindDate
	KindTime
	KindDateTime
	KindTimestamp
)

var kindNames = map[FieldKind]string{
	KindBool:      "bool",
	KindInt8:      "int8",
	KindInt16:     "int16",
	KindInt32:     "int32",
	KindInt64:     "int64",
	KindInt:       "int",
	KindFloat32:   "float32",
	KindFloat64:   "float64",
	KindString:    "string",
	KindEnum:      "enum",
	KindDate:      "civil.Date",
	KindTime:      "civil.Time",
	KindDateTime:  "civil.DateTime",
	KindTimestamp: "time.Time",
}

func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// Enum is implemented by pointers to enum-like field types. EnumName
// returns "" for the null value.
type Enum interface {
	EnumName() string
	SetEnumName(name string) bool
}

// EnumParser is optionally implemented by enums that accept a string form
// other than their name.
type EnumParser interface {
	ParseEnum(value string) bool
}

// Field describes one column of a record type
type Field struct {
	Name     string
	Type     ColumnType
	Kind     FieldKind
	Nullable bool
	Index    bool
	JSON     bool

	ptr func(Object) any
}

// Pointer returns a pointer to the field inside obj
func (f *Field) Pointer(obj Object) any {
	return f.ptr(obj)
}

// Column returns the physical column definition of the field
func (f *Field) Column() ColumnDef {
	return ColumnDef{Name: f.Name, Type: f.Type, Index: f.Index}
}

// FieldOption customizes a field declaration
type FieldOption func(*Field)

// Indexed adds a single column index on the field
func Indexed(f *Field) {
	f.Index = true
}

// JSON marks a string field as holding encoded JSON
func JSON(f *Field) {
	f.JSON = true
}

// RecordType is the static field descriptor list of an object type
type RecordType struct {
	name   string
	newFn  func() Object
	fields []*Field
	byName map[string]*Field
}

// Name returns the registered type name, stored as data_class metadata
func (t *RecordType) Name() string {
	return t.name
}

// New creates an empty object of this type
func (t *RecordType) New() Object {
	return t.newFn()
}

// Fields returns the fields in declaration order, excluding id
func (t *RecordType) Fields() []*Field {
	out := make([]*Field, len(t.fields))
	copy(out, t.fields)
	return out
}

// FieldNames returns the field names in declaration order, excluding id
func (t *RecordType) FieldNames() []string {
	names := make([]string, len(t.fields))
	for i, f := range t.fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by name, ignoring case
func (t *RecordType) Field(name string) (*Field, bool) {
	f, ok := t.byName[strings.ToLower(name)]
	return f, ok
}

// HasField reports whether the type declares the named field
func (t *RecordType) HasField(name string) bool {
	_, ok := t.Field(name)
	return ok
}

// Columns returns the physical columns of the type, excluding id
func (t *RecordType) Columns() []ColumnDef {
	cols := make([]ColumnDef, len(t.fields))
	for i, f := range t.fields {
		cols[i] = f.Column()
	}
	return cols
}

// Builder declares the fields of a record type
type Builder[T Object] struct {
	name   string
	newFn  func() T
	fields []*Field
	err    error
}

// Define starts the declaration of a record type named name
func Define[T Object](name string, newFn func() T) *Builder[T] {
	return &Builder[T]{name: name, newFn: newFn}
}

// Field declares a field. ptr must return a pointer to the struct field;
// pointer-to-pointer fields are nullable.
func (b *Builder[T]) Field(name string, col ColumnType, ptr func(T) any, opts ...FieldOption) *Builder[T] {
	if b.err != nil {
		return b
	}
	if name == "" || strings.EqualFold(name, "id") {
		b.err = fmt.Errorf("record type %s: invalid field name %q", b.name, name)
		return b
	}
	for _, f := range b.fields {
		if strings.EqualFold(f.Name, name) {
			b.err = fmt.Errorf("record type %s: duplicate field %s", b.name, name)
			return b
		}
	}

	kind, nullable, err := kindOf(ptr(b.newFn()))
	if err != nil {
		b.err = fmt.Errorf("record type %s: field %s: %w", b.name, name, err)
		return b
	}
	if !compatible(col, kind) {
		b.err = fmt.Errorf("record type %s: field %s: %s cannot be stored as %s", b.name, name, kind, col)
		return b
	}

	f := &Field{
		Name:     name,
		Type:     col,
		Kind:     kind,
		Nullable: nullable,
		ptr:      func(obj Object) any { return ptr(obj.(T)) },
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.JSON && kind != KindString {
		b.err = fmt.Errorf("record type %s: field %s: JSON requires a string field", b.name, name)
		return b
	}
	b.fields = append(b.fields, f)
	return b
}

// Build validates the declaration and registers the record type
func (b *Builder[T]) Build() (*RecordType, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, fmt.Errorf("record type name is required")
	}
	t := &RecordType{
		name:   b.name,
		newFn:  func() Object { return b.newFn() },
		fields: b.fields,
		byName: make(map[string]*Field, len(b.fields)),
	}
	for _, f := range b.fields {
		t.byName[strings.ToLower(f.Name)] = f
	}
	if err := Register(t); err != nil {
		return nil, err
	}
	return t, nil
}

// MustBuild is like Build but panics on error. It is meant for package
// level record type declarations.
func (b *Builder[T]) MustBuild() *RecordType {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

func kindOf(p any) (FieldKind, bool, error) {
	switch p.(type) {
	case *bool:
		return KindBool, false, nil
	case **bool:
		return KindBool, true, nil
	case *int8:
		return KindInt8, false, nil
	case **int8:
		return KindInt8, true, nil
	case *int16:
		return KindInt16, false, nil
	case **int16:
		return KindInt16, true, nil
	case *int32:
		return KindInt32, false, nil
	case **int32:
		return KindInt32, true, nil
	case *int64:
		return KindInt64, false, nil
	case **int64:
		return KindInt64, true, nil
	case *int:
		return KindInt, false, nil
	case **int:
		return KindInt, true, nil
	case *float32:
		return KindFloat32, false, nil
	case **float32:
		return KindFloat32, true, nil
	case *float64:
		return KindFloat64, false, nil
	case **float64:
		return KindFloat64, true, nil
	case *string:
		return KindString, false, nil
	case **string:
		return KindString, true, nil
	case *civil.Date:
		return KindDate, false, nil
	case **civil.Date:
		return KindDate, true, nil
	case *civil.Time:
		return KindTime, false, nil
	case **civil.Time:
		return KindTime, true, nil
	case *civil.DateTime:
		return KindDateTime, false, nil
	case **civil.DateTime:
		return KindDateTime, true, nil
	case *time.Time:
		return KindTimestamp, false, nil
	case **time.Time:
		return KindTimestamp, true, nil
	case Enum:
		return KindEnum, true, nil
	}
	return 0, false, fmt.Errorf("unsupported field type %T", p)
}

func compatible(col ColumnType, kind FieldKind) bool {
	switch {
	case col.IsInteger():
		switch kind {
		case KindBool, KindInt8, KindInt16, KindInt32, KindInt64, KindInt:
			return true
		}
	case col.IsFloat():
		return kind == KindFloat32 || kind == KindFloat64
	case col == ColumnString || col == ColumnText:
		return kind == KindString || kind == KindEnum
	case col == ColumnDate:
		return kind == KindDate
	case col == ColumnTime:
		return kind == KindTime
	case col == ColumnDateTime:
		return kind == KindDateTime
	case col == ColumnISOTime:
		return kind == KindTimestamp || kind == KindInt64 || kind == KindDateTime
	}
	return false
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*RecordType)
)

// Register adds a record type to the process registry so it can be found
// again by the name stored in table metadata.
func Register(t *RecordType) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[t.name]; exists {
		return fmt.Errorf("record type %s already registered", t.name)
	}
	registry[t.name] = t
	return nil
}

// LookupType returns the registered record type with the given name
func LookupType(name string) (*RecordType, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[name]
	return t, ok
}

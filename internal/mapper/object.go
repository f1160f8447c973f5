package mapper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/devrev/recordstore/internal/model"
)

// FieldConversionError reports a field value that cannot be converted
// to or from its column type.
type FieldConversionError struct {
	Field string
	Value any
	Cause error
}

func (e *FieldConversionError) Error() string {
	return fmt.Sprintf("invalid value for field %q: %v: %v", e.Field, e.Value, e.Cause)
}

func (e *FieldConversionError) Unwrap() error {
	return e.Cause
}

// ObjectToRecord converts obj to its stored record form. If decodeJSON is
// set, JSON fields are returned as parsed values instead of strings.
func ObjectToRecord(obj model.Object, decodeJSON bool) (model.Record, error) {
	rt := obj.RecordType()
	rec := make(model.Record, len(rt.Fields())+1)
	if id := obj.GetID(); id != "" {
		rec["id"] = id
	}
	for _, f := range rt.Fields() {
		typed := readField(f.Pointer(obj))
		value, err := ToRecordValue(typed, f.Type)
		if err != nil {
			return nil, &FieldConversionError{Field: f.Name, Value: typed, Cause: err}
		}
		if value != nil && f.JSON && decodeJSON {
			var parsed any
			if err := json.Unmarshal([]byte(value.(string)), &parsed); err != nil {
				return nil, &FieldConversionError{Field: f.Name, Value: typed,
					Cause: fmt.Errorf("failed to parse JSON code: %w", err)}
			}
			value = parsed
		}
		rec[f.Name] = value
	}
	return rec, nil
}

// RecordToObject creates an object of type rt from a stored record. Keys
// are matched case-insensitively and missing keys leave the field unset.
// If encodeJSON is set, structured values of JSON fields are encoded.
func RecordToObject(rec model.Record, rt *model.RecordType, encodeJSON bool) (model.Object, error) {
	obj := rt.New()
	if id, ok := lookup(rec, "id"); ok && id != nil {
		obj.SetID(toText(id))
	}
	for _, f := range rt.Fields() {
		raw, ok := lookup(rec, f.Name)
		if !ok {
			continue
		}
		value := raw
		if raw != nil && f.JSON && encodeJSON {
			if _, isString := raw.(string); !isString {
				data, err := json.Marshal(raw)
				if err != nil {
					return nil, &FieldConversionError{Field: f.Name, Value: raw, Cause: err}
				}
				value = string(data)
			}
		}
		typed, err := FromRecordValue(value, f.Type, f.Kind)
		if err != nil {
			return nil, &FieldConversionError{Field: f.Name, Value: raw, Cause: err}
		}
		if err := writeField(f.Pointer(obj), typed); err != nil {
			return nil, &FieldConversionError{Field: f.Name, Value: raw, Cause: err}
		}
	}
	return obj, nil
}

// FieldValue returns the typed value of a field of obj, or nil if it is
// null.
func FieldValue(obj model.Object, field string) (any, bool) {
	f, ok := obj.RecordType().Field(field)
	if !ok {
		return nil, false
	}
	return readField(f.Pointer(obj)), true
}

func lookup(rec model.Record, key string) (any, bool) {
	if v, ok := rec[key]; ok {
		return v, true
	}
	for k, v := range rec {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func deref[T any](p **T) any {
	if *p == nil {
		return nil
	}
	return **p
}

func readField(p any) any {
	switch p := p.(type) {
	case *bool:
		return *p
	case **bool:
		return deref(p)
	case *int8:
		return *p
	case **int8:
		return deref(p)
	case *int16:
		return *p
	case **int16:
		return deref(p)
	case *int32:
		return *p
	case **int32:
		return deref(p)
	case *int64:
		return *p
	case **int64:
		return deref(p)
	case *int:
		return *p
	case **int:
		return deref(p)
	case *float32:
		return *p
	case **float32:
		return deref(p)
	case *float64:
		return *p
	case **float64:
		return deref(p)
	case *string:
		return *p
	case **string:
		return deref(p)
	case *civil.Date:
		return *p
	case **civil.Date:
		return deref(p)
	case *civil.Time:
		return *p
	case **civil.Time:
		return deref(p)
	case *civil.DateTime:
		return *p
	case **civil.DateTime:
		return deref(p)
	case *time.Time:
		return *p
	case **time.Time:
		return deref(p)
	case model.Enum:
		if name := p.EnumName(); name != "" {
			return name
		}
	}
	return nil
}

func set[T any](p *T, v any) error {
	if v == nil {
		var zero T
		*p = zero
		return nil
	}
	typed, ok := v.(T)
	if !ok {
		return fmt.Errorf("cannot assign %T to %T", v, *p)
	}
	*p = typed
	return nil
}

func setNullable[T any](p **T, v any) error {
	if v == nil {
		*p = nil
		return nil
	}
	typed, ok := v.(T)
	if !ok {
		return fmt.Errorf("cannot assign %T to %T", v, *p)
	}
	*p = &typed
	return nil
}

func writeField(p any, v any) error {
	switch p := p.(type) {
	case *bool:
		return set(p, v)
	case **bool:
		return setNullable(p, v)
	case *int8:
		return set(p, v)
	case **int8:
		return setNullable(p, v)
	case *int16:
		return set(p, v)
	case **int16:
		return setNullable(p, v)
	case *int32:
		return set(p, v)
	case **int32:
		return setNullable(p, v)
	case *int64:
		return set(p, v)
	case **int64:
		return setNullable(p, v)
	case *int:
		return set(p, v)
	case **int:
		return setNullable(p, v)
	case *float32:
		return set(p, v)
	case **float32:
		return setNullable(p, v)
	case *float64:
		return set(p, v)
	case **float64:
		return setNullable(p, v)
	case *string:
		return set(p, v)
	case **string:
		return setNullable(p, v)
	case *civil.Date:
		return set(p, v)
	case **civil.Date:
		return setNullable(p, v)
	case *civil.Time:
		return set(p, v)
	case **civil.Time:
		return setNullable(p, v)
	case *civil.DateTime:
		return set(p, v)
	case **civil.DateTime:
		return setNullable(p, v)
	case *time.Time:
		return set(p, v)
	case **time.Time:
		return setNullable(p, v)
	case model.Enum:
		return setEnum(p, v)
	}
	return fmt.Errorf("unsupported field type %T", p)
}

func setEnum(e model.Enum, v any) error {
	if v == nil {
		e.SetEnumName("")
		return nil
	}
	name := toText(v)
	if e.SetEnumName(name) {
		return nil
	}
	if parser, ok := e.(model.EnumParser); ok && parser.ParseEnum(name) {
		return nil
	}
	return fmt.Errorf("invalid value for enum type %T: %s", e, name)
}

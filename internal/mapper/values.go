package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/devrev/recordstore/internal/model"
)

const (
	timeLayout     = "15:04:05"
	dateTimeLayout = "2006-01-02 15:04:05"
	isoTimeLayout  = "2006-01-02T15:04:05.000Z07:00"
	isoLocalLayout = "2006-01-02T15:04:05.000"
)

// ToRecordValue converts a typed value to its stored form for a column of
// type col. Nil maps to nil.
func ToRecordValue(v any, col model.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col {
	case model.ColumnByte, model.ColumnShort, model.ColumnInt, model.ColumnLong:
		return toInteger(v, col)
	case model.ColumnFloat:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("invalid value for %s: %T", col, v)
		}
		return float32(f), nil
	case model.ColumnDouble:
		if f, ok := v.(float32); ok {
			return f, nil
		}
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("invalid value for %s: %T", col, v)
		}
		return f, nil
	case model.ColumnString, model.ColumnText:
		return toText(v), nil
	case model.ColumnDate:
		d, ok := v.(civil.Date)
		if !ok {
			return nil, fmt.Errorf("invalid value for %s: %T", col, v)
		}
		return d.String(), nil
	case model.ColumnTime:
		t, ok := v.(civil.Time)
		if !ok {
			return nil, fmt.Errorf("invalid value for %s: %T", col, v)
		}
		return formatTime(t), nil
	case model.ColumnDateTime:
		dt, ok := v.(civil.DateTime)
		if !ok {
			return nil, fmt.Errorf("invalid value for %s: %T", col, v)
		}
		return dt.Date.String() + " " + formatTime(dt.Time), nil
	case model.ColumnISOTime:
		t, err := toZonedTime(v)
		if err != nil {
			return nil, err
		}
		return t.Format(isoTimeLayout), nil
	}
	return nil, fmt.Errorf("unknown column type: %s", col)
}

// FromRecordValue converts a stored value to the Go type identified by
// kind. Enum kinds are returned by their string form; the caller resolves
// them against the concrete enum type.
func FromRecordValue(v any, col model.ColumnType, kind model.FieldKind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col {
	case model.ColumnByte, model.ColumnShort, model.ColumnInt, model.ColumnLong:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("invalid class for column type %s: %T", col, v)
		}
		switch kind {
		case model.KindBool:
			return n != 0, nil
		case model.KindInt8:
			if n < math.MinInt8 || n > math.MaxInt8 {
				return nil, fmt.Errorf("value %d out of range for %s", n, kind)
			}
			return int8(n), nil
		case model.KindInt16:
			if n < math.MinInt16 || n > math.MaxInt16 {
				return nil, fmt.Errorf("value %d out of range for %s", n, kind)
			}
			return int16(n), nil
		case model.KindInt32:
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, fmt.Errorf("value %d out of range for %s", n, kind)
			}
			return int32(n), nil
		case model.KindInt64:
			return n, nil
		case model.KindInt:
			if n < math.MinInt || n > math.MaxInt {
				return nil, fmt.Errorf("value %d out of range for %s", n, kind)
			}
			return int(n), nil
		}
	case model.ColumnFloat, model.ColumnDouble:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("invalid class for column type %s: %T", col, v)
		}
		switch kind {
		case model.KindFloat32:
			if f32, ok := v.(float32); ok {
				return f32, nil
			}
			return float32(f), nil
		case model.KindFloat64:
			if f32, ok := v.(float32); ok {
				return float64(f32), nil
			}
			return f, nil
		}
	case model.ColumnString, model.ColumnText:
		if kind == model.KindString || kind == model.KindEnum {
			return toText(v), nil
		}
	case model.ColumnDate:
		if kind == model.KindDate {
			d, err := civil.ParseDate(toText(v))
			if err != nil {
				return nil, fmt.Errorf("invalid value for column type %s: %v", col, err)
			}
			return d, nil
		}
	case model.ColumnTime:
		if kind == model.KindTime {
			t, err := time.Parse(timeLayout, toText(v))
			if err != nil {
				return nil, fmt.Errorf("invalid value for column type %s: %v", col, err)
			}
			return civil.TimeOf(t), nil
		}
	case model.ColumnDateTime:
		if kind == model.KindDateTime {
			t, err := time.Parse(dateTimeLayout, toText(v))
			if err != nil {
				return nil, fmt.Errorf("invalid value for column type %s: %v", col, err)
			}
			return civil.DateTimeOf(t), nil
		}
	case model.ColumnISOTime:
		t, err := parseZonedTime(v)
		if err != nil {
			return nil, err
		}
		switch kind {
		case model.KindTimestamp:
			return t, nil
		case model.KindInt64:
			return t.UnixMilli(), nil
		case model.KindDateTime:
			return civil.DateTimeOf(t.In(time.Local)), nil
		}
	default:
		return nil, fmt.Errorf("unknown column type: %s", col)
	}
	return nil, fmt.Errorf("column type %s cannot be read as %s", col, kind)
}

func toInteger(v any, col model.ColumnType) (any, error) {
	if b, ok := v.(bool); ok {
		if b {
			return int8(1), nil
		}
		return int8(0), nil
	}
	// narrower integers are stored as they are
	switch n := v.(type) {
	case int8:
		return n, nil
	case int16:
		if col != model.ColumnByte {
			return n, nil
		}
	case int32:
		if col == model.ColumnInt || col == model.ColumnLong {
			return n, nil
		}
	case int64:
		if col == model.ColumnLong {
			return n, nil
		}
	}
	n, ok := toInt64(v)
	if !ok {
		return nil, fmt.Errorf("invalid value for %s: %T", col, v)
	}
	switch col {
	case model.ColumnByte:
		if n < math.MinInt8 || n > math.MaxInt8 {
			return nil, fmt.Errorf("value %d out of range for %s", n, col)
		}
		return int8(n), nil
	case model.ColumnShort:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("value %d out of range for %s", n, col)
		}
		return int16(n), nil
	case model.ColumnInt:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d out of range for %s", n, col)
		}
		return int32(n), nil
	default:
		return n, nil
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case model.Enum:
		return s.EnumName()
	case fmt.Stringer:
		return s.String()
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func formatTime(t civil.Time) string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func toZonedTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		return *t, nil
	case int64:
		return time.UnixMilli(t).In(time.Local), nil
	case civil.DateTime:
		return t.In(time.Local), nil
	}
	return time.Time{}, fmt.Errorf("invalid date/time value: %v", v)
}

func parseZonedTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s := toText(v)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(isoLocalLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO date/time: %s", s)
	}
	return t, nil
}

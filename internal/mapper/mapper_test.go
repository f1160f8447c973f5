package mapper

import (
	"math"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/devrev/recordstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mood string

func (m *mood) EnumName() string { return string(*m) }

func (m *mood) SetEnumName(name string) bool {
	switch name {
	case "HAPPY", "SAD", "":
		*m = mood(name)
		return true
	}
	return false
}

func (m *mood) ParseEnum(value string) bool {
	switch value {
	case ":)":
		*m = "HAPPY"
		return true
	case ":(":
		*m = "SAD"
		return true
	}
	return false
}

type sample struct {
	model.Base
	User     string
	Active   bool
	Steps    int32
	Total    *int64
	Weight   float64
	Mood     mood
	Birthday civil.Date
	Wake     civil.Time
	Visit    civil.DateTime
	Seen     time.Time
	UTCTime  int64
	Extra    *string
}

func (s *sample) RecordType() *model.RecordType { return sampleType }

var sampleType = model.Define("mapperSample", func() *sample { return &sample{} }).
	Field("user", model.ColumnString, func(s *sample) any { return &s.User }, model.Indexed).
	Field("active", model.ColumnByte, func(s *sample) any { return &s.Active }).
	Field("steps", model.ColumnInt, func(s *sample) any { return &s.Steps }).
	Field("total", model.ColumnLong, func(s *sample) any { return &s.Total }).
	Field("weight", model.ColumnDouble, func(s *sample) any { return &s.Weight }).
	Field("mood", model.ColumnString, func(s *sample) any { return &s.Mood }).
	Field("birthday", model.ColumnDate, func(s *sample) any { return &s.Birthday }).
	Field("wake", model.ColumnTime, func(s *sample) any { return &s.Wake }).
	Field("visit", model.ColumnDateTime, func(s *sample) any { return &s.Visit }).
	Field("seen", model.ColumnISOTime, func(s *sample) any { return &s.Seen }).
	Field("utcTime", model.ColumnLong, func(s *sample) any { return &s.UTCTime }).
	Field("extra", model.ColumnText, func(s *sample) any { return &s.Extra }, model.JSON).
	MustBuild()

func TestToRecordValue_Integers(t *testing.T) {
	tests := []struct {
		name  string
		value any
		col   model.ColumnType
		want  any
	}{
		{name: "bool true in byte", value: true, col: model.ColumnByte, want: int8(1)},
		{name: "bool false in long", value: false, col: model.ColumnLong, want: int8(0)},
		{name: "int8 kept in short", value: int8(7), col: model.ColumnShort, want: int8(7)},
		{name: "int32 kept in long", value: int32(7), col: model.ColumnLong, want: int32(7)},
		{name: "int64 narrowed to int", value: int64(9), col: model.ColumnInt, want: int32(9)},
		{name: "int widened to long", value: 12, col: model.ColumnLong, want: int64(12)},
		{name: "int16 narrowed to byte", value: int16(3), col: model.ColumnByte, want: int8(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToRecordValue(tt.value, tt.col)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToRecordValue_IntegerOverflow(t *testing.T) {
	tests := []struct {
		name  string
		value any
		col   model.ColumnType
	}{
		{name: "int64 above int", value: int64(3_000_000_000), col: model.ColumnInt},
		{name: "int64 below int", value: int64(-3_000_000_000), col: model.ColumnInt},
		{name: "int16 above byte", value: int16(300), col: model.ColumnByte},
		{name: "int above short", value: 70000, col: model.ColumnShort},
		{name: "int32 below short", value: int32(-40000), col: model.ColumnShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToRecordValue(tt.value, tt.col)
			assert.Error(t, err)
		})
	}

	got, err := ToRecordValue(int64(math.MaxInt32), model.ColumnInt)
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), got)
	got, err = ToRecordValue(-128, model.ColumnByte)
	require.NoError(t, err)
	assert.Equal(t, int8(-128), got)
}

func TestToRecordValue_Formats(t *testing.T) {
	got, err := ToRecordValue(civil.Date{Year: 2024, Month: time.March, Day: 5}, model.ColumnDate)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", got)

	got, err = ToRecordValue(civil.Time{Hour: 7, Minute: 4, Second: 9, Nanosecond: 500}, model.ColumnTime)
	require.NoError(t, err)
	assert.Equal(t, "07:04:09", got)

	got, err = ToRecordValue(civil.DateTime{
		Date: civil.Date{Year: 2024, Month: time.March, Day: 5},
		Time: civil.Time{Hour: 23, Minute: 59, Second: 1, Nanosecond: 999},
	}, model.ColumnDateTime)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05 23:59:01", got)

	zone := time.FixedZone("CET", 3600)
	got, err = ToRecordValue(time.Date(2024, 3, 5, 10, 0, 0, 123456789, zone), model.ColumnISOTime)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T10:00:00.123+01:00", got)

	got, err = ToRecordValue(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), model.ColumnISOTime)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T10:00:00.000Z", got)

	_, err = ToRecordValue("2024-03-05", model.ColumnDate)
	assert.Error(t, err)

	got, err = ToRecordValue(nil, model.ColumnISOTime)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRoundTrip(t *testing.T) {
	zone := time.FixedZone("X", -5*3600)
	tests := []struct {
		name  string
		value any
		col   model.ColumnType
		kind  model.FieldKind
	}{
		{name: "bool", value: true, col: model.ColumnByte, kind: model.KindBool},
		{name: "int8", value: int8(-4), col: model.ColumnByte, kind: model.KindInt8},
		{name: "int16", value: int16(300), col: model.ColumnShort, kind: model.KindInt16},
		{name: "int32", value: int32(70000), col: model.ColumnInt, kind: model.KindInt32},
		{name: "int64", value: int64(1 << 40), col: model.ColumnLong, kind: model.KindInt64},
		{name: "float32", value: float32(1.5), col: model.ColumnFloat, kind: model.KindFloat32},
		{name: "float64", value: 2.25, col: model.ColumnDouble, kind: model.KindFloat64},
		{name: "string", value: "héllo", col: model.ColumnString, kind: model.KindString},
		{name: "text", value: "long text", col: model.ColumnText, kind: model.KindString},
		{name: "date", value: civil.Date{Year: 1999, Month: time.December, Day: 31}, col: model.ColumnDate, kind: model.KindDate},
		{name: "time", value: civil.Time{Hour: 1, Minute: 2, Second: 3}, col: model.ColumnTime, kind: model.KindTime},
		{name: "datetime", value: civil.DateTime{
			Date: civil.Date{Year: 2020, Month: time.February, Day: 29},
			Time: civil.Time{Hour: 12},
		}, col: model.ColumnDateTime, kind: model.KindDateTime},
		{name: "epoch millis", value: int64(1700000000123), col: model.ColumnISOTime, kind: model.KindInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := ToRecordValue(tt.value, tt.col)
			require.NoError(t, err)
			back, err := FromRecordValue(stored, tt.col, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.value, back)
		})
	}

	t.Run("zoned time", func(t *testing.T) {
		in := time.Date(2023, 7, 1, 8, 30, 15, 250000000, zone)
		stored, err := ToRecordValue(in, model.ColumnISOTime)
		require.NoError(t, err)
		back, err := FromRecordValue(stored, model.ColumnISOTime, model.KindTimestamp)
		require.NoError(t, err)
		out := back.(time.Time)
		assert.True(t, in.Equal(out))
		_, offset := out.Zone()
		assert.Equal(t, -5*3600, offset)
	})
}

func TestFromRecordValue_Errors(t *testing.T) {
	_, err := FromRecordValue("abc", model.ColumnInt, model.KindInt32)
	assert.Error(t, err)

	_, err = FromRecordValue("2024-13-01", model.ColumnDate, model.KindDate)
	assert.Error(t, err)

	_, err = FromRecordValue("12:00", model.ColumnTime, model.KindTime)
	assert.Error(t, err)

	_, err = FromRecordValue(int64(1), model.ColumnLong, model.KindString)
	assert.Error(t, err)

	_, err = FromRecordValue(int64(70000), model.ColumnLong, model.KindInt16)
	assert.Error(t, err)

	_, err = FromRecordValue(int64(200), model.ColumnShort, model.KindInt8)
	assert.Error(t, err)

	_, err = FromRecordValue(int64(math.MaxInt32)+1, model.ColumnLong, model.KindInt32)
	assert.Error(t, err)

	got, err := FromRecordValue(int64(math.MinInt16), model.ColumnLong, model.KindInt16)
	require.NoError(t, err)
	assert.Equal(t, int16(math.MinInt16), got)
}

func TestObjectToRecord(t *testing.T) {
	total := int64(42)
	extra := `{"a":1}`
	s := &sample{
		User:   "alice",
		Active: true,
		Steps:  10,
		Total:  &total,
		Mood:   "HAPPY",
		Extra:  &extra,
	}
	s.SetID("r1")

	rec, err := ObjectToRecord(s, false)
	require.NoError(t, err)
	assert.Equal(t, "r1", rec["id"])
	assert.Equal(t, "alice", rec["user"])
	assert.Equal(t, int8(1), rec["active"])
	assert.Equal(t, int32(10), rec["steps"])
	assert.Equal(t, int64(42), rec["total"])
	assert.Equal(t, "HAPPY", rec["mood"])
	assert.Equal(t, `{"a":1}`, rec["extra"])
	assert.Equal(t, "0001-01-01", rec["birthday"])

	decoded, err := ObjectToRecord(s, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, decoded["extra"])

	s.Total = nil
	s.Extra = nil
	s.Mood = ""
	rec, err = ObjectToRecord(s, false)
	require.NoError(t, err)
	assert.Nil(t, rec["total"])
	assert.Nil(t, rec["extra"])
	assert.Nil(t, rec["mood"])
}

func TestRecordToObject(t *testing.T) {
	rec := model.Record{
		"ID":       "r2",
		"USER":     "bob",
		"active":   int64(1),
		"steps":    int64(5),
		"total":    nil,
		"mood":     ":(",
		"birthday": "2001-09-11",
		"wake":     "06:30:00",
		"visit":    "2024-01-02 03:04:05",
		"seen":     "2024-01-02T03:04:05.678Z",
		"extra":    map[string]any{"k": "v"},
	}

	obj, err := RecordToObject(rec, sampleType, true)
	require.NoError(t, err)
	s := obj.(*sample)
	assert.Equal(t, "r2", s.GetID())
	assert.Equal(t, "bob", s.User)
	assert.True(t, s.Active)
	assert.Equal(t, int32(5), s.Steps)
	assert.Nil(t, s.Total)
	assert.Equal(t, mood("SAD"), s.Mood)
	assert.Equal(t, civil.Date{Year: 2001, Month: time.September, Day: 11}, s.Birthday)
	assert.Equal(t, civil.Time{Hour: 6, Minute: 30}, s.Wake)
	assert.Equal(t, 5, s.Visit.Time.Second)
	assert.Equal(t, int64(1704164645678), s.Seen.UnixMilli())
	require.NotNil(t, s.Extra)
	assert.JSONEq(t, `{"k":"v"}`, *s.Extra)
}

func TestRecordToObject_FieldConversionError(t *testing.T) {
	_, err := RecordToObject(model.Record{"steps": "many"}, sampleType, false)
	require.Error(t, err)
	var fce *FieldConversionError
	require.ErrorAs(t, err, &fce)
	assert.Equal(t, "steps", fce.Field)

	_, err = RecordToObject(model.Record{"mood": "ANGRY"}, sampleType, false)
	require.ErrorAs(t, err, &fce)
	assert.Equal(t, "mood", fce.Field)

	_, err = RecordToObject(model.Record{"steps": int64(5_000_000_000)}, sampleType, false)
	require.ErrorAs(t, err, &fce)
	assert.Equal(t, "steps", fce.Field)
}

func TestFieldValue(t *testing.T) {
	s := &sample{User: "carol", UTCTime: 99}
	v, ok := FieldValue(s, "UTCTIME")
	assert.True(t, ok)
	assert.Equal(t, int64(99), v)

	_, ok = FieldValue(s, "missing")
	assert.False(t, ok)
}

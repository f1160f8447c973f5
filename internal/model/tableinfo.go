package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// TableInfo is the schema of a logical table as recorded in its metadata
type TableInfo struct {
	Fields          []string
	RecordType      *RecordType
	CompoundIndexes []Index
	SplitByUser     bool
}

// Clone returns a deep copy of the slices in info
func (i *TableInfo) Clone() *TableInfo {
	if i == nil {
		return nil
	}
	out := *i
	out.Fields = append([]string(nil), i.Fields...)
	out.CompoundIndexes = make([]Index, len(i.CompoundIndexes))
	for n, idx := range i.CompoundIndexes {
		out.CompoundIndexes[n] = Index{Name: idx.Name, Fields: append([]string(nil), idx.Fields...)}
	}
	return &out
}

// MetadataValues encodes info as metadata key -> value pairs, without the
// version.
func (i *TableInfo) MetadataValues() (map[string]string, error) {
	fields, err := json.Marshal(nonNil(i.Fields))
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	indexes := i.CompoundIndexes
	if indexes == nil {
		indexes = []Index{}
	}
	encodedIndexes, err := json.Marshal(indexes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode compound indexes: %w", err)
	}
	dataClass := ""
	if i.RecordType != nil {
		dataClass = i.RecordType.Name()
	}
	return map[string]string{
		MetaFields:          string(fields),
		MetaDataClass:       dataClass,
		MetaCompoundIndexes: string(encodedIndexes),
		MetaSplitByUser:     strconv.FormatBool(i.SplitByUser),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ParseTableInfo decodes the metadata rows of one table. A data class that
// is not registered in this process leaves RecordType nil.
func ParseTableInfo(metas []TableMetadata) (*TableInfo, error) {
	info := &TableInfo{}
	if m, ok := FindMetadata(metas, MetaFields); ok && m.Value != "" {
		if err := json.Unmarshal([]byte(m.Value), &info.Fields); err != nil {
			return nil, fmt.Errorf("invalid fields metadata of table %s: %w", m.Table, err)
		}
	}
	if m, ok := FindMetadata(metas, MetaDataClass); ok && m.Value != "" {
		info.RecordType, _ = LookupType(m.Value)
	}
	if m, ok := FindMetadata(metas, MetaCompoundIndexes); ok && m.Value != "" {
		if err := json.Unmarshal([]byte(m.Value), &info.CompoundIndexes); err != nil {
			return nil, fmt.Errorf("invalid compound index metadata of table %s: %w", m.Table, err)
		}
	}
	if m, ok := FindMetadata(metas, MetaSplitByUser); ok {
		info.SplitByUser = m.Value == "true"
	}
	return info, nil
}

// MetadataVersion returns the version recorded in metas
func MetadataVersion(metas []TableMetadata) (int, bool, error) {
	m, ok := FindMetadata(metas, MetaVersion)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(m.Value)
	if err != nil {
		return 0, true, fmt.Errorf("invalid version metadata of table %s: %q", m.Table, m.Value)
	}
	return v, true, nil
}

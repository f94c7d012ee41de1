package catalog

import "xeondb/internal/codec"

// ColumnDef is one column of a table's immutable schema.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is the ordered column list plus the designated primary key
// column name, fixed at CREATE TABLE time (no ALTER exists).
type Schema struct {
	Columns  []ColumnDef `json:"columns"`
	PKColumn string      `json:"primaryKey"`
}

func (s Schema) pkIndex() int {
	for i, c := range s.Columns {
		if c.Name == s.PKColumn {
			return i
		}
	}
	return -1
}

// PKTag reports the codec.Tag of the primary key column.
func (s Schema) PKTag() codec.Tag {
	i := s.pkIndex()
	if i < 0 {
		return codec.TagNull
	}
	tag, _ := codec.ParseColumnType(s.Columns[i].Type)
	return tag
}

// ColumnTag reports the declared type of name, or ok=false if name is
// not part of the schema.
func (s Schema) ColumnTag(name string) (tag codec.Tag, ok bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			tag, ok = codec.ParseColumnType(c.Type)
			return
		}
	}
	return codec.TagNull, false
}

// HasColumn reports whether name is part of the schema.
func (s Schema) HasColumn(name string) bool {
	_, ok := s.ColumnTag(name)
	return ok
}

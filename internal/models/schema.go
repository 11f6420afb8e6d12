package models

import "fmt"

// ColumnSchema describes one source column as read from the source catalog.
type ColumnSchema struct {
	Name       string  `json:"name"`
	SourceType string  `json:"source_type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	Precision  *int    `json:"precision,omitempty"`
	Scale      *int    `json:"scale,omitempty"`
	MaxLength  *int    `json:"max_length,omitempty"`
	Comment    *string `json:"comment,omitempty"`
}

// IndexSchema describes one secondary index column. Indexes are carried for
// inspection only; no DDL is generated from them.
type IndexSchema struct {
	Name     string `json:"name"`
	Column   string `json:"column"`
	Unique   bool   `json:"unique"`
	Sequence int    `json:"sequence"`
}

// TableSchema is the live schema of a source table.
type TableSchema struct {
	SourceDatabase string         `json:"source_database"`
	SourceTable    string         `json:"source_table"`
	Columns        []ColumnSchema `json:"columns"`
	PrimaryKeys    []string       `json:"primary_keys"`
	Indexes        []IndexSchema  `json:"indexes,omitempty"`
}

// Column returns the column with the given name.
func (s *TableSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// IsPrimaryKey reports whether name is part of the primary key.
func (s *TableSchema) IsPrimaryKey(name string) bool {
	for _, pk := range s.PrimaryKeys {
		if pk == name {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of the schema.
func (s *TableSchema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("table %s.%s has no columns", s.SourceDatabase, s.SourceTable)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if seen[c.Name] {
			return fmt.Errorf("table %s.%s: duplicate column %q", s.SourceDatabase, s.SourceTable, c.Name)
		}
		seen[c.Name] = true
	}
	for _, pk := range s.PrimaryKeys {
		if !seen[pk] {
			return fmt.Errorf("table %s.%s: primary key column %q is not a column", s.SourceDatabase, s.SourceTable, pk)
		}
	}
	return nil
}

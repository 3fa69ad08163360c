// Package drivers provides the storage backend implementations consumed by
// the load pipeline through the hl7bench.Sink interface, plus the shared
// table schema model and per-dialect SQL generation.
package drivers

import "fmt"

// ConflictStrategy defines how a backend handles duplicate primary keys
type ConflictStrategy int

const (
	// ConflictIgnore ignores conflicts and continues
	ConflictIgnore ConflictStrategy = iota
	// ConflictReplace replaces existing records
	ConflictReplace
	// ConflictUpdate updates existing records
	ConflictUpdate
)

// String returns the string representation of ConflictStrategy
func (cs ConflictStrategy) String() string {
	switch cs {
	case ConflictIgnore:
		return "IGNORE"
	case ConflictReplace:
		return "REPLACE"
	case ConflictUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Schema 表结构定义
type Schema struct {
	Name      string
	Columns   []string
	KeyColumn string
	Conflict  ConflictStrategy
}

// Validate 验证 Schema
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name cannot be empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema columns cannot be empty")
	}
	if s.KeyColumn == "" {
		return fmt.Errorf("schema key column cannot be empty")
	}
	found := false
	for _, c := range s.Columns {
		if c == s.KeyColumn {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("key column %s not in columns", s.KeyColumn)
	}
	return nil
}

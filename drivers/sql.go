package drivers

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rushairer/hl7bench"
)

// Dialect 数据库特定的批量插入 SQL 生成器接口
type Dialect interface {
	Name() string
	// InsertSQL 生成 rows 行的多值插入语句（含冲突处理子句）
	InsertSQL(schema *Schema, rows int) (string, error)
}

var (
	// DefaultMySQLDialect 默认 MySQL 方言
	DefaultMySQLDialect = NewMySQLDialect()
	// DefaultPostgresDialect 默认 PostgreSQL 方言
	DefaultPostgresDialect = NewPostgresDialect()
	// DefaultSQLiteDialect 默认 SQLite 方言
	DefaultSQLiteDialect = NewSQLiteDialect()
)

func cacheKey(columnCount, rows int) uint64 {
	return (uint64(columnCount) << 32) | uint64(rows)
}

// MySQLDialect 生成 ? 占位符 SQL
type MySQLDialect struct {
	placeholders sync.Map // key: (colCount<<32)|rows  value: string
}

func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

func (d *MySQLDialect) Name() string { return "mysql" }

// InsertSQL 生成MySQL批量插入SQL
func (d *MySQLDialect) InsertSQL(schema *Schema, rows int) (string, error) {
	if rows <= 0 {
		return "", hl7bench.ErrEmptyBatch
	}
	if err := schema.Validate(); err != nil {
		return "", err
	}
	columnsStr := strings.Join(schema.Columns, ", ")
	placeholders := d.questionPlaceholders(len(schema.Columns), rows)

	switch schema.Conflict {
	case ConflictIgnore:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES %s", schema.Name, columnsStr, placeholders), nil
	case ConflictReplace:
		return fmt.Sprintf("REPLACE INTO %s (%s) VALUES %s", schema.Name, columnsStr, placeholders), nil
	case ConflictUpdate:
		updatePairs := make([]string, 0, len(schema.Columns)-1)
		for _, col := range schema.Columns {
			if col == schema.KeyColumn {
				continue
			}
			updatePairs = append(updatePairs, fmt.Sprintf("%s = VALUES(%s)", col, col))
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
			schema.Name, columnsStr, placeholders, strings.Join(updatePairs, ", ")), nil
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", schema.Name, columnsStr, placeholders), nil
	}
}

func (d *MySQLDialect) questionPlaceholders(columnCount, rows int) string {
	key := cacheKey(columnCount, rows)
	if v, ok := d.placeholders.Load(key); ok {
		return v.(string)
	}
	singleRow := "(" + strings.Repeat("?, ", columnCount-1) + "?)"
	all := make([]string, rows)
	for i := range all {
		all[i] = singleRow
	}
	out := strings.Join(all, ", ")
	d.placeholders.Store(key, out)
	return out
}

// PostgresDialect 生成 $n 占位符 SQL
type PostgresDialect struct {
	placeholders sync.Map
}

func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

func (d *PostgresDialect) Name() string { return "postgres" }

// InsertSQL 生成PostgreSQL批量插入SQL
func (d *PostgresDialect) InsertSQL(schema *Schema, rows int) (string, error) {
	if rows <= 0 {
		return "", hl7bench.ErrEmptyBatch
	}
	if err := schema.Validate(); err != nil {
		return "", err
	}
	columnsStr := strings.Join(schema.Columns, ", ")
	placeholders := d.numberedPlaceholders(len(schema.Columns), rows)
	baseSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", schema.Name, columnsStr, placeholders)

	switch schema.Conflict {
	case ConflictIgnore:
		return baseSQL + " ON CONFLICT DO NOTHING", nil
	case ConflictReplace, ConflictUpdate:
		updatePairs := make([]string, 0, len(schema.Columns)-1)
		for _, col := range schema.Columns {
			if col == schema.KeyColumn {
				continue
			}
			updatePairs = append(updatePairs, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
			baseSQL, schema.KeyColumn, strings.Join(updatePairs, ", ")), nil
	default:
		return baseSQL, nil
	}
}

func (d *PostgresDialect) numberedPlaceholders(columnCount, rows int) string {
	key := cacheKey(columnCount, rows)
	if v, ok := d.placeholders.Load(key); ok {
		return v.(string)
	}
	var b strings.Builder
	idx := 1
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < columnCount; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(idx))
			idx++
		}
		b.WriteByte(')')
	}
	out := b.String()
	d.placeholders.Store(key, out)
	return out
}

// SQLiteDialect 生成 ? 占位符 SQL
type SQLiteDialect struct {
	placeholders sync.Map
}

func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

func (d *SQLiteDialect) Name() string { return "sqlite" }

// InsertSQL 生成SQLite批量插入SQL
func (d *SQLiteDialect) InsertSQL(schema *Schema, rows int) (string, error) {
	if rows <= 0 {
		return "", hl7bench.ErrEmptyBatch
	}
	if err := schema.Validate(); err != nil {
		return "", err
	}
	columnsStr := strings.Join(schema.Columns, ", ")
	placeholders := d.questionPlaceholders(len(schema.Columns), rows)

	switch schema.Conflict {
	case ConflictIgnore:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES %s", schema.Name, columnsStr, placeholders), nil
	case ConflictReplace:
		return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES %s", schema.Name, columnsStr, placeholders), nil
	case ConflictUpdate:
		updatePairs := make([]string, 0, len(schema.Columns)-1)
		for _, col := range schema.Columns {
			if col == schema.KeyColumn {
				continue
			}
			updatePairs = append(updatePairs, fmt.Sprintf("%s = excluded.%s", col, col))
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT(%s) DO UPDATE SET %s",
			schema.Name, columnsStr, placeholders, schema.KeyColumn, strings.Join(updatePairs, ", ")), nil
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", schema.Name, columnsStr, placeholders), nil
	}
}

func (d *SQLiteDialect) questionPlaceholders(columnCount, rows int) string {
	key := cacheKey(columnCount, rows)
	if v, ok := d.placeholders.Load(key); ok {
		return v.(string)
	}
	singleRow := "(" + strings.Repeat("?, ", columnCount-1) + "?)"
	all := make([]string, rows)
	for i := range all {
		all[i] = singleRow
	}
	out := strings.Join(all, ", ")
	d.placeholders.Store(key, out)
	return out
}

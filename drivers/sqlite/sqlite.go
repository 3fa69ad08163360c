// Package sqlite SQLite 后端，基于 mattn/go-sqlite3 + database/sql
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rushairer/hl7bench"
	"github.com/rushairer/hl7bench/drivers"
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS hl7_messages (
		fhir_id TEXT,
		rx_patient_id TEXT,
		source TEXT,
		cdc TEXT,
		created_at TIMESTAMP,
		created_by TEXT,
		updated_at TIMESTAMP,
		updated_by TEXT,
		load_date TIMESTAMP,
		checksum TEXT,
		patient_id TEXT,
		medical_record_number TEXT PRIMARY KEY,
		name_prefix TEXT,
		last_name TEXT,
		first_name TEXT,
		name_suffix TEXT,
		date_of_birth TEXT,
		gender_administrative TEXT,
		fhir_gender_administrative TEXT,
		gender_identity TEXT,
		fhir_gender_identity TEXT,
		marital_status TEXT,
		fhir_marital_status TEXT,
		race_display TEXT,
		fhir_race_display TEXT,
		ethnicity_display TEXT,
		fhir_ethnicity_display TEXT,
		sex_at_birth TEXT,
		is_pregnant TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hl7_messages_patient_id ON hl7_messages (patient_id)`,
}

const lookupSQL = `SELECT COUNT(*) FROM hl7_messages WHERE medical_record_number = ?`

const maxOrdinalSQL = `SELECT COALESCE(MAX(CAST(SUBSTR(patient_id, 9) AS INTEGER)), -1)
	FROM hl7_messages WHERE patient_id GLOB 'patient-[0-9]*'`

// NewSink 创建 SQLite Sink
// 文件路径来自环境变量 SQLITE_PATH，默认 ./hl7bench.db
// WAL 模式允许读写并发，写写冲突靠 busy_timeout 排队
func NewSink(poolSize int) (*drivers.SQLSink, error) {
	path := hl7bench.EnvString("SQLITE_PATH", "./hl7bench.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return drivers.NewSQLSink(
		"sqlite",
		db,
		drivers.DefaultSQLiteDialect,
		drivers.HL7Schema(),
		poolSize,
		schemaSQL,
		lookupSQL,
		maxOrdinalSQL,
	), nil
}

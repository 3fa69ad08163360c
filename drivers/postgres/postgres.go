// Package postgres PostgreSQL 后端，基于 lib/pq + database/sql
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
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

const lookupSQL = `SELECT COUNT(*) FROM hl7_messages WHERE medical_record_number = $1`

// maxOrdinalSQL patient_id 形如 patient-%010d，序号从第 9 个字符开始
const maxOrdinalSQL = `SELECT COALESCE(MAX(CAST(SUBSTRING(patient_id FROM 9) AS BIGINT)), -1)
	FROM hl7_messages WHERE patient_id ~ '^patient-[0-9]+$'`

// NewSink 创建 PostgreSQL Sink
// 连接参数来自环境变量：POSTGRES_HOST/POSTGRES_PORT/HL7BENCH_DB/HL7BENCH_USER/HL7BENCH_PASSWORD
// 压测写入走 synchronous_commit=off，换吞吐不换持久性
func NewSink(poolSize int) (*drivers.SQLSink, error) {
	host := hl7bench.EnvString("POSTGRES_HOST", "localhost")
	port := hl7bench.EnvInt("POSTGRES_PORT", 5432)
	dbname := hl7bench.EnvString("HL7BENCH_DB", "default")
	user := hl7bench.EnvString("HL7BENCH_USER", "default")
	password := hl7bench.EnvString("HL7BENCH_PASSWORD", "strongpassword")

	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable options='-c synchronous_commit=off'",
		host, port, dbname, user, password,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return drivers.NewSQLSink(
		"postgres",
		db,
		drivers.DefaultPostgresDialect,
		drivers.HL7Schema(),
		poolSize,
		schemaSQL,
		lookupSQL,
		maxOrdinalSQL,
	), nil
}

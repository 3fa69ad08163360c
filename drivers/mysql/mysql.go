// Package mysql MySQL 后端，基于 go-sql-driver/mysql + database/sql
package mysql

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rushairer/hl7bench"
	"github.com/rushairer/hl7bench/drivers"
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS hl7_messages (
		fhir_id VARCHAR(255),
		rx_patient_id VARCHAR(255),
		source LONGTEXT,
		cdc VARCHAR(255),
		created_at DATETIME(6),
		created_by VARCHAR(255),
		updated_at DATETIME(6),
		updated_by VARCHAR(255),
		load_date DATETIME(6),
		checksum VARCHAR(255),
		patient_id VARCHAR(255),
		medical_record_number VARCHAR(255) PRIMARY KEY,
		name_prefix VARCHAR(64),
		last_name VARCHAR(255),
		first_name VARCHAR(255),
		name_suffix VARCHAR(64),
		date_of_birth VARCHAR(64),
		gender_administrative VARCHAR(64),
		fhir_gender_administrative VARCHAR(64),
		gender_identity VARCHAR(64),
		fhir_gender_identity VARCHAR(64),
		marital_status VARCHAR(64),
		fhir_marital_status VARCHAR(64),
		race_display VARCHAR(255),
		fhir_race_display VARCHAR(64),
		ethnicity_display VARCHAR(255),
		fhir_ethnicity_display VARCHAR(64),
		sex_at_birth VARCHAR(64),
		is_pregnant VARCHAR(16),
		INDEX idx_hl7_messages_patient_id (patient_id)
	)`,
}

const lookupSQL = `SELECT COUNT(*) FROM hl7_messages WHERE medical_record_number = ?`

const maxOrdinalSQL = `SELECT COALESCE(MAX(CAST(SUBSTRING(patient_id, 9) AS SIGNED)), -1)
	FROM hl7_messages WHERE patient_id REGEXP '^patient-[0-9]+$'`

// NewSink 创建 MySQL Sink
// 连接参数来自环境变量：MYSQL_HOST/MYSQL_PORT/HL7BENCH_DB/HL7BENCH_USER/HL7BENCH_PASSWORD
func NewSink(poolSize int) (*drivers.SQLSink, error) {
	host := hl7bench.EnvString("MYSQL_HOST", "localhost")
	port := hl7bench.EnvInt("MYSQL_PORT", 3306)
	dbname := hl7bench.EnvString("HL7BENCH_DB", "default")
	user := hl7bench.EnvString("HL7BENCH_USER", "default")
	password := hl7bench.EnvString("HL7BENCH_PASSWORD", "strongpassword")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		user, password, host, port, dbname)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return drivers.NewSQLSink(
		"mysql",
		db,
		drivers.DefaultMySQLDialect,
		drivers.HL7Schema(),
		poolSize,
		schemaSQL,
		lookupSQL,
		maxOrdinalSQL,
	), nil
}

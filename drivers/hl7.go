package drivers

import (
	"encoding/json"
	"fmt"
	"time"
)

// TableName hl7_messages 目标表名
const TableName = "hl7_messages"

// KeyColumn 点查使用的业务主键列
const KeyColumn = "medical_record_number"

// HL7Columns hl7_messages 的列，顺序即插入参数顺序
var HL7Columns = []string{
	"fhir_id", "rx_patient_id", "source", "cdc", "created_at", "created_by",
	"updated_at", "updated_by", "load_date", "checksum", "patient_id",
	"medical_record_number", "name_prefix", "last_name", "first_name", "name_suffix",
	"date_of_birth", "gender_administrative", "fhir_gender_administrative",
	"gender_identity", "fhir_gender_identity", "marital_status", "fhir_marital_status",
	"race_display", "fhir_race_display", "ethnicity_display", "fhir_ethnicity_display",
	"sex_at_birth", "is_pregnant",
}

// jsonKeys HL7Columns 对应的消息体 JSON 字段名（created_at/updated_at 单独处理）
var jsonKeys = []string{
	"FHIR_ID", "RX_PATIENT_ID", "SOURCE", "CDC", "CREATED_AT", "CREATED_BY",
	"UPDATED_AT", "UPDATED_BY", "LOAD_DATE", "CHECKSUM", "PATIENT_ID",
	"MEDICAL_RECORD_NUMBER", "NAME_PREFIX", "LAST_NAME", "FIRST_NAME", "NAME_SUFFIX",
	"DATE_OF_BIRTH", "GENDER_ADMINISTRATIVE", "FHIR_GENDER_ADMINISTRATIVE",
	"GENDER_IDENTITY", "FHIR_GENDER_IDENTITY", "MARITAL_STATUS", "FHIR_MARITAL_STATUS",
	"RACE_DISPLAY", "FHIR_RACE_DISPLAY", "ETHNICITY_DISPLAY", "FHIR_ETHNICITY_DISPLAY",
	"SEX_AT_BIRTH", "IS_PREGNANT",
}

// HL7Schema hl7_messages 的 Schema（重复主键走更新路径，与生成器的重复记录配合）
func HL7Schema() *Schema {
	return &Schema{
		Name:      TableName,
		Columns:   HL7Columns,
		KeyColumn: KeyColumn,
		Conflict:  ConflictUpdate,
	}
}

// HL7RowValues 把消息体 JSON 按 HL7Columns 顺序展开成插入参数
// created_at/updated_at 缺省时用 now 补齐
func HL7RowValues(jsonMessage string, now time.Time) ([]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(jsonMessage), &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	values := make([]interface{}, len(HL7Columns))
	for i, key := range jsonKeys {
		v, ok := m[key]
		if !ok || v == nil {
			if key == "CREATED_AT" || key == "UPDATED_AT" {
				values[i] = now
				continue
			}
			values[i] = nil
			continue
		}
		values[i] = v
	}
	return values, nil
}

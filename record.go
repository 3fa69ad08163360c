package hl7bench

import (
	"encoding/json"
	"time"
)

// Record is one HL7 message row waiting to be inserted:
// (patient_id, message_type, json_message, is_original).
// A nil *Record on the insertion queue is the shutdown sentinel.
type Record struct {
	PatientID   string
	MessageType string
	JSONMessage string
	IsOriginal  bool
}

// LookupTask is handed to query workers after a successful flush.
// A nil *LookupTask on the query queue is the shutdown sentinel.
type LookupTask struct {
	MRN        string
	InsertedAt time.Time
}

// BusinessKey extracts MEDICAL_RECORD_NUMBER from the JSON message body.
// Returns ErrMissingKey when the field is absent or empty.
func (r *Record) BusinessKey() (string, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(r.JSONMessage), &m); err != nil {
		return "", err
	}
	mrn, _ := m["MEDICAL_RECORD_NUMBER"].(string)
	if mrn == "" {
		return "", ErrMissingKey
	}
	return mrn, nil
}

// RecordSource 合成记录生成器：从 startOrdinal 开始生成 count 条记录（含重复），
// 返回记录和下一次调用应使用的起始序号
type RecordSource interface {
	Generate(startOrdinal int64, count int) ([]*Record, int64)
}

// IdentifierShard 连续且互不重叠的序号区间，分配给单个 producer 或单个进程
type IdentifierShard struct {
	Start int64
	Count int64
}

// End returns the first ordinal after the shard.
func (s IdentifierShard) End() int64 {
	return s.Start + s.Count
}

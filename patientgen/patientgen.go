// Package patientgen 合成患者记录生成器：按可配置的重复比例生成带
// 单调序号主键的 HL7 患者消息，供压测流水线作为记录来源
package patientgen

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/rushairer/hl7bench"
)

// DefaultDuplicateRatio 默认重复记录比例
const DefaultDuplicateRatio = 0.25

// defaultSourceBytes SOURCE 字段填充体默认大小（可用 HL7BENCH_SOURCE_BYTES 覆盖）
const defaultSourceBytes = 2 * 1024 * 1024

const messageType = "PATIENT"

var firstNames = []string{"John", "Jane", "Bob", "Alice", "Charlie", "Diana", "Eve", "Frank", "Grace", "Henry"}
var lastNames = []string{"Smith", "Doe", "Brown", "Johnson", "Williams", "Jones", "Garcia", "Miller", "Davis", "Wilson"}
var genders = []string{"male", "female", "other"}

const fillerAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Source 实现 hl7bench.RecordSource
// 除 SOURCE 填充体外，相同参数的 Generate 结果是确定的，
// 同一次运行内重复调用不会产生重叠的序号
type Source struct {
	// DuplicateRatio 每批中重复记录的占比（重复记录复制同批早先的唯一记录，
	// is_original 置 false，作为独立的队列条目参与插入）
	DuplicateRatio float64

	filler string
}

// New 创建生成器，填充体大小从环境变量读取
func New(duplicateRatio float64) *Source {
	return NewWithFillerSize(duplicateRatio, hl7bench.EnvInt("HL7BENCH_SOURCE_BYTES", defaultSourceBytes))
}

// NewWithFillerSize 创建生成器并指定 SOURCE 填充体大小（测试用小值）
func NewWithFillerSize(duplicateRatio float64, fillerBytes int) *Source {
	if duplicateRatio < 0 || duplicateRatio >= 1 {
		duplicateRatio = DefaultDuplicateRatio
	}
	if fillerBytes < 1 {
		fillerBytes = 1
	}
	buf := make([]byte, fillerBytes)
	for i := range buf {
		buf[i] = fillerAlphabet[rand.Intn(len(fillerAlphabet))]
	}
	return &Source{DuplicateRatio: duplicateRatio, filler: string(buf)}
}

// UniqueCount 一批 total 条记录中唯一记录的条数
func (s *Source) UniqueCount(total int) int {
	n := int(float64(total) * (1 - s.DuplicateRatio))
	if n < 1 {
		n = 1
	}
	return n
}

// Generate 从 start 序号开始生成 total 条记录（唯一在前，重复在后），
// 返回记录和下一次调用的起始序号（只有唯一记录消耗序号）
func (s *Source) Generate(start int64, total int) ([]*hl7bench.Record, int64) {
	if total < 1 {
		return nil, start
	}
	nUnique := s.UniqueCount(total)
	if nUnique > total {
		nUnique = total
	}
	records := make([]*hl7bench.Record, 0, total)
	fields := make([]map[string]interface{}, 0, nUnique)

	for i := 0; i < nUnique; i++ {
		m := s.patientFields(start, i)
		body, _ := json.Marshal(m)
		records = append(records, &hl7bench.Record{
			PatientID:   m["PATIENT_ID"].(string),
			MessageType: messageType,
			JSONMessage: string(body),
			IsOriginal:  true,
		})
		fields = append(fields, m)
	}

	for j := 0; j < total-nUnique; j++ {
		m := fields[j%nUnique]
		dup := make(map[string]interface{}, len(m))
		for k, v := range m {
			dup[k] = v
		}
		dup["is_original"] = false
		body, _ := json.Marshal(dup)
		records = append(records, &hl7bench.Record{
			PatientID:   dup["PATIENT_ID"].(string),
			MessageType: messageType,
			JSONMessage: string(body),
			IsOriginal:  false,
		})
	}

	return records, start + int64(nUnique)
}

// patientFields 第 start+i 号患者的完整字段
func (s *Source) patientFields(start int64, i int) map[string]interface{} {
	ordinal := fmt.Sprintf("%010d", start+int64(i))
	pid := "patient-" + ordinal
	mrn := "MRN-" + ordinal
	fn := firstNames[i%len(firstNames)]
	ln := lastNames[i%len(lastNames)]
	gender := genders[i%3]

	namePrefix := "Mr"
	if i%2 != 0 {
		namePrefix = "Ms"
	}
	var nameSuffix interface{}
	if i%4 == 0 {
		nameSuffix = "Jr"
	}
	marital, fhirMarital := "Single", "S"
	if i%2 == 0 {
		marital, fhirMarital = "Married", "M"
	}
	race, fhirRace := "Black or African American", "2054-5"
	if i%3 == 0 {
		race, fhirRace = "White", "2106-3"
	}
	sexAtBirth := "female"
	if i%2 == 0 {
		sexAtBirth = "male"
	}

	return map[string]interface{}{
		"is_original":                true,
		"FHIR_ID":                    pid,
		"RX_PATIENT_ID":              "rx-" + pid,
		"SOURCE":                     s.filler,
		"PATIENT_ID":                 pid,
		"MEDICAL_RECORD_NUMBER":      mrn,
		"NAME_PREFIX":                namePrefix,
		"LAST_NAME":                  ln,
		"FIRST_NAME":                 fn,
		"NAME_SUFFIX":                nameSuffix,
		"DATE_OF_BIRTH":              fmt.Sprintf("%d-%02d-%02d", 1980+(i%40), (i%12)+1, (i%28)+1),
		"GENDER_ADMINISTRATIVE":      gender,
		"FHIR_GENDER_ADMINISTRATIVE": gender,
		"GENDER_IDENTITY":            capitalize(gender),
		"FHIR_GENDER_IDENTITY":       gender,
		"MARITAL_STATUS":             marital,
		"FHIR_MARITAL_STATUS":        fhirMarital,
		"RACE_DISPLAY":               race,
		"FHIR_RACE_DISPLAY":          fhirRace,
		"ETHNICITY_DISPLAY":          "Not Hispanic or Latino",
		"FHIR_ETHNICITY_DISPLAY":     "2186-5",
		"SEX_AT_BIRTH":               sexAtBirth,
		"IS_PREGNANT":                "false",
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}

package hl7bench_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rushairer/hl7bench"
)

// mockSink 可脚本化的内存 Sink，用于流水线测试
type mockSink struct {
	mu       sync.Mutex
	inserted []*hl7bench.Record
	batches  [][]*hl7bench.Record
	queried  map[string]int

	insertDelay time.Duration
	insertErr   error
	queryRows   int
	queryErr    error
	maxOrdinal  int64
}

func newMockSink() *mockSink {
	return &mockSink{queried: make(map[string]int), queryRows: 1, maxOrdinal: -1}
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Warmup(ctx context.Context) error { return nil }

func (m *mockSink) InitSchema(ctx context.Context) error { return nil }

func (m *mockSink) InsertBatch(ctx context.Context, records []*hl7bench.Record) (int, error) {
	if m.insertDelay > 0 {
		time.Sleep(m.insertDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	batch := make([]*hl7bench.Record, len(records))
	copy(batch, records)
	m.inserted = append(m.inserted, batch...)
	m.batches = append(m.batches, batch)
	return len(records), nil
}

func (m *mockSink) QueryByKey(ctx context.Context, mrn string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return 0, m.queryErr
	}
	m.queried[mrn]++
	return m.queryRows, nil
}

func (m *mockSink) MaxAssignedOrdinal(ctx context.Context) (int64, error) {
	return m.maxOrdinal, nil
}

func (m *mockSink) Close() error { return nil }

func (m *mockSink) insertedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

func (m *mockSink) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.batches))
	for i, b := range m.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func (m *mockSink) queriedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.queried {
		total += n
	}
	return total
}

// mockSource 生成带连续序号主键的极简记录
type mockSource struct{}

func (mockSource) Generate(start int64, count int) ([]*hl7bench.Record, int64) {
	records := make([]*hl7bench.Record, 0, count)
	for i := 0; i < count; i++ {
		pid := fmt.Sprintf("patient-%010d", start+int64(i))
		mrn := fmt.Sprintf("MRN-%010d", start+int64(i))
		records = append(records, &hl7bench.Record{
			PatientID:   pid,
			MessageType: "PATIENT",
			JSONMessage: fmt.Sprintf(`{"PATIENT_ID":%q,"MEDICAL_RECORD_NUMBER":%q}`, pid, mrn),
			IsOriginal:  true,
		})
	}
	return records, start + int64(count)
}

// testRecord 一条合法记录
func testRecord(ordinal int64, original bool) *hl7bench.Record {
	pid := fmt.Sprintf("patient-%010d", ordinal)
	mrn := fmt.Sprintf("MRN-%010d", ordinal)
	return &hl7bench.Record{
		PatientID:   pid,
		MessageType: "PATIENT",
		JSONMessage: fmt.Sprintf(`{"PATIENT_ID":%q,"MEDICAL_RECORD_NUMBER":%q}`, pid, mrn),
		IsOriginal:  original,
	}
}

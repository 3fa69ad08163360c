package hl7bench_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rushairer/hl7bench"
)

func TestInsertWorker_SizeTrigger(t *testing.T) {
	ctx := context.Background()
	sink := newMockSink()
	insertion := make(chan *hl7bench.Record, 100)
	stats := hl7bench.NewStatsState()

	pool := &hl7bench.InsertWorkerPool{
		Sink:      sink,
		Insertion: insertion,
		Stats:     stats,
		BatchSize: 10,
		BatchWait: time.Minute, // 只允许条数触发
	}
	pool.Start(ctx, 1)

	for i := int64(0); i < 30; i++ {
		insertion <- testRecord(i, true)
	}
	insertion <- nil
	if err := pool.Wait(); err != nil {
		t.Fatalf("pool failed: %v", err)
	}

	if got := sink.insertedCount(); got != 30 {
		t.Fatalf("inserted %d rows, want 30", got)
	}
	for i, size := range sink.batchSizes() {
		if size != 10 {
			t.Errorf("batch %d has %d rows, want full batches of 10", i, size)
		}
	}
}

func TestInsertWorker_TimeTrigger(t *testing.T) {
	ctx := context.Background()
	sink := newMockSink()
	insertion := make(chan *hl7bench.Record, 100)
	stats := hl7bench.NewStatsState()

	pool := &hl7bench.InsertWorkerPool{
		Sink:      sink,
		Insertion: insertion,
		Stats:     stats,
		BatchSize: 1000, // 条数永远到不了
		BatchWait: 50 * time.Millisecond,
	}
	pool.Start(ctx, 1)

	for i := int64(0); i < 5; i++ {
		insertion <- testRecord(i, true)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.insertedCount() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.insertedCount(); got != 5 {
		t.Fatalf("partial batch not flushed by wait timeout: %d rows inserted", got)
	}

	insertion <- nil
	if err := pool.Wait(); err != nil {
		t.Fatalf("pool failed: %v", err)
	}
}

func TestInsertWorker_SentinelFlushesPartial(t *testing.T) {
	ctx := context.Background()
	sink := newMockSink()
	insertion := make(chan *hl7bench.Record, 100)
	stats := hl7bench.NewStatsState()

	pool := &hl7bench.InsertWorkerPool{
		Sink:      sink,
		Insertion: insertion,
		Stats:     stats,
		BatchSize: 100,
		BatchWait: time.Minute,
	}
	pool.Start(ctx, 1)

	for i := int64(0); i < 7; i++ {
		insertion <- testRecord(i, i%2 == 0)
	}
	insertion <- nil
	if err := pool.Wait(); err != nil {
		t.Fatalf("pool failed: %v", err)
	}

	if got := sink.insertedCount(); got != 7 {
		t.Fatalf("sentinel must flush the partial batch: %d rows inserted, want 7", got)
	}
	snap := stats.Snapshot()
	if snap.Total != 7 || snap.Originals != 4 || snap.Duplicates != 3 {
		t.Errorf("snapshot %+v, want 7 total / 4 original / 3 duplicate", snap)
	}
}

func TestInsertWorker_CountConservation(t *testing.T) {
	ctx := context.Background()
	sink := newMockSink()
	insertion := make(chan *hl7bench.Record, 1000)
	stats := hl7bench.NewStatsState()

	const workers = 4
	const records = 997 // 故意不整除

	pool := &hl7bench.InsertWorkerPool{
		Sink:      sink,
		Insertion: insertion,
		Stats:     stats,
		BatchSize: 25,
		BatchWait: 20 * time.Millisecond,
	}
	pool.Start(ctx, workers)

	for i := int64(0); i < records; i++ {
		insertion <- testRecord(i, true)
	}
	for i := 0; i < workers; i++ {
		insertion <- nil
	}
	if err := pool.Wait(); err != nil {
		t.Fatalf("pool failed: %v", err)
	}

	if got := sink.insertedCount(); got != records {
		t.Fatalf("inserted %d rows, want exactly %d (no loss, no double count)", got, records)
	}
	if snap := stats.Snapshot(); snap.Total != records {
		t.Fatalf("stats counted %d rows, want %d", snap.Total, records)
	}
}

func TestInsertWorker_QueryHandoff(t *testing.T) {
	ctx := context.Background()
	sink := newMockSink()
	insertion := make(chan *hl7bench.Record, 100)
	query := make(chan *hl7bench.LookupTask, 100)
	stats := hl7bench.NewStatsState()

	pool := &hl7bench.InsertWorkerPool{
		Sink:             sink,
		Insertion:        insertion,
		Query:            query,
		Stats:            stats,
		BatchSize:        5,
		BatchWait:        time.Minute,
		QueriesPerRecord: 1,
	}
	pool.Start(ctx, 1)

	for i := int64(0); i < 5; i++ {
		insertion <- testRecord(i, true)
	}
	// 消息体非法，提取不到 MEDICAL_RECORD_NUMBER，但仍计入插入
	insertion <- &hl7bench.Record{PatientID: "patient-x", JSONMessage: "{not json"}
	insertion <- &hl7bench.Record{PatientID: "patient-y", JSONMessage: `{"PATIENT_ID":"p"}`}
	insertion <- nil
	if err := pool.Wait(); err != nil {
		t.Fatalf("pool failed: %v", err)
	}

	if got := sink.insertedCount(); got != 7 {
		t.Fatalf("inserted %d rows, want 7", got)
	}
	if got := len(query); got != 5 {
		t.Fatalf("%d lookup tasks enqueued, want 5 (malformed records are skipped)", got)
	}
}

func TestInsertWorker_AbortStopsSurvivingWorkers(t *testing.T) {
	ctx := context.Background()
	sink := newMockSink()
	sinkErr := errors.New("connection reset")
	sink.insertErr = sinkErr
	insertion := make(chan *hl7bench.Record, 10)
	stats := hl7bench.NewStatsState()

	abort := make(chan struct{})
	pool := &hl7bench.InsertWorkerPool{
		Sink:      sink,
		Insertion: insertion,
		Stats:     stats,
		BatchSize: 1,
		BatchWait: time.Minute,
		Abort:     abort,
		OnFatal:   func(error) { close(abort) },
	}
	pool.Start(ctx, 2)

	insertion <- testRecord(0, true)

	// 不发任何 sentinel：出错 worker 关闭 Abort 后，空闲的 worker 也必须退出
	done := make(chan error, 1)
	go func() { done <- pool.Wait() }()
	select {
	case err := <-done:
		if !errors.Is(err, sinkErr) {
			t.Errorf("Wait returned %v, want the sink error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("surviving workers did not exit after abort")
	}
}

func TestInsertWorker_FatalError(t *testing.T) {
	ctx := context.Background()
	sink := newMockSink()
	sinkErr := errors.New("connection reset")
	sink.insertErr = sinkErr
	insertion := make(chan *hl7bench.Record, 100)
	stats := hl7bench.NewStatsState()

	fatal := make(chan error, 1)
	pool := &hl7bench.InsertWorkerPool{
		Sink:      sink,
		Insertion: insertion,
		Stats:     stats,
		BatchSize: 2,
		BatchWait: time.Minute,
		OnFatal:   func(err error) { fatal <- err },
	}
	pool.Start(ctx, 1)

	insertion <- testRecord(0, true)
	insertion <- testRecord(1, true)

	select {
	case err := <-fatal:
		if !errors.Is(err, sinkErr) {
			t.Errorf("OnFatal got %v, want the sink error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal not invoked on insert failure")
	}

	if err := pool.Wait(); !errors.Is(err, sinkErr) {
		t.Errorf("Wait returned %v, want the sink error", err)
	}
	if snap := stats.Snapshot(); snap.Total != 0 {
		t.Errorf("failed batch must not be counted, got total %d", snap.Total)
	}
}

package hl7bench_test

import (
	"testing"
	"time"

	"github.com/rushairer/hl7bench"
)

func TestSplitRate(t *testing.T) {
	cases := []struct {
		rps, count int
		want       []int
	}{
		{1000, 4, []int{250, 250, 250, 250}},
		{1001, 4, []int{251, 250, 250, 250}},
		{10, 3, []int{4, 3, 3}},
		{2, 4, []int{1, 1, 0, 0}},
	}
	for _, c := range cases {
		got := hl7bench.SplitRate(c.rps, c.count)
		sum := 0
		for i, v := range got {
			sum += v
			if v != c.want[i] {
				t.Errorf("SplitRate(%d, %d) = %v, want %v", c.rps, c.count, got, c.want)
				break
			}
		}
		if sum != c.rps {
			t.Errorf("SplitRate(%d, %d) sums to %d", c.rps, c.count, sum)
		}
	}
}

func TestProducerShards_FixedCount(t *testing.T) {
	process := hl7bench.IdentifierShard{Start: 500, Count: 1001}
	shards := hl7bench.ProducerShards(process, 4)

	var total int64
	next := process.Start
	for i, s := range shards {
		if s.Start != next {
			t.Errorf("shard %d starts at %d, want %d (ranges must be contiguous and disjoint)", i, s.Start, next)
		}
		next = s.End()
		total += s.Count
	}
	if total != process.Count {
		t.Errorf("shard counts sum to %d, want %d", total, process.Count)
	}
	if shards[0].Count != 251 || shards[1].Count != 250 {
		t.Errorf("remainder should go to the first shards: %+v", shards)
	}
}

func TestProducerShards_DurationMode(t *testing.T) {
	process := hl7bench.IdentifierShard{Start: 42}
	shards := hl7bench.ProducerShards(process, 3)

	seen := map[int64]bool{}
	for _, s := range shards {
		if s.Count != 0 {
			t.Errorf("duration-mode shard should have no count limit: %+v", s)
		}
		if seen[s.Start] {
			t.Errorf("duplicate shard start %d", s.Start)
		}
		seen[s.Start] = true
	}
	if shards[0].Start != 42 {
		t.Errorf("first shard should start at the process start, got %d", shards[0].Start)
	}
	// 相邻起点间隔要远大于任何现实的单次运行产量
	if gap := shards[1].Start - shards[0].Start; gap < 1_000_000 {
		t.Errorf("stride %d too small to keep producers collision-free", gap)
	}
}

func TestProducer_FixedCount(t *testing.T) {
	queue := make(chan *hl7bench.Record, 1000)
	p := &hl7bench.Producer{
		Source:    mockSource{},
		Queue:     queue,
		TargetRPS: 100000,
		BatchHint: 64,
		Shard:     hl7bench.IdentifierShard{Start: 0, Count: 250},
		Abort:     make(chan struct{}),
	}
	emitted := p.Run(hl7bench.StopCondition{Count: 250})
	if emitted != 250 {
		t.Fatalf("emitted %d records, want 250", emitted)
	}
	if len(queue) != 250 {
		t.Fatalf("queue holds %d records, want 250", len(queue))
	}
	// 主键不重复
	seen := map[string]bool{}
	for i := 0; i < 250; i++ {
		rec := <-queue
		if seen[rec.PatientID] {
			t.Fatalf("duplicate patient id %s", rec.PatientID)
		}
		seen[rec.PatientID] = true
	}
}

func TestProducer_Deadline(t *testing.T) {
	queue := make(chan *hl7bench.Record, 10000)
	p := &hl7bench.Producer{
		Source:    mockSource{},
		Queue:     queue,
		TargetRPS: 1000,
		BatchHint: 100,
		Shard:     hl7bench.IdentifierShard{Start: 0},
		Abort:     make(chan struct{}),
	}
	start := time.Now()
	emitted := p.Run(hl7bench.StopCondition{Deadline: start.Add(200 * time.Millisecond)})
	elapsed := time.Since(start)

	if elapsed < 180*time.Millisecond || elapsed > time.Second {
		t.Errorf("run took %v, want about 200ms", elapsed)
	}
	// 200ms @ 1000rps 理想值 200 条，给调度抖动留宽裕余量
	if emitted < 50 || emitted > 400 {
		t.Errorf("emitted %d records in 200ms at 1000 rps", emitted)
	}
}

func TestProducer_Abort(t *testing.T) {
	queue := make(chan *hl7bench.Record, 1)
	abort := make(chan struct{})
	p := &hl7bench.Producer{
		Source:    mockSource{},
		Queue:     queue,
		TargetRPS: 100000,
		BatchHint: 10,
		Shard:     hl7bench.IdentifierShard{Start: 0},
		Abort:     abort,
	}

	done := make(chan int64, 1)
	go func() {
		done <- p.Run(hl7bench.StopCondition{Deadline: time.Now().Add(time.Minute)})
	}()

	// 队列容量 1 且无消费者，producer 很快阻塞在投递上；
	// 没有任何人排空队列，Abort 也必须能解除这次阻塞
	time.Sleep(50 * time.Millisecond)
	close(abort)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on the full queue did not stop after abort")
	}
}

func TestStopCondition(t *testing.T) {
	now := time.Now()

	countOnly := hl7bench.StopCondition{Count: 10}
	if countOnly.Reached(9, now) {
		t.Error("count condition reached too early")
	}
	if !countOnly.Reached(10, now) {
		t.Error("count condition not reached at the limit")
	}

	deadlineOnly := hl7bench.StopCondition{Deadline: now}
	if !deadlineOnly.Reached(0, now) {
		t.Error("deadline condition not reached at the deadline")
	}
	if deadlineOnly.Reached(0, now.Add(-time.Second)) {
		t.Error("deadline condition reached before the deadline")
	}
}

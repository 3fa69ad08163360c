package hl7bench_test

import (
	"context"
	"testing"
	"time"

	"github.com/rushairer/hl7bench"
)

func TestAggregator_LatestPerIndex(t *testing.T) {
	agg := hl7bench.NewAggregator()
	in := make(chan hl7bench.TaggedSnapshot, 16)

	in <- hl7bench.TaggedSnapshot{Index: 0, Stats: hl7bench.Snapshot{Total: 100, Originals: 80, Duplicates: 20}}
	in <- hl7bench.TaggedSnapshot{Index: 1, Stats: hl7bench.Snapshot{Total: 50, Originals: 40, Duplicates: 10}}
	in <- hl7bench.TaggedSnapshot{Index: 0, Stats: hl7bench.Snapshot{Total: 120, Originals: 95, Duplicates: 25}}
	agg.Drain(in)

	total := agg.Total()
	if total.Total != 170 {
		t.Fatalf("aggregated total %d, want 170 (latest snapshot per index)", total.Total)
	}

	// 进程 0 掉队后只发旧值不再更新，总量不会回退
	in <- hl7bench.TaggedSnapshot{Index: 1, Stats: hl7bench.Snapshot{Total: 60, Originals: 48, Duplicates: 12}}
	agg.Drain(in)
	total = agg.Total()
	if total.Total != 180 {
		t.Fatalf("aggregated total %d, want 180 (stale index 0 keeps its last value)", total.Total)
	}
	if total.Originals != 143 || total.Duplicates != 37 {
		t.Errorf("aggregated snapshot %+v", total)
	}
}

func TestAggregator_DrainEmptyChannel(t *testing.T) {
	agg := hl7bench.NewAggregator()
	in := make(chan hl7bench.TaggedSnapshot, 1)

	done := make(chan struct{})
	go func() {
		agg.Drain(in) // 空通道必须立即返回而不是阻塞
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain blocked on an empty channel")
	}
	if total := agg.Total(); total.Total != 0 {
		t.Errorf("empty aggregator total %d, want 0", total.Total)
	}
}

func TestProgressReporter_ForcesFinalSnapshot(t *testing.T) {
	stats := hl7bench.NewStatsState()
	stats.AddFlush(42, 30, 12, 0.1)

	got := make(chan hl7bench.TaggedSnapshot, 16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // 立即结束：周期还没到也必须发出终值快照

	hl7bench.RunProgressReporter(ctx, 3, stats, time.Hour, func(s hl7bench.TaggedSnapshot) { got <- s })

	select {
	case snap := <-got:
		if snap.Index != 3 {
			t.Errorf("snapshot tagged with index %d, want 3", snap.Index)
		}
		if snap.Stats.Total != 42 {
			t.Errorf("final snapshot total %d, want 42", snap.Stats.Total)
		}
	default:
		t.Fatal("no final snapshot sent on shutdown")
	}
}

func TestProgressReporter_FirstSnapshotComesEarly(t *testing.T) {
	stats := hl7bench.NewStatsState()
	got := make(chan hl7bench.TaggedSnapshot, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	go hl7bench.RunProgressReporter(ctx, 0, stats, time.Hour, func(s hl7bench.TaggedSnapshot) { got <- s })

	select {
	case <-got:
		// 首个快照 1 秒左右就要到，不用等满一个周期
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("first snapshot after %v, want about 1s", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first snapshot never arrived")
	}
}

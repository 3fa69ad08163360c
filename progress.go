package hl7bench

import (
	"context"
	"log"
	"time"
)

// DefaultProgressInterval 进度输出周期
const DefaultProgressInterval = 5 * time.Second

// firstSnapshotDelay 转发模式下首个快照的延迟，让控制进程尽早显示非零进度
const firstSnapshotDelay = time.Second

// logProgressBlock 输出一个进度块：先本周期增量，再累计值
func logProgressBlock(prev, cur Snapshot) {
	intervalTotal := cur.Total - prev.Total
	intervalOriginals := cur.Originals - prev.Originals
	intervalDuplicates := cur.Duplicates - prev.Duplicates
	intervalInsertLatency := cur.InsertLatencySec - prev.InsertLatencySec
	intervalQueries := cur.Queries - prev.Queries
	intervalQueryLatency := cur.QueryLatencySec - prev.QueryLatencySec

	intervalAvgInsertMs := 0.0
	if intervalTotal > 0 {
		intervalAvgInsertMs = intervalInsertLatency / float64(intervalTotal) * 1000
	}
	cumulativeAvgInsertMs := 0.0
	if cur.Total > 0 {
		cumulativeAvgInsertMs = cur.InsertLatencySec / float64(cur.Total) * 1000
	}
	intervalAvgQueryMs := 0.0
	if intervalQueries > 0 {
		intervalAvgQueryMs = intervalQueryLatency / float64(intervalQueries) * 1000
	}
	cumulativeAvgQueryMs := 0.0
	if cur.Queries > 0 {
		cumulativeAvgQueryMs = cur.QueryLatencySec / float64(cur.Queries) * 1000
	}

	log.Println("---")
	log.Printf("Insert progress (this interval): %d total, %d original, %d duplicate, avg latency %.2f ms",
		intervalTotal, intervalOriginals, intervalDuplicates, intervalAvgInsertMs)
	log.Printf("Query progress (this interval): %d queries, avg latency %.2f ms", intervalQueries, intervalAvgQueryMs)
	log.Println("---")
	log.Printf("Insert progress (cumulative): %d total, %d original, %d duplicate, avg latency %.2f ms",
		cur.Total, cur.Originals, cur.Duplicates, cumulativeAvgInsertMs)
	log.Printf("Query progress (cumulative): %d queries, avg latency %.2f ms", cur.Queries, cumulativeAvgQueryMs)
}

// RunProgressLogger 单进程模式：按固定周期直接输出进度，直到 ctx 结束
func RunProgressLogger(ctx context.Context, stats *StatsState, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	var prev Snapshot
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur := stats.Snapshot()
		logProgressBlock(prev, cur)
		prev = cur
	}
}

// RunProgressReporter 多进程模式下运行在子进程内：
// 周期性把带进程序号的快照交给 send（首个快照 1s 后发出）；
// ctx 结束时强制发出最后一个快照，保证聚合端的末次输出反映真实终值
func RunProgressReporter(ctx context.Context, index int, stats *StatsState, interval time.Duration, send func(TaggedSnapshot)) {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	first := firstSnapshotDelay
	if interval < first {
		first = interval
	}

	final := func() {
		send(TaggedSnapshot{Index: index, Stats: stats.Snapshot()})
	}

	select {
	case <-ctx.Done():
		final()
		return
	case <-time.After(first):
	}
	send(TaggedSnapshot{Index: index, Stats: stats.Snapshot()})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final()
			return
		case <-ticker.C:
			send(TaggedSnapshot{Index: index, Stats: stats.Snapshot()})
		}
	}
}

// Aggregator 控制进程侧的跨进程聚合器
// 每个周期非阻塞排空快照通道，按进程序号保留最新快照，逐项求和后输出；
// 某个进程的快照迟到只会让它停留在上次值，总量不会回退
type Aggregator struct {
	last map[int]Snapshot
	prev Snapshot
}

// NewAggregator 创建聚合器
func NewAggregator() *Aggregator {
	return &Aggregator{last: make(map[int]Snapshot)}
}

// Drain 非阻塞取走所有已到达的快照，按进程序号保留最新一份
func (a *Aggregator) Drain(in <-chan TaggedSnapshot) {
	for {
		select {
		case snap, ok := <-in:
			if !ok {
				return
			}
			a.last[snap.Index] = snap.Stats
		default:
			return
		}
	}
}

// Total 当前所有进程最新快照的逐项和
func (a *Aggregator) Total() Snapshot {
	var total Snapshot
	for _, snap := range a.last {
		total = total.Add(snap)
	}
	return total
}

// Run 聚合循环：按周期输出聚合进度；ctx 结束后再排空一次并输出终值
func (a *Aggregator) Run(ctx context.Context, in <-chan TaggedSnapshot, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// 子进程退出前都强制发过终值快照，这里补一次末尾输出
			a.Drain(in)
			total := a.Total()
			logProgressBlock(a.prev, total)
			a.prev = total
			return
		case <-ticker.C:
			a.Drain(in)
			total := a.Total()
			logProgressBlock(a.prev, total)
			a.prev = total
		}
	}
}

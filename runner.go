package hl7bench

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// RunResult 一次运行（单进程或单个子进程）的最终结果
type RunResult struct {
	Elapsed time.Duration
	Final   Snapshot
}

// RunLoad 运行完整的单进程流水线：producers → 插入队列 → 插入工作池 →
// (Sink 写入, 查询队列) → 查询工作池 → 统计/进度
//
// barrier 非 nil 时在连接池预热完成之后、计时与生产开始之前调用，
// 多进程编排用它对齐所有子进程的起跑时刻；
// report 非 nil 时进度走跨进程转发（子进程模式），否则直接输出日志
func RunLoad(
	ctx context.Context,
	cfg RunConfig,
	sink Sink,
	source RecordSource,
	metrics MetricsReporter,
	barrier func() error,
	report func(TaggedSnapshot),
) (RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}

	// 队列容量相对 worker 数和批大小留足余量，背压只在下游真正变慢时出现
	insertionQueueMax := max3(cfg.Workers*8, cfg.BatchSize*cfg.Workers*2, cfg.TargetRPS*4)
	queryQueueMax := max3(cfg.Workers*4, cfg.BatchSize*cfg.Workers*4, cfg.TargetRPS*4)
	insertionQueue := make(chan *Record, insertionQueueMax)
	queryQueue := make(chan *LookupTask, queryQueueMax)

	stats := NewStatsState()

	log.Printf("Connecting to %s (workers=%d, producers=%d, batch_size=%d, batch_wait_sec=%.1f, duration=%.1fs, target_rps=%d, queries_per_record=%d, query_delay=%.0fms)",
		sink.Name(), cfg.Workers, cfg.Producers, cfg.BatchSize, cfg.BatchWaitSec, cfg.DurationSec, cfg.TargetRPS, cfg.QueriesPerRecord, cfg.QueryDelaySec*1000)

	if err := sink.Warmup(ctx); err != nil {
		return RunResult{}, fmt.Errorf("warmup %s: %w", sink.Name(), err)
	}
	if !cfg.SkipSchemaInit {
		if err := sink.InitSchema(ctx); err != nil {
			return RunResult{}, fmt.Errorf("init schema %s: %w", sink.Name(), err)
		}
	}

	ordinalStart := cfg.OrdinalStart
	if ordinalStart < 0 {
		maxOrdinal, err := sink.MaxAssignedOrdinal(ctx)
		if err != nil {
			return RunResult{}, fmt.Errorf("max assigned ordinal: %w", err)
		}
		ordinalStart = maxOrdinal + 1
		if ordinalStart < 0 {
			ordinalStart = 0
		}
		log.Printf("Producers starting from patient counter %d (max in DB: %d)", ordinalStart, maxOrdinal)
	}

	// 起跑屏障：池已预热，连接建立开销不进入计时窗口
	if barrier != nil {
		if err := barrier(); err != nil {
			return RunResult{}, fmt.Errorf("start barrier: %w", err)
		}
	}

	runStart := time.Now()

	progressCtx, stopProgress := context.WithCancel(context.Background())
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		if report != nil {
			RunProgressReporter(progressCtx, cfg.ProcessIndex, stats, cfg.ProgressInterval, report)
		} else {
			RunProgressLogger(progressCtx, stats, cfg.ProgressInterval)
		}
	}()

	abort := make(chan struct{})
	var abortOnce sync.Once

	insertPool := &InsertWorkerPool{
		Sink:             sink,
		Insertion:        insertionQueue,
		Query:            queryQueue,
		Stats:            stats,
		Metrics:          metrics,
		BatchSize:        cfg.BatchSize,
		BatchWait:        cfg.BatchWait(),
		QueriesPerRecord: cfg.QueriesPerRecord,
		Abort:            abort,
		OnFatal: func(err error) {
			abortOnce.Do(func() { close(abort) })
		},
	}
	insertPool.Start(ctx, cfg.Workers)

	runQueryWorkers := cfg.QueriesPerRecord > 0
	var queryPool *QueryWorkerPool
	if runQueryWorkers {
		queryPool = &QueryWorkerPool{
			Sink:             sink,
			Tasks:            queryQueue,
			Stats:            stats,
			Metrics:          metrics,
			QueriesPerRecord: cfg.QueriesPerRecord,
			Delay:            time.Duration(cfg.QueryDelaySec * float64(time.Second)),
		}
		queryPool.Start(ctx, cfg.Workers)
	}

	// 固定条数模式按份额连续切分序号区间；时长模式大步长错开
	processShard := IdentifierShard{Start: ordinalStart, Count: cfg.TotalRecords}
	shards := ProducerShards(processShard, cfg.Producers)
	rates := SplitRate(cfg.TargetRPS, cfg.Producers)

	var deadline time.Time
	if cfg.TotalRecords == 0 {
		deadline = runStart.Add(time.Duration(cfg.DurationSec * float64(time.Second)))
	}

	var producerWg sync.WaitGroup
	for i := 0; i < cfg.Producers; i++ {
		// rates[i] >= 1 已由配置校验保证；固定条数模式下空份额的 producer 无事可做
		if cfg.TotalRecords > 0 && shards[i].Count <= 0 {
			continue
		}
		p := &Producer{
			Source:    source,
			Queue:     insertionQueue,
			TargetRPS: rates[i],
			BatchHint: cfg.PatientCount,
			Shard:     shards[i],
			Abort:     abort,
		}
		stop := StopCondition{Deadline: deadline, Count: shards[i].Count}
		producerWg.Add(1)
		go func() {
			defer producerWg.Done()
			p.Run(stop)
		}()
	}
	producerWg.Wait()

	// sentinel 统一由这里发送，每个 worker 恰好一个，多 producer 也不会重复发；
	// 失败路径上 worker 已经全部经 Abort 退出，sentinel 投递不能卡在满队列上
	for i := 0; i < cfg.Workers; i++ {
		select {
		case insertionQueue <- nil:
		case <-abort:
		}
	}
	insertErr := insertPool.Wait()

	// 插入侧已全部排空后才向查询队列发 sentinel，不会有 LookupTask 被丢弃
	if runQueryWorkers {
		for i := 0; i < cfg.Workers; i++ {
			queryQueue <- nil
		}
		queryPool.Wait()
	}

	stopProgress()
	progressWg.Wait()

	elapsed := time.Since(runStart)
	final := stats.Snapshot()
	logSummary(sink.Name(), cfg, elapsed, final)

	if insertErr != nil {
		return RunResult{Elapsed: elapsed, Final: final}, fmt.Errorf("insert worker: %w", insertErr)
	}
	return RunResult{Elapsed: elapsed, Final: final}, nil
}

// logSummary 干净停机时固定输出的最终摘要
func logSummary(database string, cfg RunConfig, elapsed time.Duration, final Snapshot) {
	elapsedSec := elapsed.Seconds()
	actualRPS := 0.0
	if elapsedSec > 0 {
		actualRPS = float64(final.Total) / elapsedSec
	}

	log.Printf("Run finished: %d rows inserted (%d original, %d duplicate) in %.2fs (%.1f rows/sec, target %d)",
		final.Total, final.Originals, final.Duplicates, elapsedSec, actualRPS, cfg.TargetRPS)
	log.Printf("Database: %s", database)
	log.Printf("Duration: %.2fs | Workers: %d | Rows inserted: %d (%d original, %d duplicate)",
		elapsedSec, cfg.Workers, final.Total, final.Originals, final.Duplicates)
	log.Printf("Actual rate: %.1f rows/sec (target %d)", actualRPS, cfg.TargetRPS)
	if final.Total > 0 {
		log.Printf("Insert latency: avg %.2f ms/row", final.InsertLatencySec/float64(final.Total)*1000)
	}
	if final.Queries > 0 {
		log.Printf("Queries: %d executed (avg latency %.2f ms)", final.Queries, final.QueryLatencySec/float64(final.Queries)*1000)
	}
}

func max3(a, b, c int) int {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}

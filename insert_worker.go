package hl7bench

import (
	"context"
	"log"
	"sync"
	"time"
)

// pollSlice 批次等待的轮询片，严格小于 batch-wait，空闲队列不会把刷盘计时器
// 压在一次长阻塞等待后面
const pollSlice = 5 * time.Millisecond

// InsertWorkerPool 插入工作池：从插入队列攒批，按 条数 或 时间 双触发刷盘
type InsertWorkerPool struct {
	Sink             Sink
	Insertion        <-chan *Record
	Query            chan<- *LookupTask
	Stats            *StatsState
	Metrics          MetricsReporter
	BatchSize        int
	BatchWait        time.Duration
	QueriesPerRecord int

	// Abort 关闭后所有 worker 不等 sentinel 直接退出（可为 nil）
	// 某个 worker 致命出错后队列可能再无人排空，存活的 worker 靠它解除阻塞
	Abort <-chan struct{}

	// OnFatal 首个致命写入错误的回调（可为 nil），runner 用它提前终止生产
	OnFatal func(error)

	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

// Start 启动 n 个 worker goroutine
func (p *InsertWorkerPool) Start(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.runWorker(ctx); err != nil {
				p.errOnce.Do(func() {
					p.err = err
					if p.OnFatal != nil {
						p.OnFatal(err)
					}
				})
			}
		}()
	}
}

// Wait 等待所有 worker 退出，返回首个致命错误
// 所有 worker 退出即意味着插入队列已被完全排空（sentinel 在所有记录之后入队）
func (p *InsertWorkerPool) Wait() error {
	p.wg.Wait()
	return p.err
}

// runWorker 单个 worker 循环
// 刷盘触发条件：缓冲达到 BatchSize，或最早一条缓冲记录的等待时间超过 BatchWait；
// 收到 sentinel（nil）时刷掉残批后退出。写入失败对本 worker 是致命的，
// 错误向上传播终止整个运行，不在流水线内重试
func (p *InsertWorkerPool) runWorker(ctx context.Context) error {
	var batch []*Record
	var batchStart time.Time
	for {
		timeout := pollSlice
		if len(batch) > 0 {
			if left := p.BatchWait - time.Since(batchStart); left < timeout {
				timeout = left
			}
			if timeout < time.Millisecond {
				timeout = time.Millisecond
			}
		}

		select {
		case <-p.Abort:
			// 运行已在失败路径上，残批不再写入
			return nil
		case rec := <-p.Insertion:
			if rec == nil {
				if len(batch) > 0 {
					return p.flush(ctx, batch)
				}
				return nil
			}
			if len(batch) == 0 {
				batchStart = time.Now()
			}
			batch = append(batch, rec)
			if len(batch) >= p.BatchSize {
				if err := p.flush(ctx, batch); err != nil {
					return err
				}
				batch = nil
			}
		case <-time.After(timeout):
			if len(batch) > 0 && time.Since(batchStart) >= p.BatchWait {
				if err := p.flush(ctx, batch); err != nil {
					return err
				}
				batch = nil
			}
		}
	}
}

// flush 写入一批并在同一临界区内更新全部计数，读取方不会看到撕裂的中间值
func (p *InsertWorkerPool) flush(ctx context.Context, batch []*Record) error {
	t0 := time.Now()
	n, err := p.Sink.InsertBatch(ctx, batch)
	latency := time.Since(t0)
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.ObserveBatch(len(batch), latency, "fail")
		}
		log.Printf("insert worker: InsertBatch failed (%d rows): %v", len(batch), err)
		return err
	}

	originals := 0
	for _, rec := range batch {
		if rec.IsOriginal {
			originals++
		}
	}
	p.Stats.AddFlush(n, originals, n-originals, latency.Seconds())
	if p.Metrics != nil {
		p.Metrics.ObserveBatch(n, latency, "success")
		p.Metrics.SetQueueLengths(len(p.Insertion), len(p.Query))
	}

	if p.QueriesPerRecord > 0 {
		insertedAt := time.Now()
		for _, task := range p.lookupTasks(batch, insertedAt) {
			p.Query <- task
		}
	}
	return nil
}

// lookupTasks 从批次记录提取 MEDICAL_RECORD_NUMBER
// 解析失败或字段为空的记录记日志后跳过（该行已计入插入量，只是不做校验查询）
func (p *InsertWorkerPool) lookupTasks(batch []*Record, insertedAt time.Time) []*LookupTask {
	tasks := make([]*LookupTask, 0, len(batch))
	for _, rec := range batch {
		mrn, err := rec.BusinessKey()
		if err != nil {
			log.Printf("query queue: could not get MEDICAL_RECORD_NUMBER from record, skipping: %v", err)
			if p.Metrics != nil {
				p.Metrics.IncAnomaly("malformed_key")
			}
			continue
		}
		tasks = append(tasks, &LookupTask{MRN: mrn, InsertedAt: insertedAt})
	}
	return tasks
}

package hl7bench

import (
	"context"
	"log"
	"sync"
	"time"
)

// QueryWorkerPool 查询工作池：对已插入记录做主键点查，验证可见性
type QueryWorkerPool struct {
	Sink             Sink
	Tasks            <-chan *LookupTask
	Stats            *StatsState
	Metrics          MetricsReporter
	QueriesPerRecord int

	// Delay 固定读延迟，模拟读己之写的陈旧窗口：
	// 在 插入时刻+Delay 之前不发起查询
	Delay time.Duration

	wg sync.WaitGroup
}

// Start 启动 n 个 worker goroutine
func (p *QueryWorkerPool) Start(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx)
		}()
	}
}

// Wait 等待所有 worker 退出
func (p *QueryWorkerPool) Wait() {
	p.wg.Wait()
}

// runWorker 单个 worker 循环，收到 sentinel（nil）退出
// 点查返回行数不为 1 记为一致性异常：记日志、继续运行，
// 这是被测后端一致性行为的观测信号，不是压测器自身的故障
func (p *QueryWorkerPool) runWorker(ctx context.Context) {
	for task := range p.Tasks {
		if task == nil {
			return
		}
		if p.Delay > 0 {
			deadline := task.InsertedAt.Add(p.Delay)
			if wait := time.Until(deadline); wait > 0 {
				time.Sleep(wait)
			}
		}
		t0 := time.Now()
		completed := 0
		for i := 0; i < p.QueriesPerRecord; i++ {
			n, err := p.Sink.QueryByKey(ctx, task.MRN)
			if err != nil {
				log.Printf("query worker: lookup failed for MEDICAL_RECORD_NUMBER=%s: %v", task.MRN, err)
				continue
			}
			completed++
			if n != 1 {
				log.Printf("query by primary key returned %d rows for MEDICAL_RECORD_NUMBER=%s (expected 1)", n, task.MRN)
				if p.Metrics != nil {
					p.Metrics.IncAnomaly("row_count")
				}
			}
		}
		// 失败的点查不计入查询量，否则平均时延会被拉低
		if completed > 0 {
			latency := time.Since(t0)
			p.Stats.AddQueries(completed, latency.Seconds())
			if p.Metrics != nil {
				p.Metrics.ObserveQueries(completed, latency)
			}
		}
	}
}

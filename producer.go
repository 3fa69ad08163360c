package hl7bench

import (
	"time"
)

// sleepSlice producer 等待下一次发射时的最大睡眠片，保持对停止条件的响应
const sleepSlice = time.Millisecond

// StopCondition 统一的生产终止条件：时长到期或条数达到，先到者生效
// Deadline 为零值表示不限时；Count 为 0 表示不限条数（二者不可同时为空）
type StopCondition struct {
	Deadline time.Time
	Count    int64
}

// Reached 报告在 emitted 条、时刻 now 时是否应当停止
func (sc StopCondition) Reached(emitted int64, now time.Time) bool {
	if sc.Count > 0 && emitted >= sc.Count {
		return true
	}
	if !sc.Deadline.IsZero() && !now.Before(sc.Deadline) {
		return true
	}
	return false
}

// Producer 按目标速率向插入队列投递记录
// 不负责发送关闭 sentinel：多 producer 场景下 sentinel 必须由 runner 统一发送一次
type Producer struct {
	Source    RecordSource
	Queue     chan<- *Record
	TargetRPS int

	// BatchHint 每次向 Source 请求的记录条数（patient-count）
	BatchHint int

	// Shard 本 producer 独占的序号区间，防止与其他 producer/进程生成重复主键
	Shard IdentifierShard

	// Abort 关闭后提前终止生产（下游发生致命写入错误时由 runner 触发）
	Abort <-chan struct{}
}

// Run 以漂移校正的节拍发射记录直到 stop 满足
// 理想发射时刻 = 上一时刻 + 1/rate；落后时立即发射并把节拍重新对齐到当前时刻，
// 不把积压折算成突发；提前时按短睡眠片等待，保持可被队列背压阻塞的粒度
func (p *Producer) Run(stop StopCondition) int64 {
	if p.TargetRPS <= 0 {
		return 0
	}
	interval := time.Duration(float64(time.Second) / float64(p.TargetRPS))
	cursor := p.Shard.Start
	var pending []*Record
	var emitted int64

	nextPutAt := time.Now()
	for {
		select {
		case <-p.Abort:
			return emitted
		default:
		}
		now := time.Now()
		if stop.Reached(emitted, now) {
			return emitted
		}
		if now.Before(nextPutAt) {
			wait := time.Until(nextPutAt)
			if wait > sleepSlice {
				wait = sleepSlice
			}
			time.Sleep(wait)
			continue
		}
		if len(pending) == 0 {
			pending, cursor = p.Source.Generate(cursor, p.BatchHint)
			if len(pending) == 0 {
				return emitted
			}
		}
		rec := pending[0]
		pending = pending[1:]
		// 队列满且下游已致命出错时没有消费者，投递本身也必须能被 Abort 打断
		select {
		case p.Queue <- rec:
		case <-p.Abort:
			return emitted
		}
		emitted++
		nextPutAt = nextPutAt.Add(interval)
		if nextPutAt.Before(now) {
			nextPutAt = now.Add(interval)
		}
	}
}

// ProducerShards 把进程的序号区间切给 producerCount 个 producer
// 固定条数模式下按份额连续切分；时长模式下区间大小未知，按大步长错开
func ProducerShards(processShard IdentifierShard, producerCount int) []IdentifierShard {
	shards := make([]IdentifierShard, producerCount)
	if processShard.Count > 0 {
		shares := SplitEvenly(processShard.Count, producerCount)
		starts := PrefixStarts(processShard.Start, shares)
		for i := range shards {
			shards[i] = IdentifierShard{Start: starts[i], Count: shares[i]}
		}
		return shards
	}
	// 大步长错开，时长模式下单个 producer 不会消耗到下一个起点
	const stride = 10_000_000
	for i := range shards {
		shards[i] = IdentifierShard{Start: processShard.Start + int64(i)*stride}
	}
	return shards
}

// SplitRate 把目标速率切给 count 个 producer，总和严格等于 targetRPS
func SplitRate(targetRPS, count int) []int {
	rates := make([]int, count)
	base := targetRPS / count
	remainder := targetRPS % count
	for i := range rates {
		rates[i] = base
		if i < remainder {
			rates[i]++
		}
	}
	return rates
}

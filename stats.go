package hl7bench

import "sync"

// Snapshot 单进程统计快照，进程生命周期内逐项单调不减
type Snapshot struct {
	Total            int64   `json:"total"`
	Originals        int64   `json:"originals"`
	Duplicates       int64   `json:"duplicates"`
	InsertLatencySec float64 `json:"insert_latency_sec"`
	Queries          int64   `json:"queries"`
	QueryLatencySec  float64 `json:"query_latency_sec"`
}

// Add returns the elementwise sum of two snapshots.
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{
		Total:            s.Total + o.Total,
		Originals:        s.Originals + o.Originals,
		Duplicates:       s.Duplicates + o.Duplicates,
		InsertLatencySec: s.InsertLatencySec + o.InsertLatencySec,
		Queries:          s.Queries + o.Queries,
		QueryLatencySec:  s.QueryLatencySec + o.QueryLatencySec,
	}
}

// TaggedSnapshot 跨进程上报时附带进程序号的快照
type TaggedSnapshot struct {
	Index int      `json:"index"`
	Stats Snapshot `json:"stats"`
}

// StatsState 进程内共享计数器
// 写入计数与查询计数各自一把锁；同一把锁内的字段一次性更新，
// 读取方持同一把锁拿到一致快照，不会观察到撕裂的中间值
type StatsState struct {
	insertedMu       sync.Mutex
	total            int64
	originals        int64
	duplicates       int64
	insertLatencySec float64

	queriesMu       sync.Mutex
	queries         int64
	queryLatencySec float64
}

// NewStatsState 创建空的统计状态
func NewStatsState() *StatsState {
	return &StatsState{}
}

// AddFlush 记录一次成功的批量写入
func (s *StatsState) AddFlush(inserted, originals, duplicates int, latencySec float64) {
	s.insertedMu.Lock()
	s.total += int64(inserted)
	s.originals += int64(originals)
	s.duplicates += int64(duplicates)
	s.insertLatencySec += latencySec
	s.insertedMu.Unlock()
}

// AddQueries 记录一组点查
func (s *StatsState) AddQueries(count int, latencySec float64) {
	s.queriesMu.Lock()
	s.queries += int64(count)
	s.queryLatencySec += latencySec
	s.queriesMu.Unlock()
}

// Snapshot 读取当前一致快照
func (s *StatsState) Snapshot() Snapshot {
	var snap Snapshot
	s.insertedMu.Lock()
	snap.Total = s.total
	snap.Originals = s.originals
	snap.Duplicates = s.duplicates
	snap.InsertLatencySec = s.insertLatencySec
	s.insertedMu.Unlock()
	s.queriesMu.Lock()
	snap.Queries = s.queries
	snap.QueryLatencySec = s.queryLatencySec
	s.queriesMu.Unlock()
	return snap
}

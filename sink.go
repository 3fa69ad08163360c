package hl7bench

import (
	"context"
	"time"
)

// Sink 存储后端能力接口 - 所有数据库后端的统一入口
// 在启动时根据 -database 选择一次具体实现，流水线内部不做任何后端分支
type Sink interface {
	// Name 后端名称（postgres/mysql/sqlite/redis）
	Name() string

	// Warmup 预热连接池，在计时窗口开始前证明连通性
	Warmup(ctx context.Context) error

	// InitSchema 建表/建索引，幂等，可重复调用
	InitSchema(ctx context.Context) error

	// InsertBatch 批量写入 1..batchSize 条记录，返回写入行数
	InsertBatch(ctx context.Context, records []*Record) (int, error)

	// QueryByKey 按 MEDICAL_RECORD_NUMBER 点查，返回匹配行数（正常应为 0 或 1）
	QueryByKey(ctx context.Context, mrn string) (int, error)

	// MaxAssignedOrdinal 返回库中已用的最大患者序号，空库返回 -1，
	// 用于跨多次运行避免标识符冲突
	MaxAssignedOrdinal(ctx context.Context) (int64, error)

	// Close 关闭连接池
	Close() error
}

// MetricsReporter 性能监控报告器接口（可为 nil，表示不上报）
type MetricsReporter interface {
	// ObserveBatch 上报一次批量写入（status: success/fail）
	ObserveBatch(batchSize int, duration time.Duration, status string)

	// ObserveQueries 上报一组点查
	ObserveQueries(count int, duration time.Duration)

	// IncAnomaly 上报一次异常信号（kind: row_count/malformed_key）
	IncAnomaly(kind string)

	// SetQueueLengths 上报当前队列长度
	SetQueueLengths(insertion, query int)
}

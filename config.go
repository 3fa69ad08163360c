package hl7bench

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RunConfig 一次压测运行的全部配置，显式穿过各组件构造器，不使用进程级可变全局量
type RunConfig struct {
	Database         string
	DurationSec      float64
	BatchSize        int
	BatchWaitSec     float64
	Workers          int
	PatientCount     int
	TargetRPS        int
	Producers        int
	Processes        int
	QueriesPerRecord int
	QueryDelaySec    float64

	// TotalRecords > 0 表示固定条数模式（由编排器预先切分），否则按时长运行
	TotalRecords int64

	// OrdinalStart >= 0 表示调用方已指定起始序号；-1 表示从 Sink 查询最大序号推导
	OrdinalStart int64

	// ProcessIndex 子进程序号；-1 表示单进程或控制进程
	ProcessIndex int

	// SkipSchemaInit 多进程模式下控制进程已建表，子进程跳过
	SkipSchemaInit bool

	ProgressInterval time.Duration
	MetricsPort      int
}

// Validate 在任何流水线组件启动前做急切校验
func (c RunConfig) Validate() error {
	if c.BatchWaitSec <= 0 {
		return fmt.Errorf("%w: batch-wait-sec must be > 0", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch-size must be >= 1", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalidConfig)
	}
	if c.Producers < 1 {
		return fmt.Errorf("%w: producers must be >= 1", ErrInvalidConfig)
	}
	if c.Processes < 1 {
		return fmt.Errorf("%w: processes must be >= 1", ErrInvalidConfig)
	}
	if c.TargetRPS < 1 {
		return fmt.Errorf("%w: rows-per-second must be >= 1", ErrInvalidConfig)
	}
	// 速率按 进程×producer 均摊，份额不足 1 的 producer 无法消耗自己的记录份额
	if c.TargetRPS < c.Producers*c.Processes {
		return fmt.Errorf("%w: rows-per-second must be at least producers * processes (%d)", ErrInvalidConfig, c.Producers*c.Processes)
	}
	if c.PatientCount < 1 {
		return fmt.Errorf("%w: patient-count must be >= 1", ErrInvalidConfig)
	}
	if c.QueriesPerRecord < 0 {
		return fmt.Errorf("%w: queries-per-record must be >= 0", ErrInvalidConfig)
	}
	if c.QueryDelaySec < 0 {
		return fmt.Errorf("%w: query-delay must be >= 0", ErrInvalidConfig)
	}
	if c.TotalRecords == 0 && c.DurationSec <= 0 {
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidConfig)
	}
	if c.TotalRecords < 0 {
		return fmt.Errorf("%w: total records must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// BatchWait returns the partial-batch flush timeout as a duration.
func (c RunConfig) BatchWait() time.Duration {
	return time.Duration(c.BatchWaitSec * float64(time.Second))
}

// SplitEvenly 把 total 均分成 parts 份：基数 total/parts，
// 余数逐一分给前 total%parts 份，保证总和严格等于 total
func SplitEvenly(total int64, parts int) []int64 {
	shares := make([]int64, parts)
	base := total / int64(parts)
	remainder := total % int64(parts)
	for i := range shares {
		shares[i] = base
		if int64(i) < remainder {
			shares[i]++
		}
	}
	return shares
}

// PrefixStarts 按份额前缀和计算每份的起始序号，区间两两不相交
func PrefixStarts(base int64, shares []int64) []int64 {
	starts := make([]int64, len(shares))
	next := base
	for i, share := range shares {
		starts[i] = next
		next += share
	}
	return starts
}

// 环境变量解析辅助函数
func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseStringEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// EnvInt 供 drivers 包读取 host/port 等环境覆盖
func EnvInt(key string, defaultValue int) int { return parseIntEnv(key, defaultValue) }

// EnvString 供 drivers 包读取 host/port 等环境覆盖
func EnvString(key string, defaultValue string) string { return parseStringEnv(key, defaultValue) }

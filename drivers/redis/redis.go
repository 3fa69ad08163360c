// Package redis Redis 后端，基于 go-redis Pipeline
//
// 数据模型：
//   - hl7:patient:<MRN>  HASH，存消息体与主键字段
//   - hl7:ordinals       ZSET，member=patient_id score=患者序号，用于断点续跑
package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rushairer/hl7bench"
)

const (
	keyPrefix   = "hl7:patient:"
	ordinalsKey = "hl7:ordinals"
)

// Sink 直接实现 hl7bench.Sink，无需 SQL 方言层
// Redis 的 HSET 天然具备按键覆盖语义，重复 MRN 即为更新
type Sink struct {
	client *redis.Client
}

// NewSink 创建 Redis Sink
// 连接参数来自环境变量：REDIS_HOST/REDIS_PORT/HL7BENCH_PASSWORD
func NewSink(poolSize int) (*Sink, error) {
	host := hl7bench.EnvString("REDIS_HOST", "localhost")
	port := hl7bench.EnvInt("REDIS_PORT", 6379)
	password := hl7bench.EnvString("HL7BENCH_PASSWORD", "")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		PoolSize: poolSize,
	})
	return &Sink{client: client}, nil
}

func (s *Sink) Name() string { return "redis" }

// Warmup 探活
func (s *Sink) Warmup(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("Prewarmed redis connection pool")
	return nil
}

// InitSchema Redis 无建表步骤
func (s *Sink) InitSchema(ctx context.Context) error {
	return nil
}

// InsertBatch 用 Pipeline 批量 HSET，同时把患者序号记入 ZSET
func (s *Sink) InsertBatch(ctx context.Context, records []*hl7bench.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	pipeline := s.client.Pipeline()
	for _, rec := range records {
		mrn, err := rec.BusinessKey()
		if err != nil {
			return 0, err
		}
		pipeline.HSet(ctx, keyPrefix+mrn,
			"patient_id", rec.PatientID,
			"message_type", rec.MessageType,
			"json_message", rec.JSONMessage,
		)
		if ordinal, ok := patientOrdinal(rec.PatientID); ok {
			pipeline.ZAdd(ctx, ordinalsKey, redis.Z{Score: float64(ordinal), Member: rec.PatientID})
		}
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

// QueryByKey 按 MRN 点查，EXISTS 返回 0 或 1
func (s *Sink) QueryByKey(ctx context.Context, mrn string) (int, error) {
	n, err := s.client.Exists(ctx, keyPrefix+mrn).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// MaxAssignedOrdinal ZSET 中最大的患者序号，空集返回 -1
func (s *Sink) MaxAssignedOrdinal(ctx context.Context) (int64, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, ordinalsKey, 0, 0).Result()
	if err != nil {
		return -1, err
	}
	if len(zs) == 0 {
		return -1, nil
	}
	return int64(zs[0].Score), nil
}

// Close 关闭客户端
func (s *Sink) Close() error { return s.client.Close() }

// patientOrdinal 从 patient-%010d 解析序号
func patientOrdinal(patientID string) (int64, bool) {
	const prefix = "patient-"
	if !strings.HasPrefix(patientID, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(patientID[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

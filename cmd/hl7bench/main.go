// hl7bench 数据库写入压测与校验工具
//
// 单进程模式直接运行完整流水线；-processes > 1 时作为控制进程
// 重新 exec 自身派生子进程，用起跑屏障对齐计时窗口
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rushairer/hl7bench"
	"github.com/rushairer/hl7bench/drivers/mysql"
	"github.com/rushairer/hl7bench/drivers/postgres"
	"github.com/rushairer/hl7bench/drivers/redis"
	"github.com/rushairer/hl7bench/drivers/sqlite"
	"github.com/rushairer/hl7bench/monitoring"
	"github.com/rushairer/hl7bench/patientgen"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetOutput(os.Stdout)

	database := flag.String("database", "", "postgres, mysql, sqlite or redis (required)")
	duration := flag.Float64("duration", 60, "Run duration in seconds (orchestrated total records = duration * rows-per-second)")
	batchSize := flag.Int("batch-size", 100, "Max rows per batch")
	batchWaitSec := flag.Float64("batch-wait-sec", 1.0, "Max seconds before flushing partial batch")
	workers := flag.Int("workers", 5, "Number of insert (and query) worker goroutines")
	patientCount := flag.Int("patient-count", 1000, "Number of patient records generated per producer refill")
	rowsPerSecond := flag.Int("rows-per-second", 1000, "Target insert rate (rows/sec) across all processes")
	producers := flag.Int("producers", 1, "Number of producer goroutines per process")
	processes := flag.Int("processes", 4, "Number of processes; total records and rate are divided uniformly")
	queriesPerRecord := flag.Int("queries-per-record", 10, "Primary-key queries per inserted record (0 disables verification)")
	queryDelay := flag.Float64("query-delay", 0, "Fixed delay in milliseconds before querying each record (0 = no delay)")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus metrics port (0 disables)")

	// 子进程模式参数，由编排器设置，不面向用户
	childIndex := flag.Int("child-index", -1, "")
	childRecords := flag.Int64("child-records", 0, "")
	childStart := flag.Int64("child-start", -1, "")
	childRate := flag.Int("child-rate", 0, "")
	flag.Parse()

	if *database == "" {
		fmt.Fprintln(os.Stderr, "-database is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := hl7bench.RunConfig{
		Database:         *database,
		DurationSec:      *duration,
		BatchSize:        *batchSize,
		BatchWaitSec:     *batchWaitSec,
		Workers:          *workers,
		PatientCount:     *patientCount,
		TargetRPS:        *rowsPerSecond,
		Producers:        *producers,
		Processes:        *processes,
		QueriesPerRecord: *queriesPerRecord,
		QueryDelaySec:    *queryDelay / 1000,
		OrdinalStart:     -1,
		ProcessIndex:     -1,
		ProgressInterval: hl7bench.DefaultProgressInterval,
		MetricsPort:      *metricsPort,
	}

	childMode := *childIndex >= 0
	if childMode {
		// 份额、序号区间和速率均由控制进程预先切分好
		cfg.Processes = 1
		cfg.TotalRecords = *childRecords
		cfg.OrdinalStart = *childStart
		cfg.TargetRPS = *childRate
		cfg.ProcessIndex = *childIndex
		cfg.SkipSchemaInit = true
	}

	if err := run(cfg, childMode); err != nil {
		log.Printf("hl7bench: %v", err)
		os.Exit(1)
	}
}

func run(cfg hl7bench.RunConfig, childMode bool) error {
	ctx := context.Background()

	// 连接池同时服务插入与查询两个工作池
	sink, err := newSink(cfg.Database, cfg.Workers*2)
	if err != nil {
		return err
	}
	defer sink.Close()

	orchestrated := !childMode && cfg.Processes > 1
	var metrics hl7bench.MetricsReporter
	if cfg.MetricsPort > 0 && !orchestrated {
		pm := monitoring.NewPrometheusMetrics(cfg.Database)
		if err := pm.StartServer(cfg.MetricsPort); err != nil {
			return err
		}
		defer pm.StopServer()
		metrics = pm
	}

	if orchestrated {
		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		orch := &hl7bench.Orchestrator{Config: cfg, Binary: binary}
		return orch.Run(ctx, sink)
	}

	source := patientgen.New(patientgen.DefaultDuplicateRatio)

	if childMode {
		harness := hl7bench.OpenChildHarness()
		defer harness.Close()
		_, err := hl7bench.RunLoad(ctx, cfg, sink, source, metrics, harness.Barrier, harness.Report)
		return err
	}

	_, err = hl7bench.RunLoad(ctx, cfg, sink, source, metrics, nil, nil)
	return err
}

func newSink(database string, poolSize int) (hl7bench.Sink, error) {
	switch database {
	case "postgres":
		return postgres.NewSink(poolSize)
	case "mysql":
		return mysql.NewSink(poolSize)
	case "sqlite":
		return sqlite.NewSink(poolSize)
	case "redis":
		return redis.NewSink(poolSize)
	default:
		return nil, fmt.Errorf("%w: unknown database %q (want postgres, mysql, sqlite or redis)", hl7bench.ErrInvalidConfig, database)
	}
}

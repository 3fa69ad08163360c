package drivers

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rushairer/hl7bench"
)

// SQLSink database/sql 后端的通用 Sink 实现
// 架构：SQLSink -> Dialect -> database/sql -> 具体驱动
// 各 SQL 后端只需提供 DSN、建表语句和两条查询语句，执行逻辑完全共享
type SQLSink struct {
	name     string
	db       *sql.DB
	dialect  Dialect
	schema   *Schema
	poolSize int

	// schemaSQL 建表/建索引语句，逐条执行，要求幂等
	schemaSQL []string
	// lookupSQL 按主键点查行数的语句（一个参数：MRN）
	lookupSQL string
	// maxOrdinalSQL 查询最大患者序号的语句，空表返回 -1
	maxOrdinalSQL string
}

// NewSQLSink 创建通用 SQL Sink，连接池大小覆盖插入与查询两个工作池
func NewSQLSink(
	name string,
	db *sql.DB,
	dialect Dialect,
	schema *Schema,
	poolSize int,
	schemaSQL []string,
	lookupSQL string,
	maxOrdinalSQL string,
) *SQLSink {
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	return &SQLSink{
		name:          name,
		db:            db,
		dialect:       dialect,
		schema:        schema,
		poolSize:      poolSize,
		schemaSQL:     schemaSQL,
		lookupSQL:     lookupSQL,
		maxOrdinalSQL: maxOrdinalSQL,
	}
}

// Name 后端名称
func (s *SQLSink) Name() string { return s.name }

// DB 暴露底层连接池（测试用）
func (s *SQLSink) DB() *sql.DB { return s.db }

// Warmup 并发占满连接池各执行一次探活查询，把建连开销挡在计时窗口外
func (s *SQLSink) Warmup(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, s.poolSize)
	for i := 0; i < s.poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := s.db.Conn(ctx)
			if err != nil {
				errCh <- err
				return
			}
			defer conn.Close()
			var one int
			if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	log.Printf("Prewarmed %s connection pool (%d connections)", s.name, s.poolSize)
	return nil
}

// InitSchema 建表，幂等
func (s *SQLSink) InitSchema(ctx context.Context) error {
	for _, stmt := range s.schemaSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	log.Printf("Table %s created (%s)", s.schema.Name, s.name)
	return nil
}

// InsertBatch 多值单语句批量写入
func (s *SQLSink) InsertBatch(ctx context.Context, records []*hl7bench.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	insertSQL, err := s.dialect.InsertSQL(s.schema, len(records))
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	args := make([]interface{}, 0, len(records)*len(s.schema.Columns))
	for _, rec := range records {
		row, err := HL7RowValues(rec.JSONMessage, now)
		if err != nil {
			return 0, err
		}
		args = append(args, row...)
	}
	if _, err := s.db.ExecContext(ctx, insertSQL, args...); err != nil {
		return 0, err
	}
	return len(records), nil
}

// QueryByKey 按 MEDICAL_RECORD_NUMBER 点查匹配行数
func (s *SQLSink) QueryByKey(ctx context.Context, mrn string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.lookupSQL, mrn).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MaxAssignedOrdinal 库中最大患者序号，空库返回 -1
func (s *SQLSink) MaxAssignedOrdinal(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, s.maxOrdinalSQL).Scan(&v); err != nil {
		return -1, err
	}
	return v, nil
}

// Close 关闭连接池
func (s *SQLSink) Close() error { return s.db.Close() }

package hl7bench

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// 进程间起跑协议：子进程预热完成后在继承的管道上写 READY，
// 控制进程收齐全部 READY 后向每个子进程 stdin 写 GO 放行。
// 控制进程 + N 个子进程构成 N+1 方屏障，连接建立延迟不进入计时窗口
const (
	readyLine = "READY"
	goLine    = "GO"
)

// progressFD 子进程继承的进度管道文件描述符（ExtraFiles 的第一个）
const progressFD = 3

// Orchestrator 进程编排器：把总记录数、速率和序号空间切分给 N 个隔离的
// 流水线进程，各进程无共享内存，统计只通过管道上的不可变快照传递
type Orchestrator struct {
	Config RunConfig

	// Binary 子进程可执行文件路径（自身重新 exec）
	Binary string
}

// Run 编排一次多进程运行
// 最大序号查询与建表只在控制进程做一次，避免并发 DDL 竞争；
// 任一子进程非零退出时整体失败并指明失败的进程序号
func (o *Orchestrator) Run(ctx context.Context, sink Sink) error {
	cfg := o.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	totalRecords := cfg.TotalRecords
	if totalRecords == 0 {
		totalRecords = int64(cfg.DurationSec * float64(cfg.TargetRPS))
	}
	if totalRecords < 1 {
		return fmt.Errorf("%w: total records (duration * rows-per-second) must be >= 1", ErrInvalidConfig)
	}

	maxOrdinal, err := sink.MaxAssignedOrdinal(ctx)
	if err != nil {
		return fmt.Errorf("max assigned ordinal: %w", err)
	}
	base := maxOrdinal + 1
	if base < 0 {
		base = 0
	}

	if cfg.Processes > 1 {
		if err := sink.InitSchema(ctx); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	shares := SplitEvenly(totalRecords, cfg.Processes)
	starts := PrefixStarts(base, shares)
	rates := SplitRate(cfg.TargetRPS, cfg.Processes)
	log.Printf("Total records %d over %d processes; starts %v", totalRecords, cfg.Processes, starts)

	type child struct {
		index int
		cmd   *exec.Cmd
		stdin io.WriteCloser
	}

	snapshots := make(chan TaggedSnapshot, cfg.Processes*4)
	type readyMsg struct {
		index int
		ok    bool
	}
	readyCh := make(chan readyMsg, cfg.Processes)

	var readersWg sync.WaitGroup
	children := make([]*child, 0, cfg.Processes)
	for i := 0; i < cfg.Processes; i++ {
		if shares[i] <= 0 {
			continue
		}
		r, w, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("progress pipe: %w", err)
		}
		cmd := exec.Command(o.Binary, o.childArgs(i, shares[i], starts[i], rates[i])...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.ExtraFiles = []*os.File{w}
		stdin, err := cmd.StdinPipe()
		if err != nil {
			r.Close()
			w.Close()
			return fmt.Errorf("stdin pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			r.Close()
			w.Close()
			return fmt.Errorf("start child %d: %w", i, err)
		}
		// 父进程的写端必须关闭，否则子进程退出后读端不会到 EOF
		w.Close()
		children = append(children, &child{index: i, cmd: cmd, stdin: stdin})

		readersWg.Add(1)
		go func(index int, r *os.File) {
			defer readersWg.Done()
			defer r.Close()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			ready := false
			for scanner.Scan() {
				line := scanner.Text()
				if !ready {
					if line == readyLine {
						ready = true
						readyCh <- readyMsg{index: index, ok: true}
					}
					continue
				}
				var snap TaggedSnapshot
				if err := json.Unmarshal([]byte(line), &snap); err != nil {
					log.Printf("progress pipe: bad snapshot line from process %d: %v", index, err)
					continue
				}
				snapshots <- snap
			}
			if !ready {
				readyCh <- readyMsg{index: index, ok: false}
			}
		}(i, r)
	}

	// N+1 屏障：控制进程在此等齐所有子进程的预热完成信号
	barrierFailed := false
	for range children {
		msg := <-readyCh
		if !msg.ok {
			log.Printf("process %d exited before reporting ready", msg.index)
			barrierFailed = true
		}
	}

	aggCtx, stopAgg := context.WithCancel(context.Background())
	var aggWg sync.WaitGroup
	aggWg.Add(1)
	go func() {
		defer aggWg.Done()
		NewAggregator().Run(aggCtx, snapshots, cfg.ProgressInterval)
	}()

	// 放行：即使屏障已失败也要放行存活的子进程，避免它们挂在 GO 上
	for _, c := range children {
		fmt.Fprintln(c.stdin, goLine)
		c.stdin.Close()
	}

	var failed []int
	for _, c := range children {
		if err := c.cmd.Wait(); err != nil {
			log.Printf("process %d: %v", c.index, err)
			failed = append(failed, c.index)
		}
	}
	readersWg.Wait()

	// 子进程退出前都已强制发出终值快照，这里停聚合器让它输出末次总量
	stopAgg()
	aggWg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("%w: process(es) %v exited with non-zero status", ErrChildFailed, failed)
	}
	if barrierFailed {
		return fmt.Errorf("%w: a process exited before the start barrier", ErrChildFailed)
	}
	log.Printf("All %d processes finished", len(children))
	return nil
}

// childArgs 构造子进程命令行，固定条数模式下每个子进程拿到自己的
// 记录份额、序号起点和速率份额
func (o *Orchestrator) childArgs(index int, records, start int64, rate int) []string {
	cfg := o.Config
	args := []string{
		"-database", cfg.Database,
		"-batch-size", strconv.Itoa(cfg.BatchSize),
		"-batch-wait-sec", strconv.FormatFloat(cfg.BatchWaitSec, 'f', -1, 64),
		"-workers", strconv.Itoa(cfg.Workers),
		"-patient-count", strconv.Itoa(cfg.PatientCount),
		"-producers", strconv.Itoa(cfg.Producers),
		"-queries-per-record", strconv.Itoa(cfg.QueriesPerRecord),
		"-query-delay", strconv.FormatFloat(cfg.QueryDelaySec*1000, 'f', -1, 64),
		"-child-index", strconv.Itoa(index),
		"-child-records", strconv.FormatInt(records, 10),
		"-child-start", strconv.FormatInt(start, 10),
		"-child-rate", strconv.Itoa(rate),
	}
	if cfg.MetricsPort > 0 {
		// 每个子进程一个独立端口，控制进程的端口后顺延
		args = append(args, "-metrics-port", strconv.Itoa(cfg.MetricsPort+1+index))
	}
	return args
}

// ChildHarness 子进程侧的编排协议端点：fd 3 上报 READY 和快照行，stdin 等待 GO
type ChildHarness struct {
	pipe *os.File
	mu   sync.Mutex
}

// OpenChildHarness 打开继承的进度管道
func OpenChildHarness() *ChildHarness {
	return &ChildHarness{pipe: os.NewFile(uintptr(progressFD), "progress")}
}

// Barrier 上报预热完成并阻塞等待控制进程放行
func (h *ChildHarness) Barrier() error {
	h.mu.Lock()
	_, err := fmt.Fprintln(h.pipe, readyLine)
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write ready: %w", err)
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if scanner.Text() == goLine {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("wait go: %w", err)
	}
	return fmt.Errorf("wait go: controller closed stdin")
}

// Report 以 JSON 行发送一个带序号的快照
func (h *ChildHarness) Report(snap TaggedSnapshot) {
	line, err := json.Marshal(snap)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pipe.Write(append(line, '\n'))
}

// Close 关闭进度管道
func (h *ChildHarness) Close() error {
	return h.pipe.Close()
}

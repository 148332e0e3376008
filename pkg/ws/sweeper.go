package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// Sweeper 按固定间隔清扫失效连接
type Sweeper struct {
	cron     *cron.Cron
	interval time.Duration
	sweep    func() int
	log      logger.Logger

	mu      sync.Mutex
	started bool
	entry   cron.EntryID
}

// NewSweeper 创建清扫器，sweep 返回本轮清扫的连接数
func NewSweeper(interval time.Duration, sweep func() int, log logger.Logger) *Sweeper {
	cl := cronLogger{log: log}
	return &Sweeper{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		interval: interval,
		sweep:    sweep,
		log:      log,
	}
}

// Start 启动定时清扫，重复调用无效果
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick)
	if err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	s.entry = id
	s.cron.Start()
	s.started = true
	return nil
}

// Stop 停止清扫并等待正在执行的一轮结束
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cron.Remove(s.entry)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Next 下一次清扫时间，未启动时为零值
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Sweeper) tick() {
	start := time.Now()
	n := s.sweep()
	s.log.Debug("sweep finished", zap.Int("evicted", n), zap.Duration("took", time.Since(start)))
}

// cronLogger 将 cron 内部日志转到 logger.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}

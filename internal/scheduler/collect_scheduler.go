// Package scheduler 周期性触发采集任务
package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CollectFunc 单轮采集的执行函数
type CollectFunc func(ctx context.Context) error

// CollectScheduler 采集任务调度器
// 同一时刻只允许一轮采集在运行，上一轮未结束时跳过本轮
type CollectScheduler struct {
	cron    *cron.Cron
	spec    string
	collect CollectFunc
	running atomic.Bool
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCollectScheduler 创建采集任务调度器
func NewCollectScheduler(spec string, collect CollectFunc, logger *zap.Logger) *CollectScheduler {
	return &CollectScheduler{
		cron:    cron.New(cron.WithSeconds()), // 支持秒级调度
		spec:    spec,
		collect: collect,
		logger:  logger,
	}
}

// Start 启动调度器
func (s *CollectScheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.spec, s.runOnce); err != nil {
		return err
	}
	s.logger.Info("启动采集任务调度器", zap.String("spec", s.spec))
	s.cron.Start()
	return nil
}

// Stop 停止调度器并等待正在执行的任务结束
func (s *CollectScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("采集任务调度器已停止")
}

func (s *CollectScheduler) runOnce() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("上一轮采集尚未结束，跳过本轮")
		return
	}
	defer s.running.Store(false)

	s.logger.Info("开始本轮采集")
	if err := s.collect(s.ctx); err != nil {
		s.logger.Error("本轮采集失败", zap.Error(err))
	}
}

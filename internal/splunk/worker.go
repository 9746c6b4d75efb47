package splunk

import (
	"context"

	"go.uber.org/zap"
)

// worker 执行单条展开后的查询并发布解析结果
// 每个查询一个 worker，失败只影响自己，不影响其他查询
type worker[T any] struct {
	client *Client
	query  ExpandedQuery
	parser parser[T]
	out    chan<- T
	logger *zap.Logger
}

// run 提交查询、解析结果并写入输出通道，返回本次查询是否成功
func (w *worker[T]) run(ctx context.Context) bool {
	w.logger.Info("执行查询", zap.String("query", w.query.Text))

	reader, err := w.client.Run(ctx, w.query.Text, w.query.Text)
	if err != nil {
		w.logger.Error("查询失败", zap.String("query", w.query.Text), zap.Error(err))
		return false
	}
	items, err := w.parser.parse(reader, w.query)
	if err != nil {
		w.logger.Error("解析查询结果失败", zap.String("query", w.query.Text), zap.Error(err))
		return false
	}

	for _, item := range items {
		select {
		case w.out <- item:
		case <-ctx.Done():
			w.logger.Warn("发布结果被中断", zap.String("query", w.query.Text))
			return false
		}
	}
	w.logger.Info("查询完成", zap.String("query", w.query.Text), zap.Int("published", len(items)))
	return true
}

// Package collector 把数据源采集到的数据分批转发到 Argus
package collector

import (
	"context"
	"time"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/argus"
	"github.com/relango/ArgusOrchestra/internal/domain"
)

const (
	// chunkSize 单次转发的最大条数
	chunkSize = 1000
	// bufferSize 采集通道容量，避免查询任务被转发速度阻塞
	bufferSize = 1 << 16
	// relayInterval 转发循环的休眠间隔
	relayInterval = 500 * time.Millisecond
	// joinWindow 转发结束后等待采集协程退出的时间窗口
	joinWindow = 30 * time.Second
)

// Service 指标接收端
type Service interface {
	PutMetrics(ctx context.Context, metrics []*argus.Metric) error
	PutAnnotations(ctx context.Context, annotations []*argus.Annotation) error
	Dispose(ctx context.Context)
}

// Collector 采集与转发的协调器
type Collector struct {
	service Service
	reader  domain.Reader
	logger  *zap.Logger

	interval time.Duration
	join     time.Duration
}

// NewCollector 创建协调器
func NewCollector(service Service, reader domain.Reader, logger *zap.Logger) *Collector {
	return &Collector{
		service:  service,
		reader:   reader,
		logger:   logger,
		interval: relayInterval,
		join:     joinWindow,
	}
}

// Run 启动采集并把结果分批转发，直到数据发完、到达截止时间或被取消
// 转发失败视为致命错误；采集本身的失败只记日志
func (c *Collector) Run(ctx context.Context, timeout time.Duration) error {
	defer c.service.Dispose(context.WithoutCancel(ctx))

	metrics := make(chan *argus.Metric, bufferSize)
	annotations := make(chan *argus.Annotation, bufferSize)

	collectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		if err := c.reader.Collect(collectCtx, metrics, annotations); err != nil {
			c.logger.Error("采集失败", zap.String("datasource", c.reader.Datasource()), zap.Error(err))
		}
	}()

	deadline := time.Now().Add(timeout)
	var sentMetrics, sentAnnotations int
	var runErr error

relay:
	for {
		select {
		case <-ctx.Done():
			c.logger.Warn("转发被中断")
			break relay
		default:
		}
		if time.Now().After(deadline) {
			c.logger.Warn("到达转发截止时间，丢弃剩余数据",
				zap.Int("metrics", len(metrics)), zap.Int("annotations", len(annotations)))
			break relay
		}

		if chunk := drain(metrics, chunkSize); len(chunk) > 0 {
			if err := c.service.PutMetrics(ctx, chunk); err != nil {
				runErr = errors.Errorf("转发指标失败: %v", err)
				break relay
			}
			sentMetrics += len(chunk)
			c.logger.Info("已转发指标", zap.Int("count", len(chunk)), zap.Int("total", sentMetrics))
		}
		if chunk := drain(annotations, chunkSize); len(chunk) > 0 {
			if err := c.service.PutAnnotations(ctx, chunk); err != nil {
				runErr = errors.Errorf("转发注解失败: %v", err)
				break relay
			}
			sentAnnotations += len(chunk)
			c.logger.Info("已转发注解", zap.Int("count", len(chunk)), zap.Int("total", sentAnnotations))
		}

		if c.reader.MetricsDone() && c.reader.AnnotationsDone() &&
			len(metrics) == 0 && len(annotations) == 0 {
			break relay
		}
		time.Sleep(c.interval)
	}

	// 无论正常结束还是转发失败，都等采集协程退出后再返回
	cancel()
	select {
	case <-collected:
	case <-time.After(c.join):
		c.logger.Warn("采集协程未在时间窗口内退出", zap.Duration("window", c.join))
	}
	if runErr != nil {
		return runErr
	}

	c.logger.Info("转发结束",
		zap.String("datasource", c.reader.Datasource()),
		zap.Int("metrics", sentMetrics), zap.Int("annotations", sentAnnotations))
	return nil
}

// drain 非阻塞地从通道取出最多 max 条数据
func drain[T any](ch <-chan T, max int) []T {
	batch := make([]T, 0, max)
	for len(batch) < max {
		select {
		case v := <-ch:
			batch = append(batch, v)
		default:
			return batch
		}
	}
	return batch
}

// Package splunk 实现基于 Splunk 查询的采集数据源
package splunk

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/argus"
	"github.com/relango/ArgusOrchestra/internal/conf"
)

// collectGrace 上下文超时后等待查询任务收尾的宽限期
const collectGrace = 20 * time.Second

// Reader Splunk 数据源
// 一个 Reader 只执行一次采集，定时任务每轮构造新的 Reader
type Reader struct {
	cfg    *Config
	logger *zap.Logger

	metricsDone     atomic.Bool
	annotationsDone atomic.Bool

	grace        time.Duration
	pollInterval time.Duration
	insecure     bool
}

// NewReader 创建 Splunk 数据源，配置错误立即失败
func NewReader(props *conf.Properties, logger *zap.Logger) (*Reader, error) {
	cfg, err := ParseConfig(props, logger)
	if err != nil {
		return nil, err
	}
	return &Reader{
		cfg:          cfg,
		logger:       logger,
		grace:        collectGrace,
		pollInterval: defaultPollInterval,
	}, nil
}

// Datasource 数据源标识
func (r *Reader) Datasource() string {
	return "SPLUNK"
}

// MetricsDone 指标是否已全部发布
func (r *Reader) MetricsDone() bool {
	return r.metricsDone.Load()
}

// AnnotationsDone 注解是否已全部发布
func (r *Reader) AnnotationsDone() bool {
	return r.annotationsDone.Load()
}

// Collect 展开并并发执行全部查询，把解析结果写入给定通道
// 单条查询失败不影响其余查询；返回前保证两个完成标志都已置位
func (r *Reader) Collect(ctx context.Context, metrics chan<- *argus.Metric, annotations chan<- *argus.Annotation) error {
	defer func() {
		// 两个标志一起置位，避免转发层空等另一类数据到截止时间
		r.metricsDone.Store(true)
		r.annotationsDone.Store(true)
	}()

	client, err := NewClient(ClientConfig{
		Host:               r.cfg.Host,
		Port:               r.cfg.Port,
		Username:           r.cfg.Username,
		Password:           r.cfg.Password,
		Timeout:            r.cfg.Timeout,
		InsecureSkipVerify: r.insecure,
	}, r.logger)
	if err != nil {
		return err
	}
	client.pollInterval = r.pollInterval

	qctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := client.Login(qctx); err != nil {
		return err
	}
	defer client.Logout(context.WithoutCancel(ctx))

	queries := r.cfg.ExpandQueries()
	r.logger.Info("开始采集",
		zap.String("datasource", r.Datasource()),
		zap.Int("queries", len(queries)),
		zap.Int("workers", r.cfg.WorkerCount),
		zap.Bool("annotations", r.cfg.AnnotationCollection))

	workers := pool.New().WithMaxGoroutines(r.cfg.WorkerCount)
	for _, query := range queries {
		if r.cfg.AnnotationCollection {
			w := &worker[*argus.Annotation]{
				client: client,
				query:  query,
				parser: &annotationParser{cfg: r.cfg, logger: r.logger},
				out:    annotations,
				logger: r.logger,
			}
			workers.Go(func() { w.run(qctx) })
		} else {
			w := &worker[*argus.Metric]{
				client: client,
				query:  query,
				parser: &metricParser{cfg: r.cfg, logger: r.logger},
				out:    metrics,
				logger: r.logger,
			}
			workers.Go(func() { w.run(qctx) })
		}
	}

	finished := make(chan struct{})
	go func() {
		workers.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-qctx.Done():
		// 超时后再给一段宽限期让任务终止作业并退出
		select {
		case <-finished:
		case <-time.After(r.grace):
			r.logger.Warn("查询任务未在宽限期内退出", zap.Duration("grace", r.grace))
		}
	}
	r.logger.Info("采集结束", zap.String("datasource", r.Datasource()))
	return nil
}

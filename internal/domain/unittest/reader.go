// Package unittest 提供用于端到端演练的合成数据源
package unittest

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/argus"
)

const (
	metricCount     = 10
	annotationCount = 10
	datapointCount  = 10
)

// Reader 生成随机指标和注解的数据源，不访问任何远端系统
type Reader struct {
	logger *zap.Logger

	metricsDone     atomic.Bool
	annotationsDone atomic.Bool
}

// NewReader 创建合成数据源
func NewReader(logger *zap.Logger) *Reader {
	return &Reader{logger: logger}
}

// Datasource 数据源标识
func (r *Reader) Datasource() string {
	return "UNITTEST"
}

// MetricsDone 指标是否已全部发布
func (r *Reader) MetricsDone() bool {
	return r.metricsDone.Load()
}

// AnnotationsDone 注解是否已全部发布
func (r *Reader) AnnotationsDone() bool {
	return r.annotationsDone.Load()
}

// Collect 发布一批随机命名的指标和注解
func (r *Reader) Collect(ctx context.Context, metrics chan<- *argus.Metric, annotations chan<- *argus.Annotation) error {
	defer func() {
		r.metricsDone.Store(true)
		r.annotationsDone.Store(true)
	}()

	now := time.Now()
	scope := "unittest." + uuid.NewString()

	for i := 0; i < metricCount; i++ {
		metric, err := argus.NewMetric(scope, fmt.Sprintf("metric.%s", uuid.NewString()))
		if err != nil {
			return err
		}
		if err := metric.SetTag("host", "localhost"); err != nil {
			return err
		}
		points := make(map[int64]string, datapointCount)
		for j := 0; j < datapointCount; j++ {
			at := now.Add(-time.Duration(j) * time.Minute).UnixMilli()
			points[at] = fmt.Sprintf("%d", rand.Intn(100))
		}
		metric.SetDatapoints(points)

		select {
		case metrics <- metric:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for i := 0; i < annotationCount; i++ {
		annotation, err := argus.NewAnnotation(
			"unittest", uuid.NewString(), "test", scope, "metric.synthetic", now.UnixMilli())
		if err != nil {
			return err
		}
		annotation.SetFields(map[string]string{"index": fmt.Sprintf("%d", i)})

		select {
		case annotations <- annotation:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.logger.Info("合成数据发布完成",
		zap.Int("metrics", metricCount), zap.Int("annotations", annotationCount))
	return nil
}

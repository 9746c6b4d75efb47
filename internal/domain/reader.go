// Package domain 定义数据源与转发层之间的契约
package domain

import (
	"context"

	"github.com/relango/ArgusOrchestra/internal/argus"
)

// Reader 一次性数据源
// Collect 把采集到的指标和注解写入给定通道，返回后不再写入；
// 两个 Done 方法告知转发层对应类型的数据已经全部发布
type Reader interface {
	Collect(ctx context.Context, metrics chan<- *argus.Metric, annotations chan<- *argus.Annotation) error
	MetricsDone() bool
	AnnotationsDone() bool
	Datasource() string
}

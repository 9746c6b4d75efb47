package splunk

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/valyala/fasttemplate"
	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/argus"
	"github.com/relango/ArgusOrchestra/internal/conf"
)

// timestampLayout 结果行中时间列的格式，按 UTC 解释
const timestampLayout = "01/02/2006 15:04:05"

// parser 把结果行序列转换成待发布的实体
type parser[T any] interface {
	parse(reader RowReader, query ExpandedQuery) ([]T, error)
}

// parseTimestamp 解析时间列，返回毫秒级时间戳
func parseTimestamp(value string) (int64, error) {
	t, err := time.ParseInLocation(timestampLayout, value, time.UTC)
	if err != nil {
		return 0, errors.Errorf("无效的时间戳 %q: %v", value, err)
	}
	return t.UnixMilli(), nil
}

// parseScope 展开作用域模板
// $param.N$ 取本次查询的第 N 个参数，$key.N$ 取 key.N 指定列在当前行的值，
// 无法识别的占位符原样保留
func parseScope(cfg *Config, row Row, params []string) string {
	return fasttemplate.ExecuteFuncString(cfg.Scope, "$", "$",
		func(w io.Writer, tag string) (int, error) {
			if suffix, ok := strings.CutPrefix(tag, "param."); ok {
				if idx, err := strconv.Atoi(suffix); err == nil && idx >= 0 && idx < len(params) {
					return w.Write([]byte(params[idx]))
				}
			}
			if suffix, ok := strings.CutPrefix(tag, "key."); ok && cfg.Keys.Has(suffix) {
				if v, ok := row.Get(cfg.Keys.Get(suffix)); ok {
					return w.Write([]byte(v))
				}
			}
			return w.Write([]byte("$" + tag + "$"))
		})
}

// parseTags 按标签映射从当前行取值，列缺失时记为空值
func parseTags(mapping *conf.Mapping, row Row) map[string]string {
	out := make(map[string]string, len(mapping.Keys()))
	for _, name := range mapping.Keys() {
		v, _ := row.Get(mapping.Get(name))
		out[name] = v
	}
	return out
}

// metricParser 把结果行聚合为指标
// 同一 scope、指标名和标签组合的数据点会合并到一个指标里
type metricParser struct {
	cfg    *Config
	logger *zap.Logger
}

func (p *metricParser) parse(reader RowReader, query ExpandedQuery) ([]*argus.Metric, error) {
	defer reader.Close()

	type bucket struct {
		metric *argus.Metric
		points map[int64]string
	}
	buckets := make(map[string]*bucket)
	order := make([]string, 0)

	for {
		row, ok := reader.Next()
		if !ok {
			break
		}
		timestamp, err := parseTimestamp(row[p.cfg.Timestamp])
		if err != nil {
			return nil, err
		}
		scope := parseScope(p.cfg, row, query.Params)
		tags := parseTags(p.cfg.Tags, row)

		for _, name := range p.cfg.Metrics.Keys() {
			// 列不存在才跳过，空字符串是合法的数据点值
			value, ok := row.Get(p.cfg.Metrics.Get(name))
			if !ok {
				continue
			}
			key := bucketKey(scope, name, tags)
			b, exists := buckets[key]
			if !exists {
				m, err := argus.NewMetric(scope, name)
				if err != nil {
					return nil, err
				}
				if err := m.SetTags(tags); err != nil {
					return nil, err
				}
				b = &bucket{metric: m, points: make(map[int64]string)}
				buckets[key] = b
				order = append(order, key)
			}
			b.points[timestamp] = value
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}

	metrics := make([]*argus.Metric, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		b.metric.SetDatapoints(b.points)
		metrics = append(metrics, b.metric)
	}
	p.logger.Debug("解析指标完成", zap.Int("metrics", len(metrics)))
	return metrics, nil
}

// bucketKey 指标聚合键，标签按名称排序保证稳定
func bucketKey(scope, metric string, tags map[string]string) string {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(scope)
	sb.WriteByte(0x1f)
	sb.WriteString(metric)
	for _, name := range names {
		sb.WriteByte(0x1f)
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(tags[name])
	}
	return sb.String()
}

// annotationParser 把结果行逐条转换为注解
// 单行解析失败只丢弃该行，不影响其余行
type annotationParser struct {
	cfg    *Config
	logger *zap.Logger
}

func (p *annotationParser) parse(reader RowReader, query ExpandedQuery) ([]*argus.Annotation, error) {
	defer reader.Close()

	annotations := make([]*argus.Annotation, 0)
	for {
		row, ok := reader.Next()
		if !ok {
			break
		}
		annotation, err := p.parseRow(row, query)
		if err != nil {
			p.logger.Warn("解析注解失败，跳过该行", zap.Error(err))
			continue
		}
		annotations = append(annotations, annotation)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	p.logger.Debug("解析注解完成", zap.Int("annotations", len(annotations)))
	return annotations, nil
}

func (p *annotationParser) parseRow(row Row, query ExpandedQuery) (*argus.Annotation, error) {
	timestamp, err := parseTimestamp(row[p.cfg.Timestamp])
	if err != nil {
		return nil, err
	}
	id, ok := row.Get(p.cfg.AnnotationIDField)
	if !ok || id == "" {
		return nil, errors.Errorf("结果行缺少注解编号列 %q", p.cfg.AnnotationIDField)
	}
	scope := parseScope(p.cfg, row, query.Params)

	annotation, err := argus.NewAnnotation("splunk", id, p.cfg.AnnotationType, scope, p.cfg.AnnotationMetric, timestamp)
	if err != nil {
		return nil, err
	}
	// 标签映射给标签，指标映射的列值作为附加字段
	annotation.SetTags(parseTags(p.cfg.Tags, row))
	annotation.SetFields(parseTags(p.cfg.Metrics, row))
	return annotation, nil
}

package argus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-errors/errors"
)

// 保留标签名，禁止通过通用标签入口设置
var reservedTagNames = map[string]struct{}{
	"metric":      {},
	"displayName": {},
	"units":       {},
}

// Datapoints 时间序列数据点集合（毫秒时间戳 -> 字符串值）
// 序列化时按时间戳升序输出
type Datapoints map[int64]string

// MarshalJSON 按时间戳升序序列化数据点
func (d Datapoints) MarshalJSON() ([]byte, error) {
	keys := make([]int64, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.FormatInt(k, 10)))
		buf.WriteByte(':')
		v, err := json.Marshal(d[k])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Metric 时间序列指标实体，封装单个 scope 下一条时间序列的全部信息
type Metric struct {
	Scope       string            `json:"scope"`
	Metric      string            `json:"metric"`
	Tags        map[string]string `json:"tags,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Units       string            `json:"units,omitempty"`
	Datapoints  Datapoints        `json:"datapoints"`
}

// NewMetric 创建指标实体，scope 和 metric 不能为空
func NewMetric(scope, metric string) (*Metric, error) {
	if scope == "" {
		return nil, errors.New("指标的 scope 不能为空")
	}
	if metric == "" {
		return nil, errors.New("指标的名称不能为空")
	}
	return &Metric{
		Scope:      scope,
		Metric:     metric,
		Datapoints: make(Datapoints),
	}, nil
}

// SetTag 设置单个标签，保留标签名会被拒绝
func (m *Metric) SetTag(name, value string) error {
	if _, reserved := reservedTagNames[name]; reserved {
		return errors.Errorf("标签名 %q 为保留名称，不允许设置", name)
	}
	if m.Tags == nil {
		m.Tags = make(map[string]string)
	}
	m.Tags[name] = value
	return nil
}

// SetTags 批量设置标签，任一保留标签名会导致整体失败
func (m *Metric) SetTags(tags map[string]string) error {
	for name, value := range tags {
		if err := m.SetTag(name, value); err != nil {
			return err
		}
	}
	return nil
}

// SetDatapoints 替换全部数据点
func (m *Metric) SetDatapoints(datapoints map[int64]string) {
	m.Datapoints = make(Datapoints, len(datapoints))
	for ts, v := range datapoints {
		m.Datapoints[ts] = v
	}
}

// AddDatapoint 写入单个数据点
func (m *Metric) AddDatapoint(timestamp int64, value string) {
	if m.Datapoints == nil {
		m.Datapoints = make(Datapoints)
	}
	m.Datapoints[timestamp] = value
}

func (m *Metric) String() string {
	return fmt.Sprintf("scope=%s, metric=%s, tags=%v, datapoints=%d", m.Scope, m.Metric, m.Tags, len(m.Datapoints))
}

// Annotation 离散事件注解实体，必须挂在某个指标之下
type Annotation struct {
	Source    string            `json:"source"`
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Scope     string            `json:"scope"`
	Metric    string            `json:"metric"`
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// NewAnnotation 创建注解实体，id 和 timestamp 为必填项
func NewAnnotation(source, id, annotationType, scope, metric string, timestamp int64) (*Annotation, error) {
	if id == "" {
		return nil, errors.New("注解的 id 不能为空")
	}
	if timestamp == 0 {
		return nil, errors.New("注解的时间戳不能为空")
	}
	return &Annotation{
		Source:    source,
		ID:        id,
		Type:      annotationType,
		Scope:     scope,
		Metric:    metric,
		Timestamp: timestamp,
	}, nil
}

// SetTags 设置注解标签
func (a *Annotation) SetTags(tags map[string]string) {
	a.Tags = tags
}

// SetFields 设置注解字段
func (a *Annotation) SetFields(fields map[string]string) {
	a.Fields = fields
}

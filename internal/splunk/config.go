package splunk

import (
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"github.com/valyala/fasttemplate"
	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/conf"
)

// 支持的配置键（param.* / key.* / metric.* / tag.* 分组除外）
const (
	keyHost                 = "host"
	keyPort                 = "port"
	keyUsername             = "username"
	keyPassword             = "password"
	keyTimeoutSec           = "timeout_sec"
	keyWorkerCount          = "worker_count"
	keyAnnotationCollection = "annotation_collection"
	keyAnnotationType       = "annotation_type"
	keyAnnotationMetric     = "annotation_metricname"
	keyAnnotationIDField    = "annotation_id_field"
	keyScope                = "scope"
	keyTimestamp            = "timestamp"
	keyQuery                = "query"
)

// quotedListPattern param.* 值为带引号逗号分隔列表，例如 "a","b"
var quotedListPattern = regexp.MustCompile(`"\s*,\s*"`)

// Config Splunk 采集配置，加载时一次性解析并校验，之后不可变
type Config struct {
	Host                 string `validate:"required"`
	Port                 int    `validate:"min=1,max=65535"`
	Username             string `validate:"required"`
	Password             string `validate:"required"`
	Timeout              time.Duration
	WorkerCount          int    `validate:"min=1"`
	AnnotationCollection bool
	AnnotationType       string
	AnnotationMetric     string
	AnnotationIDField    string
	Scope                string
	Timestamp            string
	Query                string `validate:"required"`

	Keys    *conf.Mapping // key.N -> 结果集中用于替换的列名
	Metrics *conf.Mapping // 指标名 -> 结果集列名
	Tags    *conf.Mapping // 标签名 -> 结果集列名

	params     []paramValues // 按参数序号升序
	iterations int
}

// paramValues 单个 param.N 的取值列表
type paramValues struct {
	index  int
	values []string
}

// ParseConfig 解析 Splunk 采集配置
// 分组格式错误、必填项缺失、param 列表长度不一致都会在此处立即失败
func ParseConfig(props *conf.Properties, logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		Host:                 props.GetDefault(keyHost, "localhost"),
		Port:                 cast.ToInt(props.GetDefault(keyPort, "8089")),
		Username:             props.Get(keyUsername),
		Password:             props.Get(keyPassword),
		AnnotationType:       props.Get(keyAnnotationType),
		AnnotationMetric:     props.GetDefault(keyAnnotationMetric, "global.annotations"),
		AnnotationIDField:    props.GetDefault(keyAnnotationIDField, "id"),
		Scope:                props.Get(keyScope),
		Timestamp:            props.GetDefault(keyTimestamp, "time"),
		Query:                props.Get(keyQuery),
		Keys:                 props.Mapping("key"),
		Metrics:              props.Mapping("metric"),
		Tags:                 props.Mapping("tag"),
	}

	timeoutSec, err := cast.ToInt64E(props.GetDefault(keyTimeoutSec, "10000"))
	if err != nil || timeoutSec <= 0 {
		return nil, errors.Errorf("参数 %s 必须是正整数: %q", keyTimeoutSec, props.Get(keyTimeoutSec))
	}
	cfg.Timeout = time.Duration(timeoutSec) * time.Second

	if cfg.WorkerCount, err = cast.ToIntE(props.GetDefault(keyWorkerCount, "3")); err != nil {
		return nil, errors.Errorf("参数 %s 必须是整数: %q", keyWorkerCount, props.Get(keyWorkerCount))
	}
	if cfg.AnnotationCollection, err = cast.ToBoolE(props.GetDefault(keyAnnotationCollection, "false")); err != nil {
		return nil, errors.Errorf("参数 %s 必须是布尔值: %q", keyAnnotationCollection, props.Get(keyAnnotationCollection))
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Errorf("Splunk 配置无效，请检查配置文件: %v", err)
	}
	if cfg.AnnotationCollection && cfg.AnnotationType == "" {
		return nil, errors.Errorf("注解采集模式下参数 %s 不能为空", keyAnnotationType)
	}

	// key.* 的序号必须是数字，替换时按序号引用
	for _, suffix := range cfg.Keys.Keys() {
		if _, err := strconv.Atoi(suffix); err != nil {
			return nil, errors.Errorf("key.%s 的序号必须是数字", suffix)
		}
	}
	if cfg.params, cfg.iterations, err = parseQueryParameters(props.Mapping("param")); err != nil {
		return nil, err
	}

	// 打印生效的配置，密码不输出，查询语句单独提升到 info 级别
	for _, k := range props.Keys() {
		switch k {
		case keyQuery:
			logger.Info("使用配置值", zap.String("key", k), zap.String("value", props.Get(k)))
		case keyPassword:
		default:
			logger.Debug("使用配置值", zap.String("key", k), zap.String("value", props.Get(k)))
		}
	}
	return cfg, nil
}

// parseQueryParameters 解析 param.* 分组：剥离首尾引号、按带引号逗号切分
// 所有列表长度必须一致，该长度即查询迭代次数
func parseQueryParameters(mapping *conf.Mapping) ([]paramValues, int, error) {
	params := make([]paramValues, 0, mapping.Len())
	for _, suffix := range mapping.Keys() {
		index, err := strconv.Atoi(suffix)
		if err != nil {
			return nil, 0, errors.Errorf("param.%s 的序号必须是数字", suffix)
		}
		raw := strings.TrimPrefix(mapping.Get(suffix), `"`)
		raw = strings.TrimSuffix(raw, `"`)
		params = append(params, paramValues{index: index, values: quotedListPattern.Split(raw, -1)})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].index < params[j].index })

	iterations := 0
	for i, p := range params {
		if i == 0 {
			iterations = len(p.values)
			continue
		}
		if len(p.values) != iterations {
			return nil, 0, errors.Errorf("param.%d 的取值数量 %d 与 param.%d 的 %d 不一致，所有参数列表长度必须相同",
				p.index, len(p.values), params[0].index, iterations)
		}
	}
	return params, iterations, nil
}

// ExpandedQuery 完成参数替换后的具体查询及其参数向量
type ExpandedQuery struct {
	Text   string
	Params []string
}

// ExpandQueries 展开全部查询
// 没有 param.* 时返回未替换的模板本身；否则每个迭代序号生成一条查询，
// {0}、{1} 等占位符按参数序号升序做位置替换。替换结果相同的查询会合并
func (c *Config) ExpandQueries() []ExpandedQuery {
	if len(c.params) == 0 {
		return []ExpandedQuery{{Text: c.Query}}
	}

	result := make([]ExpandedQuery, 0, c.iterations)
	position := make(map[string]int, c.iterations)
	for i := 0; i < c.iterations; i++ {
		vector := make([]string, 0, len(c.params))
		for _, p := range c.params {
			vector = append(vector, p.values[i])
		}
		text := substitutePositional(c.Query, vector)
		if at, ok := position[text]; ok {
			// 相同的查询文本静默合并，保留最后一次的参数向量
			result[at].Params = vector
			continue
		}
		position[text] = len(result)
		result = append(result, ExpandedQuery{Text: text, Params: vector})
	}
	return result
}

// substitutePositional 将 {N} 占位符替换为参数向量中的第 N 个值
// 序号越界或非数字的占位符原样保留
func substitutePositional(template string, vector []string) string {
	return fasttemplate.ExecuteFuncString(template, "{", "}", func(w io.Writer, tag string) (int, error) {
		if index, err := strconv.Atoi(tag); err == nil && index >= 0 && index < len(vector) {
			return io.WriteString(w, vector[index])
		}
		return io.WriteString(w, "{"+tag+"}")
	})
}

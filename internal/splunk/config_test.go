package splunk

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relango/ArgusOrchestra/internal/conf"
)

func baseProps() *conf.Properties {
	p := conf.NewProperties()
	p.Set("host", "splunk.example.com")
	p.Set("username", "svc")
	p.Set("password", "secret")
	p.Set("query", "search index=main | stats count")
	p.Set("scope", "example")
	p.Set("metric.count", "count")
	return p
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(baseProps(), zap.NewNop())
	if err != nil {
		t.Fatalf("ParseConfig 失败: %v", err)
	}
	if cfg.Port != 8089 {
		t.Errorf("默认端口应该是 8089，实际 %d", cfg.Port)
	}
	if cfg.Timeout != 10000*time.Second {
		t.Errorf("默认超时应该是 10000 秒，实际 %v", cfg.Timeout)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("默认任务数应该是 3，实际 %d", cfg.WorkerCount)
	}
	if cfg.AnnotationCollection {
		t.Error("默认应该是指标采集模式")
	}
	if cfg.Timestamp != "time" {
		t.Errorf("默认时间列应该是 time，实际 %q", cfg.Timestamp)
	}
}

func TestParseConfigMissingRequired(t *testing.T) {
	p := baseProps()
	p.Set("query", "")
	if _, err := ParseConfig(p, zap.NewNop()); err == nil {
		t.Error("缺少查询语句时应该报错")
	}

	p = baseProps()
	p.Set("password", "")
	if _, err := ParseConfig(p, zap.NewNop()); err == nil {
		t.Error("缺少密码时应该报错")
	}
}

func TestParseConfigAnnotationTypeRequired(t *testing.T) {
	p := baseProps()
	p.Set("annotation_collection", "true")
	if _, err := ParseConfig(p, zap.NewNop()); err == nil {
		t.Error("注解采集模式下缺少 annotation_type 应该报错")
	}
	p.Set("annotation_type", "RELEASE")
	if _, err := ParseConfig(p, zap.NewNop()); err != nil {
		t.Errorf("提供 annotation_type 后应该解析成功: %v", err)
	}
}

func TestParseConfigBadKeySuffix(t *testing.T) {
	p := baseProps()
	p.Set("key.dc", "datacenter")
	if _, err := ParseConfig(p, zap.NewNop()); err == nil {
		t.Error("key.* 的序号不是数字时应该报错")
	}
}

func TestExpandQueriesNoParams(t *testing.T) {
	cfg, err := ParseConfig(baseProps(), zap.NewNop())
	if err != nil {
		t.Fatalf("ParseConfig 失败: %v", err)
	}
	queries := cfg.ExpandQueries()
	if len(queries) != 1 {
		t.Fatalf("没有参数时应该展开成 1 条查询，实际 %d 条", len(queries))
	}
	if queries[0].Text != "search index=main | stats count" {
		t.Errorf("没有参数时查询应该原样保留，实际 %q", queries[0].Text)
	}
}

func TestExpandQueries(t *testing.T) {
	p := baseProps()
	p.Set("query", "search index={0} host={1}")
	p.Set("param.0", `"main","secondary"`)
	p.Set("param.1", `"web01" , "web02"`)

	cfg, err := ParseConfig(p, zap.NewNop())
	if err != nil {
		t.Fatalf("ParseConfig 失败: %v", err)
	}
	queries := cfg.ExpandQueries()
	if len(queries) != 2 {
		t.Fatalf("两个长度为 2 的参数列表应该展开成 2 条查询，实际 %d 条", len(queries))
	}
	if queries[0].Text != "search index=main host=web01" {
		t.Errorf("第一条查询替换不正确: %q", queries[0].Text)
	}
	if queries[1].Text != "search index=secondary host=web02" {
		t.Errorf("第二条查询替换不正确: %q", queries[1].Text)
	}
	if len(queries[0].Params) != 2 || queries[0].Params[0] != "main" || queries[0].Params[1] != "web01" {
		t.Errorf("参数向量应该按序号升序排列，实际 %v", queries[0].Params)
	}
}

func TestExpandQueriesUnequalLists(t *testing.T) {
	p := baseProps()
	p.Set("query", "search index={0} host={1}")
	p.Set("param.0", `"main","secondary"`)
	p.Set("param.1", `"web01"`)

	if _, err := ParseConfig(p, zap.NewNop()); err == nil {
		t.Error("参数列表长度不一致时应该在加载阶段报错")
	}
}

func TestExpandQueriesDuplicateCollapse(t *testing.T) {
	p := baseProps()
	p.Set("query", "search index={0}")
	p.Set("param.0", `"main","main","other"`)
	p.Set("param.1", `"web01","web02","web03"`)

	cfg, err := ParseConfig(p, zap.NewNop())
	if err != nil {
		t.Fatalf("ParseConfig 失败: %v", err)
	}
	queries := cfg.ExpandQueries()
	if len(queries) != 2 {
		t.Fatalf("相同的查询文本应该合并，期望 2 条，实际 %d 条", len(queries))
	}
	if queries[0].Text != "search index=main" {
		t.Errorf("合并后应该保留首次出现的位置，实际 %q", queries[0].Text)
	}
	if queries[0].Params[1] != "web02" {
		t.Errorf("合并后应该保留最后一次的参数向量，实际 %v", queries[0].Params)
	}
}

func TestSubstitutePositionalOutOfRange(t *testing.T) {
	got := substitutePositional("search index={0} extra={5} raw={abc}", []string{"main"})
	want := "search index=main extra={5} raw={abc}"
	if got != want {
		t.Errorf("越界和非数字的占位符应该原样保留，期望 %q，实际 %q", want, got)
	}
}

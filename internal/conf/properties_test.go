package conf

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestPropertiesSetGet(t *testing.T) {
	p := NewProperties()
	p.Set("Splunk.Host", "one")
	p.Set("splunk.port", "8214")

	if got := p.Get("splunk.host"); got != "one" {
		t.Errorf("键应该统一为小写，期望 one，实际 %q", got)
	}
	if !p.Has("SPLUNK.PORT") {
		t.Error("Has 查找时应该忽略大小写")
	}
}

func TestPropertiesLastWriteWins(t *testing.T) {
	p := NewProperties()
	p.Set("splunk.host", "one")
	p.Set("splunk.query", "search *")
	p.Set("splunk.host", "two")

	if got := p.Get("splunk.host"); got != "two" {
		t.Errorf("重复设置应该保留最后一次的值，实际 %q", got)
	}
	keys := p.Keys()
	if len(keys) != 2 {
		t.Fatalf("重复设置不应该产生新键，期望 2 个键，实际 %d 个", len(keys))
	}
	if keys[0] != "splunk.host" || keys[1] != "splunk.query" {
		t.Errorf("键应该保持首次出现的顺序，实际 %v", keys)
	}
}

func TestPropertiesGetDefault(t *testing.T) {
	p := NewProperties()
	p.Set("splunk.timeout_sec", "")

	if got := p.GetDefault("splunk.timeout_sec", "10000"); got != "" {
		t.Errorf("键存在时即使值为空也不应该用默认值，实际 %q", got)
	}
	if got := p.GetDefault("splunk.workers", "3"); got != "3" {
		t.Errorf("键不存在时应该返回默认值，实际 %q", got)
	}
}

func TestPropertiesMerge(t *testing.T) {
	base := NewProperties()
	base.Set("argusws.endpoint", "https://argus.example.com:443/argusws")
	base.Set("splunk.host", "one")

	overlay := NewProperties()
	overlay.Set("splunk.host", "two")
	overlay.Set("splunk.query", "search *")

	merged := NewProperties()
	merged.Merge(base)
	merged.Merge(overlay)

	if got := merged.Get("splunk.host"); got != "two" {
		t.Errorf("叠加的配置应该覆盖基础配置，实际 %q", got)
	}
	if got := merged.Get("argusws.endpoint"); got == "" {
		t.Error("基础配置项应该保留")
	}
	if merged.Len() != 3 {
		t.Errorf("合并后应该有 3 项，实际 %d 项", merged.Len())
	}
}

func TestPropertiesApply(t *testing.T) {
	p := NewProperties()
	p.Set("splunk.host", "one")

	if err := p.Apply([]string{"splunk.host=two", "splunk.query=search index=main"}); err != nil {
		t.Fatalf("Apply 失败: %v", err)
	}
	if got := p.Get("splunk.host"); got != "two" {
		t.Errorf("命令行覆盖应该生效，实际 %q", got)
	}
	if got := p.Get("splunk.query"); got != "search index=main" {
		t.Errorf("值中的等号应该原样保留，实际 %q", got)
	}
	if err := p.Apply([]string{"没有等号"}); err == nil {
		t.Error("缺少等号的覆盖项应该报错")
	}
}

func TestPropertiesMapping(t *testing.T) {
	p := NewProperties()
	p.Set("splunk.metric.Latency", "latency_col")
	p.Set("splunk.metric.count", "count_col")
	p.Set("splunk.tag.host", "host_col")

	m := p.Mapping("splunk.metric")
	if m.Len() != 2 {
		t.Fatalf("分组应该抽出 2 项，实际 %d 项", m.Len())
	}
	if got := m.Get("latency"); got != "latency_col" {
		t.Errorf("分组后缀应该统一为小写，实际 %q", got)
	}
	if m.Has("host") {
		t.Error("其他前缀的键不应该出现在分组里")
	}
	keys := m.Keys()
	if keys[0] != "latency" || keys[1] != "count" {
		t.Errorf("分组应该保持键的出现顺序，实际 %v", keys)
	}
}

func TestPropertiesRedacted(t *testing.T) {
	p := NewProperties()
	p.Set("splunk.username", "svc")
	p.Set("splunk.password", "secret")
	p.Set("argusws.password", "secret2")

	for _, line := range p.Redacted() {
		if strings.Contains(line, "secret") {
			t.Errorf("诊断输出不应该包含密码明文: %q", line)
		}
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "# 注释行\n" +
		"! 另一种注释\n" +
		"splunk.host=splunk.example.com\n" +
		"\n" +
		"splunk.query=search index=main | stats count\n"
	if err := afero.WriteFile(fs, "/etc/orchestra.properties", []byte(content), 0644); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}

	p, err := Load(fs, "/etc/orchestra.properties")
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("注释和空行应该被跳过，期望 2 项，实际 %d 项", p.Len())
	}
	if got := p.Get("splunk.query"); got != "search index=main | stats count" {
		t.Errorf("值中的等号和竖线应该原样保留，实际 %q", got)
	}

	if _, err := Load(fs, "/不存在的文件"); err == nil {
		t.Error("配置文件不存在时应该报错")
	}
}

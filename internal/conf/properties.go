package conf

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/go-errors/errors"
	"github.com/spf13/afero"
)

// Properties 有序的扁平配置集合
// 键统一转为小写，后写入的值覆盖先写入的值，但保留首次出现的顺序
type Properties struct {
	keys   []string
	values map[string]string
}

// NewProperties 创建空配置集合
func NewProperties() *Properties {
	return &Properties{
		values: make(map[string]string),
	}
}

// Set 写入配置项（键大小写不敏感，重复键按最后一次写入生效）
func (p *Properties) Set(key, value string) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get 读取配置项，不存在时返回空字符串
func (p *Properties) Get(key string) string {
	return p.values[strings.ToLower(key)]
}

// Has 判断配置项是否存在
func (p *Properties) Has(key string) bool {
	_, ok := p.values[strings.ToLower(key)]
	return ok
}

// GetDefault 读取配置项，未设置时返回默认值（显式设置为空串时返回空串）
func (p *Properties) GetDefault(key, def string) string {
	if v, ok := p.values[strings.ToLower(key)]; ok {
		return v
	}
	return def
}

// Keys 按首次写入顺序返回所有键
func (p *Properties) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len 配置项数量
func (p *Properties) Len() int {
	return len(p.keys)
}

// Merge 叠加另一组配置（后者覆盖前者）
func (p *Properties) Merge(other *Properties) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
}

// Apply 应用 key=value 形式的覆盖项（命令行 --set 使用）
func (p *Properties) Apply(pairs []string) error {
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return errors.Errorf("无效的覆盖项 %q，期望 key=value 格式", pair)
		}
		p.Set(parts[0], parts[1])
	}
	return nil
}

// Mapping 提取公共前缀分组：匹配 prefix. 开头的键，剥离前缀后保留原顺序
func (p *Properties) Mapping(prefix string) *Mapping {
	m := &Mapping{values: make(map[string]string)}
	full := strings.ToLower(prefix) + "."
	for _, k := range p.keys {
		if strings.HasPrefix(k, full) {
			m.put(strings.TrimPrefix(k, full), p.values[k])
		}
	}
	return m
}

// Redacted 返回用于诊断输出的配置清单，密码类值会被掩盖
func (p *Properties) Redacted() []string {
	out := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		v := p.values[k]
		if strings.Contains(k, "password") {
			v = "***"
		}
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// Mapping 剥离前缀后的配置分组，保留首次出现顺序
type Mapping struct {
	keys   []string
	values map[string]string
}

func (m *Mapping) put(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get 读取分组内的值
func (m *Mapping) Get(key string) string {
	return m.values[key]
}

// Has 判断分组内是否存在该键
func (m *Mapping) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys 按首次出现顺序返回分组内所有键
func (m *Mapping) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len 分组内条目数量
func (m *Mapping) Len() int {
	return len(m.keys)
}

// Load 从文件加载配置（key=value 格式，# 或 ! 开头为注释）
func Load(fs afero.Fs, path string) (*Properties, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Errorf("无法加载配置文件 %s: %v", path, err)
	}
	defer f.Close()

	props := NewProperties()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		props.Set(parts[0], strings.TrimSpace(parts[1]))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Errorf("读取配置文件 %s 失败: %v", path, err)
	}
	return props, nil
}

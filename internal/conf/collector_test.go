package conf

import "testing"

func TestNewCollectorConfig(t *testing.T) {
	p := NewProperties()
	p.Set(KeyArgusEndpoint, "https://argus.example.com:443/argusws")
	p.Set(KeyArgusUsername, "svc")
	p.Set(KeyArgusPassword, "secret")

	cfg, err := NewCollectorConfig(p)
	if err != nil {
		t.Fatalf("NewCollectorConfig 失败: %v", err)
	}
	if cfg.Endpoint != "https://argus.example.com:443/argusws" {
		t.Errorf("端点不正确: %q", cfg.Endpoint)
	}
}

func TestNewCollectorConfigMissingFields(t *testing.T) {
	cases := []struct {
		name string
		omit string
	}{
		{"缺少端点", KeyArgusEndpoint},
		{"缺少用户名", KeyArgusUsername},
		{"缺少密码", KeyArgusPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProperties()
			p.Set(KeyArgusEndpoint, "https://argus.example.com:443/argusws")
			p.Set(KeyArgusUsername, "svc")
			p.Set(KeyArgusPassword, "secret")
			p.values[tc.omit] = ""

			if _, err := NewCollectorConfig(p); err == nil {
				t.Error("必填项缺失时应该报错")
			}
		})
	}
}

func TestNewCollectorConfigBadEndpoint(t *testing.T) {
	p := NewProperties()
	p.Set(KeyArgusEndpoint, "不是一个地址")
	p.Set(KeyArgusUsername, "svc")
	p.Set(KeyArgusPassword, "secret")

	if _, err := NewCollectorConfig(p); err == nil {
		t.Error("端点不是合法 URL 时应该报错")
	}
}

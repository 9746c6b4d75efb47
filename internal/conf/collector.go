package conf

import (
	"github.com/go-errors/errors"
	"github.com/go-playground/validator/v10"
)

// 采集器全局配置键
const (
	KeyArgusEndpoint = "argusws.endpoint"
	KeyArgusUsername = "argusws.username"
	KeyArgusPassword = "argusws.password"
)

// CollectorConfig 采集器全局配置（Argus 服务端连接信息）
// 构造后不可变，按引用传递给各组件，不做任何全局查找
type CollectorConfig struct {
	Endpoint string `validate:"required,url"`
	Username string `validate:"required"`
	Password string `validate:"required"`
}

// NewCollectorConfig 从配置集合构造采集器全局配置，缺少必填项时立即报错
func NewCollectorConfig(props *Properties) (*CollectorConfig, error) {
	cfg := &CollectorConfig{
		Endpoint: props.Get(KeyArgusEndpoint),
		Username: props.Get(KeyArgusUsername),
		Password: props.Get(KeyArgusPassword),
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Errorf("采集器配置无效: %v", err)
	}
	return cfg, nil
}

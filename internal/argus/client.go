package argus

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	"github.com/go-errors/errors"
	"go.uber.org/zap"
)

// ClientConfig Argus 客户端配置
type ClientConfig struct {
	Endpoint           string        // Argus Web 服务地址，必须带显式端口
	ConnTimeout        time.Duration // 连接超时
	RequestTimeout     time.Duration // 单次请求超时
	Preview            bool          // 预览模式：数据不上报，改写到本地输出
	InsecureSkipVerify bool          // 允许自签名证书
}

// Client Argus Web 服务的 HTTP 客户端
// 登录后通过会话 Cookie 维持认证状态
type Client struct {
	endpoint   string
	httpClient *http.Client
	preview    bool
	sink       io.Writer
	logger     *zap.Logger
}

// credentials 登录凭据
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewClient 创建 Argus 客户端
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, errors.Errorf("无效的 Argus 地址: %q", cfg.Endpoint)
	}
	if u.Port() == "" {
		return nil, errors.Errorf("Argus 地址必须包含显式端口: %q", cfg.Endpoint)
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	// 使用 Cookie 保持登录会话
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Errorf("创建 Cookie 存储失败: %v", err)
	}
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
			TLSHandshakeTimeout: cfg.ConnTimeout,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        10,
		},
	}

	logger.Info("Argus 客户端初始化完成", zap.String("endpoint", cfg.Endpoint))
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: httpClient,
		preview:    cfg.Preview,
		sink:       os.Stdout,
		logger:     logger,
	}, nil
}

// SetSink 设置预览模式的输出目标（默认标准输出）
func (c *Client) SetSink(w io.Writer) {
	c.sink = w
}

// Login 登录 Argus Web 服务
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return errors.Errorf("序列化登录凭据失败: %v", err)
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint+"/auth/login", body, nil); err != nil {
		return errors.Errorf("登录 Argus 失败: %v", err)
	}
	c.logger.Info("已登录 Argus", zap.String("username", username))
	return nil
}

// Logout 登出 Argus Web 服务
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, c.endpoint+"/auth/logout", nil, nil); err != nil {
		return errors.Errorf("登出 Argus 失败: %v", err)
	}
	c.logger.Info("已登出 Argus")
	return nil
}

// PutMetrics 上报一批指标。预览模式下写到本地输出并视为成功
func (c *Client) PutMetrics(ctx context.Context, metrics []*Metric) error {
	if len(metrics) == 0 {
		return errors.New("指标列表不能为空")
	}
	if err := c.post(ctx, "/collection/metrics", metrics); err != nil {
		return err
	}
	c.logger.Info("指标上报完成", zap.Int("count", len(metrics)))
	return nil
}

// PutAnnotations 上报一批注解。预览模式下写到本地输出并视为成功
func (c *Client) PutAnnotations(ctx context.Context, annotations []*Annotation) error {
	if len(annotations) == 0 {
		return errors.New("注解列表不能为空")
	}
	if err := c.post(ctx, "/collection/annotations", annotations); err != nil {
		return err
	}
	c.logger.Info("注解上报完成", zap.Int("count", len(annotations)))
	return nil
}

// QueryMetrics 按表达式查询指标，返回原始响应
func (c *Client) QueryMetrics(ctx context.Context, expression string) ([]byte, error) {
	requestURL := fmt.Sprintf("%s/metrics?expression=%s", c.endpoint, url.QueryEscape(expression))
	var body []byte
	if err := c.do(ctx, http.MethodGet, requestURL, nil, &body); err != nil {
		return nil, errors.Errorf("查询指标失败: %v", err)
	}
	return body, nil
}

// Dispose 登出并释放连接，可以对已释放的客户端重复调用
func (c *Client) Dispose(ctx context.Context) {
	if err := c.Logout(ctx); err != nil {
		c.logger.Warn("登出 Argus 失败", zap.Error(err))
	}
	c.httpClient.CloseIdleConnections()
}

// post 序列化并提交一批实体，预览模式下改写到本地输出
func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c.preview {
		body, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return errors.Errorf("序列化上报数据失败: %v", err)
		}
		if _, err := fmt.Fprintln(c.sink, string(body)); err != nil {
			return errors.Errorf("写入预览输出失败: %v", err)
		}
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Errorf("序列化上报数据失败: %v", err)
	}
	return c.do(ctx, http.MethodPost, c.endpoint+path, body, nil)
}

// do 执行一次 HTTP 请求，非 2xx 状态码视为失败
func (c *Client) do(ctx context.Context, method, requestURL string, body []byte, out *[]byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return errors.Errorf("创建请求失败: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Errorf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Errorf("读取响应失败: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("%d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if out != nil {
		*out = data
	}
	return nil
}

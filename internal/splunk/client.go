package splunk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// defaultPollInterval 作业就绪状态的轮询间隔
const defaultPollInterval = 30 * time.Second

// loginAttempts 登录重试次数，仅针对建立连接阶段的瞬时故障
const loginAttempts = 3

// Row 单行查询结果，按列名查值
type Row map[string]string

// Get 读取指定列的值，列不存在时返回空串和 false
func (r Row) Get(column string) (string, bool) {
	v, ok := r[column]
	return v, ok
}

// RowReader 有限、惰性、可关闭的结果行序列
type RowReader interface {
	// Next 返回下一行，序列耗尽时返回 false
	Next() (Row, bool)
	// Err 返回迭代过程中遇到的错误
	Err() error
	// Close 释放底层资源
	Close() error
}

// JobHandle 远端搜索作业句柄
type JobHandle struct {
	SID string
}

// ClientConfig Splunk 客户端配置
type ClientConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Timeout            time.Duration // 单次查询的总时间预算
	InsecureSkipVerify bool
}

// Client Splunk REST API 客户端
// 登录后由所有查询任务只读共享，不做并发修改
type Client struct {
	baseURL      string
	username     string
	password     string
	timeout      time.Duration
	pollInterval time.Duration
	httpClient   *http.Client
	sessionKey   string
	logger       *zap.Logger
}

// NewClient 创建 Splunk 客户端
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("Splunk 主机名不能为空")
	}
	if cfg.Port <= 0 {
		return nil, errors.Errorf("无效的 Splunk 端口: %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("查询超时必须大于 0")
	}
	httpClient := &http.Client{
		Timeout: time.Minute,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				MinVersion:         tls.VersionTLS12,
			},
			DisableKeepAlives: false,
		},
	}
	return &Client{
		baseURL:      fmt.Sprintf("https://%s:%d", cfg.Host, cfg.Port),
		username:     cfg.Username,
		password:     cfg.Password,
		timeout:      cfg.Timeout,
		pollInterval: defaultPollInterval,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Login 登录 Splunk 并保存会话密钥，瞬时故障按退避策略重试
func (c *Client) Login(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		if lastErr = c.login(ctx); lastErr == nil {
			c.logger.Info("已登录 Splunk", zap.String("endpoint", c.baseURL), zap.String("username", c.username))
			return nil
		}
		if attempt == loginAttempts {
			break
		}
		wait := b.Duration()
		c.logger.Warn("登录 Splunk 失败，稍后重试",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return errors.Errorf("登录 Splunk 被取消: %v", ctx.Err())
		case <-time.After(wait):
		}
	}
	return errors.Errorf("登录 Splunk 失败: %v", lastErr)
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)
	form.Set("output_mode", "json")

	var resp struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := c.postForm(ctx, "/services/auth/login", form, &resp); err != nil {
		return err
	}
	if resp.SessionKey == "" {
		return errors.New("登录响应中缺少会话密钥")
	}
	c.sessionKey = resp.SessionKey
	return nil
}

// Logout 注销会话并释放连接
func (c *Client) Logout(ctx context.Context) {
	if c.sessionKey != "" {
		form := url.Values{}
		form.Set("output_mode", "json")
		if err := c.postForm(ctx, "/services/auth/logout", form, nil); err != nil {
			c.logger.Debug("注销 Splunk 会话失败", zap.Error(err))
		}
		c.sessionKey = ""
	}
	c.httpClient.CloseIdleConnections()
}

// Submit 创建异步搜索作业
func (c *Client) Submit(ctx context.Context, query string) (JobHandle, error) {
	form := url.Values{}
	form.Set("search", ensureSearchPrefix(query))
	form.Set("exec_mode", "normal")
	form.Set("output_mode", "json")

	var resp struct {
		SID string `json:"sid"`
	}
	if err := c.postForm(ctx, "/services/search/jobs", form, &resp); err != nil {
		return JobHandle{}, errors.Errorf("提交查询失败: %v", err)
	}
	if resp.SID == "" {
		return JobHandle{}, errors.New("提交查询的响应中缺少作业编号")
	}
	return JobHandle{SID: resp.SID}, nil
}

// Ready 查询作业是否已经完成
func (c *Client) Ready(ctx context.Context, job JobHandle) (bool, error) {
	var resp struct {
		Entry []struct {
			Content struct {
				IsDone        bool    `json:"isDone"`
				DispatchState string  `json:"dispatchState"`
				RunDuration   float64 `json:"runDuration"`
			} `json:"content"`
		} `json:"entry"`
	}
	path := fmt.Sprintf("/services/search/jobs/%s?output_mode=json", url.PathEscape(job.SID))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return false, errors.Errorf("查询作业状态失败: %v", err)
	}
	if len(resp.Entry) == 0 {
		return false, errors.Errorf("作业 %s 不存在", job.SID)
	}
	return resp.Entry[0].Content.IsDone, nil
}

// Finalize 尽力终止作业，失败只记日志不上抛
func (c *Client) Finalize(ctx context.Context, job JobHandle) {
	form := url.Values{}
	form.Set("action", "finalize")
	form.Set("output_mode", "json")
	path := fmt.Sprintf("/services/search/jobs/%s/control", url.PathEscape(job.SID))
	if err := c.postForm(ctx, path, form, nil); err != nil {
		c.logger.Debug("终止作业失败", zap.String("sid", job.SID), zap.Error(err))
	}
}

// Results 获取作业的全部结果行
func (c *Client) Results(ctx context.Context, job JobHandle) (RowReader, error) {
	var resp struct {
		Results []map[string]any `json:"results"`
	}
	path := fmt.Sprintf("/services/search/jobs/%s/results?output_mode=json&count=0", url.PathEscape(job.SID))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, errors.Errorf("获取查询结果失败: %v", err)
	}

	rows := make([]Row, 0, len(resp.Results))
	for _, raw := range resp.Results {
		row := make(Row, len(raw))
		for column, value := range raw {
			switch v := value.(type) {
			case string:
				row[column] = v
			case []any:
				// 多值字段取第一个字符串
				if len(v) > 0 {
					if s, ok := v[0].(string); ok {
						row[column] = s
					}
				}
			}
		}
		rows = append(rows, row)
	}
	return &sliceReader{rows: rows}, nil
}

// Run 执行一次完整的查询：提交、轮询、获取结果
// 时间预算耗尽或上下文被取消时尽力终止作业，并返回空结果而不是报错
func (c *Client) Run(ctx context.Context, query, label string) (RowReader, error) {
	job, err := c.Submit(ctx, query)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	budget := c.timeout
	for {
		if ctx.Err() != nil {
			c.logger.Warn("收到中断请求，终止作业", zap.String("label", label))
			c.Finalize(context.WithoutCancel(ctx), job)
			return emptyReader{}, nil
		}
		done, err := c.Ready(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				c.Finalize(context.WithoutCancel(ctx), job)
				return emptyReader{}, nil
			}
			return nil, err
		}
		if done {
			break
		}
		if budget <= 0 {
			c.logger.Warn("查询超时，终止作业",
				zap.String("label", label), zap.Duration("elapsed", time.Since(started)))
			c.Finalize(context.WithoutCancel(ctx), job)
			return emptyReader{}, nil
		}
		select {
		case <-ctx.Done():
		case <-time.After(c.pollInterval):
		}
		budget -= c.pollInterval
		c.logger.Info("等待查询结果",
			zap.String("label", label), zap.Duration("elapsed", time.Since(started)))
	}
	c.logger.Debug("查询已完成", zap.String("label", label))
	return c.Results(ctx, job)
}

// ensureSearchPrefix Splunk 要求查询以 search 关键字开头
func ensureSearchPrefix(query string) string {
	trimmed := strings.TrimSpace(query)
	if strings.HasPrefix(trimmed, "search ") || strings.HasPrefix(trimmed, "|") {
		return trimmed
	}
	return "search " + trimmed
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.sessionKey != "" {
		req.Header.Set("Authorization", "Splunk "+c.sessionKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("%d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// sliceReader 基于已解码结果的行序列
type sliceReader struct {
	rows []Row
	next int
}

func (r *sliceReader) Next() (Row, bool) {
	if r.next >= len(r.rows) {
		return nil, false
	}
	row := r.rows[r.next]
	r.next++
	return row, true
}

func (r *sliceReader) Err() error   { return nil }
func (r *sliceReader) Close() error { return nil }

// emptyReader 被终止的作业返回的空结果序列
type emptyReader struct{}

func (emptyReader) Next() (Row, bool) { return nil, false }
func (emptyReader) Err() error        { return nil }
func (emptyReader) Close() error      { return nil }

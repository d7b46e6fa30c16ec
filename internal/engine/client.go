// Package engine 封装外部回测引擎的 REST 访问。
// 真正的计算（回测、寻优、walk-forward）都发生在引擎侧，
// 本地只负责提交请求与拉取运行记录。
package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quantdesk/internal/builder"
	"quantdesk/internal/config"
	"quantdesk/internal/history"
	"quantdesk/internal/strategy"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Client wraps the backtest engine REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	limiter    *rate.Limiter
}

// NewClient constructs an engine client from configuration.
func NewClient(cfg config.EngineConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("engine.api_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 engine.api_url 失败: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 60
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		token:      strings.TrimSpace(cfg.APIToken),
		limiter:    rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SubmitAck 是引擎对一次提交的确认。
type SubmitAck struct {
	JobID     string `json:"job_id"`
	RequestID string `json:"request_id"`
}

// SubmitBacktest 提交一次回测请求，返回引擎分配的 job id。
// 每次提交带 X-Request-ID 供引擎去重；请求体即 BacktestRequest 快照。
func (c *Client) SubmitBacktest(ctx context.Context, req builder.BacktestRequest) (SubmitAck, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return SubmitAck{}, err
	}
	requestID := uuid.NewString()
	var raw json.RawMessage
	headers := map[string]string{"X-Request-ID": requestID}
	if err := c.doRequest(ctx, http.MethodPost, "/api/backtests", headers, req, &raw); err != nil {
		// RequestID 返回给调用方用于流水记录。
		return SubmitAck{RequestID: requestID}, err
	}
	jobID := firstNonEmpty(
		gjson.GetBytes(raw, "job_id").String(),
		gjson.GetBytes(raw, "run_id").String(),
		gjson.GetBytes(raw, "id").String(),
	)
	if jobID == "" {
		return SubmitAck{}, fmt.Errorf("引擎未返回 job_id")
	}
	return SubmitAck{JobID: jobID, RequestID: requestID}, nil
}

// ListRuns 拉取运行记录。兼容裸数组与 {"runs":[...]}/{"jobs":[...]}/{"data":[...]} 包裹两种形态。
func (c *Client) ListRuns(ctx context.Context, limit int) ([]history.RawRunRecord, error) {
	path := "/api/backtests"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	items, err := unwrapArray(raw, "runs", "jobs", "data")
	if err != nil {
		return nil, fmt.Errorf("无法解析引擎 runs 响应: %w", err)
	}
	var records []history.RawRunRecord
	if err := json.Unmarshal(items, &records); err != nil {
		return nil, fmt.Errorf("无法解析引擎 runs 响应: %w", err)
	}
	return records, nil
}

// GetRun 拉取单条运行记录。
func (c *Client) GetRun(ctx context.Context, id string) (history.RawRunRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return history.RawRunRecord{}, fmt.Errorf("run id 必填")
	}
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, "/api/backtests/"+url.PathEscape(id), nil, nil, &raw); err != nil {
		return history.RawRunRecord{}, err
	}
	// 详情接口可能裹一层 {"run": {...}}。
	if run := gjson.GetBytes(raw, "run"); run.Exists() && run.IsObject() {
		raw = json.RawMessage(run.Raw)
	}
	var record history.RawRunRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return history.RawRunRecord{}, fmt.Errorf("无法解析引擎 run 响应: %w", err)
	}
	return record, nil
}

// FetchStrategies 拉取远端策略目录。
func (c *Client) FetchStrategies(ctx context.Context) ([]strategy.Definition, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, "/api/strategies", nil, nil, &raw); err != nil {
		return nil, err
	}
	items, err := unwrapArray(raw, "strategies", "data")
	if err != nil {
		return nil, fmt.Errorf("无法解析引擎 strategies 响应: %w", err)
	}
	var defs []strategy.Definition
	if err := json.Unmarshal(items, &defs); err != nil {
		return nil, fmt.Errorf("无法解析引擎 strategies 响应: %w", err)
	}
	return defs, nil
}

// unwrapArray 返回 raw 中的目标数组：裸数组原样返回，
// 对象则依次尝试候选键。
func unwrapArray(raw []byte, keys ...string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return json.RawMessage("[]"), nil
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, fmt.Errorf("json 格式无效")
	}
	parsed := gjson.ParseBytes(trimmed)
	if parsed.IsArray() {
		return json.RawMessage(trimmed), nil
	}
	if !parsed.IsObject() {
		return nil, fmt.Errorf("根节点必须是 JSON 数组或对象")
	}
	for _, key := range keys {
		if arr := parsed.Get(key); arr.Exists() {
			if !arr.IsArray() {
				return nil, fmt.Errorf("%s 必须是数组", key)
			}
			return json.RawMessage(arr.Raw), nil
		}
	}
	return nil, fmt.Errorf("未找到目标数组字段（候选: %s）", strings.Join(keys, "/"))
}

func (c *Client) doRequest(ctx context.Context, method, path string, headers map[string]string, payload any, out any) error {
	if c == nil {
		return fmt.Errorf("engine client 未初始化")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用引擎失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			return fmt.Errorf("引擎返回错误: %s", resp.Status)
		}
		return fmt.Errorf("引擎返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("解析引擎响应失败: %w", err)
	}
	return nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("engine API 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query
	base.Fragment = ""
	return &base, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

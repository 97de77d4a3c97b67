// Package apiclient 封装消耗 nonce 的出站 HTTP 请求
// 只负责传输：nonce 进 header、字节流出，不解析交易所业务报文
package apiclient

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// nonceHeader 鉴权 nonce 所在的请求头
const nonceHeader = "X-Auth-Nonce"

// Config 客户端配置
type Config struct {
	BaseURL       string
	Timeout       time.Duration // 默认 60 秒
	RetryCount    int           // 默认 3 次
	RetryWaitTime time.Duration // 默认 1 秒
}

// Client 出站请求客户端
type Client struct {
	client *resty.Client
}

// New 创建客户端
// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = 1 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

// Fetch 发起一次带 nonce 的 GET 请求，返回原始响应体
func (c *Client) Fetch(ctx context.Context, endpoint string, nonce int64) ([]byte, error) {
	r := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetHeader(nonceHeader, strconv.FormatInt(nonce, 10))

	resp, err := r.Get(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "请求 %s 失败", endpoint)
	}
	if resp.IsError() {
		return nil, errors.Errorf("请求 %s 返回 %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}

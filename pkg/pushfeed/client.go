// Package pushfeed 提供推送通道 WebSocket 客户端
// 只负责搬运 {category, key, payload} 帧并交给 Sink，payload 原样透传、不做业务解析
package pushfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/apigate/pkg/cache"
	"github.com/betbot/apigate/pkg/sigchan"
)

var log = logrus.WithField("component", "pushfeed")

// Sink 推送数据的消费方
// 断连/恢复状态也经由 Sink 通知，保证新鲜度判断与连接状态一致
type Sink interface {
	ConsumePush(category cache.Category, key string, payload interface{})
	SetDisconnected(disconnected bool)
}

// Frame 推送帧
type Frame struct {
	Category string          `json:"category"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
}

// Client 推送通道客户端
type Client struct {
	conn   *websocket.Conn
	connMu sync.Mutex
	config *Config
	sink   Sink

	running   bool
	runningMu sync.RWMutex

	errChan chan error

	// reconnectNudge 外部触发的重连信号
	reconnectNudge *sigchan.Chan

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}

	reconnectAttempts int
	reconnectMu       sync.Mutex

	lastPong   time.Time
	lastPongMu sync.RWMutex
}

// New 创建推送通道客户端
func New(sink Sink, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:         config,
		sink:           sink,
		errChan:        make(chan error, config.ErrorBufferSize),
		reconnectNudge: sigchan.New(1),
		ctx:            ctx,
		cancel:         cancel,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		lastPong:       time.Now(),
	}
}

// Start 连接并开始监听
func (c *Client) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("推送客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx != nil {
		c.ctx = ctx
	}

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	log.Infof("已启动连接到 %s", c.config.URL)
	return nil
}

// Stop 优雅地关闭连接
func (c *Client) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn("关闭超时")
	}

	log.Info("已停止")
}

// ReconnectNow 外部触发一次重连（非阻塞）
func (c *Client) ReconnectNow() {
	c.reconnectNudge.Emit()
}

// Errors 返回错误通道
func (c *Client) Errors() <-chan error {
	return c.errChan
}

// IsRunning 检查客户端是否正在运行
func (c *Client) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// connect 建立 WebSocket 连接
func (c *Client) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   c.config.ReadBufferSize,
		WriteBufferSize:  c.config.WriteBufferSize,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	if c.config.ProxyURL != "" {
		proxyURL, err := url.Parse(c.config.ProxyURL)
		if err != nil {
			return fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
		log.Infof("使用代理: %s", c.config.ProxyURL)
	}

	headers := make(http.Header)
	headers.Set("User-Agent", "apigate-pushfeed/1.0")

	conn, _, err := dialer.Dial(c.config.URL, headers)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn

	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()

	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()

	if c.sink != nil {
		c.sink.SetDisconnected(false)
	}

	return nil
}

// readLoop 读取循环，持续从 WebSocket 读取推送帧
func (c *Client) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if c.config.ReconnectEnabled {
				c.reconnect()
			}
			// 连接为 nil 时稍等再试，避免忙等待
			time.Sleep(1 * time.Second)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// 连接出错：立即清理，并把断连状态同步给 Sink
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if c.sink != nil {
				c.sink.SetDisconnected(true)
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("连接正常关闭")
				return
			}
			log.Warnf("读取错误: %v, 重连中...", err)
			if c.config.ReconnectEnabled {
				c.reconnect()
			} else {
				time.Sleep(1 * time.Second)
			}
			continue
		}

		c.handleMessage(message)
	}
}

// pingLoop 心跳循环；同时响应外部的重连信号
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.reconnectNudge.C():
			// 关闭当前连接，readLoop 会发现错误并走重连路径
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn == nil {
				continue
			}

			// 发送 "PING" 文本消息，对端以 "PONG" 文本响应
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				log.Warnf("PING 发送失败: %v", err)
				if c.config.ReconnectEnabled {
					c.reconnect()
				}
			}
		}
	}
}

// reconnect 重连逻辑（带指数退避）
func (c *Client) reconnect() {
	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	if attempts > c.config.MaxReconnectAttempts {
		select {
		case c.errChan <- fmt.Errorf("达到最大重连次数 (%d)", c.config.MaxReconnectAttempts):
		default:
		}
		return
	}

	delay := c.config.ReconnectDelay * time.Duration(attempts)
	if delay > c.config.MaxReconnectDelay {
		delay = c.config.MaxReconnectDelay
	}

	log.Infof("%v 后重连 (尝试 %d/%d)...", delay, attempts, c.config.MaxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		log.Warnf("重连失败: %v", err)
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(data []byte) {
	// 先检查是否是 PONG 文本响应
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' {
		textMsg := string(trimmed)
		if textMsg == "PONG" || textMsg == "pong" {
			c.lastPongMu.Lock()
			c.lastPong = time.Now()
			c.lastPongMu.Unlock()
			return
		}
		log.Debugf("收到非 JSON 文本消息: %s", textMsg)
		return
	}

	// 单帧
	var frame Frame
	if err := json.Unmarshal(data, &frame); err == nil && frame.Key != "" {
		c.deliver(frame)
		return
	}

	// 帧数组（部分服务端按批次推送）
	var frames []Frame
	if err := json.Unmarshal(data, &frames); err == nil {
		for _, f := range frames {
			if f.Key != "" {
				c.deliver(f)
			}
		}
		return
	}

	preview := string(data)
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	select {
	case c.errChan <- fmt.Errorf("解析推送帧失败: %s", preview):
	default:
	}
}

// deliver 把帧交给 Sink
func (c *Client) deliver(f Frame) {
	if c.sink == nil {
		return
	}
	c.sink.ConsumePush(cache.Category(f.Category), f.Key, f.Payload)
}

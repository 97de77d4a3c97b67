package pushfeed

import "time"

// Config 推送通道客户端配置
type Config struct {
	URL                  string        // WebSocket 地址
	ProxyURL             string        // 代理地址（可选）
	HandshakeTimeout     time.Duration // 握手超时
	ReadBufferSize       int           // 读缓冲大小
	WriteBufferSize      int           // 写缓冲大小
	PingInterval         time.Duration // 心跳间隔
	ReconnectEnabled     bool          // 是否自动重连
	ReconnectDelay       time.Duration // 重连基础延迟
	MaxReconnectDelay    time.Duration // 重连最大延迟
	MaxReconnectAttempts int           // 最大重连次数
	ErrorBufferSize      int           // 错误通道缓冲大小
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:     10 * time.Second,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
		PingInterval:         10 * time.Second,
		ReconnectEnabled:     true,
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 20,
		ErrorBufferSize:      16,
	}
}

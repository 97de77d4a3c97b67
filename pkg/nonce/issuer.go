// Package nonce 提供进程级的单调递增 nonce 发号器
// 交易所鉴权要求每个签名请求携带严格递增的 nonce，高并发下必须有全进程唯一的发号权威。
package nonce

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "nonce")

// ErrShutdown 发号器已关停
var ErrShutdown = errors.New("nonce issuer 已关停")

// worker 处理异常后的退避时间
const workerFaultBackoff = 100 * time.Millisecond

// 发号来源
const (
	// SourceWorker 经由 worker 队列正常发号
	SourceWorker = "worker"
	// SourceFallback 队列等待超时后的直接发号
	SourceFallback = "fallback"
)

// Config 发号器配置
type Config struct {
	QueueSize          int           // 请求队列容量，默认 256
	RequestTimeout     time.Duration // 调用方等待上限，超时走直接发号，默认 5 秒
	MinRequestInterval time.Duration // 同一凭证两次发号的最小间隔，默认 100 毫秒
	RingSize           int           // 最近发号环形缓冲区大小，默认 1000
	ShutdownTimeout    time.Duration // Shutdown 等待 worker 退出的上限，默认 5 秒
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.MinRequestInterval < 0 {
		c.MinRequestInterval = 0
	} else if c.MinRequestInterval == 0 {
		c.MinRequestInterval = 100 * time.Millisecond
	}
	if c.RingSize <= 0 {
		c.RingSize = 1000
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// IssuanceRecord 单次发号记录
type IssuanceRecord struct {
	ID           string    `json:"id"`
	CredentialID string    `json:"credential_id"`
	Label        string    `json:"label"`
	Nonce        int64     `json:"nonce"`
	Source       string    `json:"source"`
	SubmittedAt  time.Time `json:"submitted_at"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Recorder 发号记录的落盘钩子
// Record 必须自行保证不阻塞（内部缓冲或丢弃），落盘失败不得影响发号
type Recorder interface {
	Record(rec IssuanceRecord)
}

// request 队列中的发号请求
type request struct {
	id           string
	credentialID string
	label        string
	submittedAt  time.Time
	done         chan int64
}

// Issuer 发号器
// 常规路径：所有请求经 FIFO 队列由唯一 worker 串行发号；
// 调用方等待超时后走直接发号路径，与 worker 持同一把锁铸造，
// 这是防止两条路径发出重复 token 的唯一保证，任何改动都不能破坏它。
type Issuer struct {
	cfg   Config
	queue chan *request

	// mu 铸造锁：lastIssued / lastRequest / 计数器只在持锁时变更
	mu            sync.Mutex
	lastIssued    int64
	lastRequest   map[string]time.Time
	labels        map[string]string
	issuedCount   map[string]int64
	fallbackCount int64
	timeoutCount  int64
	workerFaults  int64
	recorder      Recorder

	ringMu   sync.Mutex
	ring     []IssuanceRecord
	ringNext int

	nowFunc func() time.Time

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewIssuer 创建发号器并启动 worker
func NewIssuer(cfg Config) *Issuer {
	cfg = cfg.withDefaults()

	i := &Issuer{
		cfg:         cfg,
		queue:       make(chan *request, cfg.QueueSize),
		lastRequest: make(map[string]time.Time),
		labels:      make(map[string]string),
		issuedCount: make(map[string]int64),
		ring:        make([]IssuanceRecord, 0, cfg.RingSize),
		nowFunc:     time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go i.workerLoop()

	return i
}

// SetRecorder 设置发号记录钩子（应在开始发号前调用）
func (i *Issuer) SetRecorder(r Recorder) {
	i.mu.Lock()
	i.recorder = r
	i.mu.Unlock()
}

// RegisterCredential 登记凭证标签（仅用于观测，不影响发号正确性）
func (i *Issuer) RegisterCredential(credentialID, label string) {
	if credentialID == "" {
		return
	}
	i.mu.Lock()
	i.labels[credentialID] = label
	i.mu.Unlock()
	log.Infof("已登记凭证: %s (%s)", credentialID, label)
}

// Request 请求一个 nonce，阻塞直到发号完成或等待超时
// credentialID 可以为空（纯墙钟方案，不做同凭证间隔控制）
// 返回的 nonce 严格大于此前任何一次返回值
func (i *Issuer) Request(credentialID, label string) (int64, error) {
	return i.RequestContext(context.Background(), credentialID, label)
}

// RequestContext 带 context 的 Request
// ctx 取消只是调用方放弃等待；已入队的请求 worker 仍会完成，保证 lastIssued 前进
func (i *Issuer) RequestContext(ctx context.Context, credentialID, label string) (int64, error) {
	select {
	case <-i.stopCh:
		return 0, ErrShutdown
	default:
	}

	req := &request{
		id:           uuid.NewString(),
		credentialID: credentialID,
		label:        label,
		submittedAt:  i.nowFunc(),
		done:         make(chan int64, 1),
	}

	timer := time.NewTimer(i.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case i.queue <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-i.stopCh:
		return 0, ErrShutdown
	case <-timer.C:
		return i.fallback(req), nil
	}

	select {
	case n := <-req.done:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-i.stopCh:
		// 关停瞬间 worker 可能恰好已完成该请求
		select {
		case n := <-req.done:
			return n, nil
		default:
		}
		return 0, ErrShutdown
	case <-timer.C:
		return i.fallback(req), nil
	}
}

// RequestMicroseconds 请求微秒精度的 nonce（毫秒 nonce × 1000），十进制字符串
// 部分协议要求微秒级 token
func (i *Issuer) RequestMicroseconds(credentialID string) (string, error) {
	n, err := i.Request(credentialID, "microseconds")
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n*1000, 10), nil
}

// Shutdown 停止 worker 并等待其退出；之后所有请求返回 ErrShutdown
func (i *Issuer) Shutdown() error {
	i.closeOnce.Do(func() {
		close(i.stopCh)
	})

	select {
	case <-i.doneCh:
		return nil
	case <-time.After(i.cfg.ShutdownTimeout):
		return errors.New("等待 nonce worker 退出超时")
	}
}

// workerLoop 唯一的发号 worker，按提交顺序串行处理队列
func (i *Issuer) workerLoop() {
	defer close(i.doneCh)

	for {
		select {
		case <-i.stopCh:
			return
		case req := <-i.queue:
			i.serve(req)
		}
	}
}

// serve 处理单个请求；panic 在此捕获，短暂退避后 worker 继续运行
func (i *Issuer) serve(req *request) {
	defer func() {
		if r := recover(); r != nil {
			i.mu.Lock()
			i.workerFaults++
			i.mu.Unlock()
			log.Errorf("worker 处理请求 %s 异常: %v", req.id, r)
			time.Sleep(workerFaultBackoff)
		}
	}()

	i.throttle(req.credentialID)

	n, issuedAt := i.mint(req.credentialID)
	i.record(IssuanceRecord{
		ID:           req.id,
		CredentialID: req.credentialID,
		Label:        req.label,
		Nonce:        n,
		Source:       SourceWorker,
		SubmittedAt:  req.submittedAt,
		IssuedAt:     issuedAt,
	})

	select {
	case req.done <- n:
	default:
	}
}

// throttle 同一凭证发号间隔不足最小间隔时，补足睡眠后再铸造
// 间隔控制只存在于发号路径，与缓存读取无关
func (i *Issuer) throttle(credentialID string) {
	if credentialID == "" || i.cfg.MinRequestInterval <= 0 {
		return
	}

	i.mu.Lock()
	last, ok := i.lastRequest[credentialID]
	i.mu.Unlock()
	if !ok {
		return
	}

	if wait := i.cfg.MinRequestInterval - i.nowFunc().Sub(last); wait > 0 {
		time.Sleep(wait)
	}
}

func (i *Issuer) mint(credentialID string) (int64, time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mintLocked(credentialID)
}

// mintLocked 铸造算法，调用方必须持有 mu
// candidate <= lastIssued 时步进 1，否则跳到 candidate；
// 墙钟停滞或回拨时依然严格递增
func (i *Issuer) mintLocked(credentialID string) (int64, time.Time) {
	now := i.nowFunc()

	candidate := now.UnixMilli()
	if candidate <= i.lastIssued {
		i.lastIssued++
	} else {
		i.lastIssued = candidate
	}

	if credentialID != "" {
		i.lastRequest[credentialID] = now
	}
	i.issuedCount[countKey(credentialID)]++

	return i.lastIssued, now
}

// fallback 队列等待超时后的直接发号
// 与 worker 持同一把锁铸造，不会产生重复 token；
// 代价是这一次请求脱离 FIFO 顺序（文档化的唯一例外）
func (i *Issuer) fallback(req *request) int64 {
	i.mu.Lock()
	i.timeoutCount++
	i.fallbackCount++
	n, issuedAt := i.mintLocked(req.credentialID)
	i.mu.Unlock()

	log.Warnf("请求 %s 等待队列超时（%v），走直接发号: nonce=%d", req.id, i.cfg.RequestTimeout, n)

	i.record(IssuanceRecord{
		ID:           req.id,
		CredentialID: req.credentialID,
		Label:        req.label,
		Nonce:        n,
		Source:       SourceFallback,
		SubmittedAt:  req.submittedAt,
		IssuedAt:     issuedAt,
	})
	return n
}

// record 写入环形缓冲区并转发给 Recorder
func (i *Issuer) record(rec IssuanceRecord) {
	i.ringMu.Lock()
	if len(i.ring) < i.cfg.RingSize {
		i.ring = append(i.ring, rec)
	} else {
		i.ring[i.ringNext] = rec
	}
	i.ringNext = (i.ringNext + 1) % i.cfg.RingSize
	i.ringMu.Unlock()

	i.mu.Lock()
	rcd := i.recorder
	i.mu.Unlock()
	if rcd != nil {
		rcd.Record(rec)
	}
}

func countKey(credentialID string) string {
	if credentialID == "" {
		return "anonymous"
	}
	return credentialID
}

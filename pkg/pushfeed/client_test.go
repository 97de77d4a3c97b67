package pushfeed

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/betbot/apigate/pkg/cache"
)

type recordingSink struct {
	mu           sync.Mutex
	frames       []Frame
	disconnected []bool
}

func (s *recordingSink) ConsumePush(category cache.Category, key string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, _ := payload.(json.RawMessage)
	s.frames = append(s.frames, Frame{Category: string(category), Key: key, Payload: raw})
}

func (s *recordingSink) SetDisconnected(disconnected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, disconnected)
}

func newTestClient(sink Sink) *Client {
	cfg := DefaultConfig()
	cfg.URL = "ws://localhost/feed"
	cfg.ReconnectEnabled = false
	return New(sink, cfg)
}

func TestHandleMessage_SingleFrame(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(sink)

	c.handleMessage([]byte(`{"category":"critical","key":"balances","payload":{"USDC":100}}`))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sink.frames))
	}
	f := sink.frames[0]
	if f.Category != "critical" || f.Key != "balances" {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestHandleMessage_FrameArray(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(sink)

	c.handleMessage([]byte(`[
		{"category":"standard","key":"positions","payload":1},
		{"category":"volatile","key":"fills","payload":2},
		{"category":"standard","key":"","payload":3}
	]`))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	// 空 key 的帧被丢弃
	if len(sink.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(sink.frames))
	}
	if sink.frames[0].Key != "positions" || sink.frames[1].Key != "fills" {
		t.Fatalf("unexpected frames: %+v", sink.frames)
	}
}

func TestHandleMessage_PongAndGarbage(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(sink)

	c.handleMessage([]byte("PONG"))
	c.handleMessage([]byte("hello"))

	sink.mu.Lock()
	frames := len(sink.frames)
	sink.mu.Unlock()
	if frames != 0 {
		t.Fatalf("text messages must not reach the sink")
	}

	// 无法解析的 JSON 进错误通道而不是 panic
	c.handleMessage([]byte(`{"broken":`))
	select {
	case err := <-c.Errors():
		if err == nil {
			t.Fatalf("expected parse error")
		}
	default:
		t.Fatalf("expected an error on the error channel")
	}
}

func TestDeliver_NilSink(t *testing.T) {
	c := newTestClient(nil)
	// sink 为 nil 时投递是空操作
	c.deliver(Frame{Category: "standard", Key: "k"})
}

package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	fail map[int64]bool
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.ChatID] {
		return errors.New("blocked by user")
	}
	s.sent = append(s.sent, msg)
	return nil
}

type countingObserver struct {
	ok, failed int
}

func (o *countingObserver) ObserveDelivery(_ string, err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func TestNotifySendsMarkdown(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, nil, testLogger())

	if err := n.Notify(context.Background(), "alert", 7, "*hi*"); err != nil {
		t.Fatalf("Notify 应成功: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].ChatID != 7 || !sender.sent[0].Markdown {
		t.Fatalf("消息内容不正确: %+v", sender.sent)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	sender := &recordingSender{fail: map[int64]bool{2: true}}
	obs := &countingObserver{}
	n := NewNotifier(sender, obs, testLogger())

	res := n.Broadcast(context.Background(), "broadcast", []int64{1, 2, 3}, "rates")
	if res.Delivered != 2 || res.Failed != 1 {
		t.Fatalf("单个接收者失败不应影响其他人: %+v", res)
	}
	if res.Err == nil {
		t.Fatal("失败应汇总到 Err")
	}
	if len(sender.sent) != 2 || sender.sent[1].ChatID != 3 {
		t.Fatalf("接收者 3 应收到消息: %+v", sender.sent)
	}
	if obs.ok != 2 || obs.failed != 1 {
		t.Fatalf("observer 计数不正确: %+v", obs)
	}
}

func TestBroadcastStopsOnCancel(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := n.Broadcast(ctx, "broadcast", []int64{1, 2}, "rates")
	if res.Delivered != 0 || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("取消后不应继续发送: %+v", res)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

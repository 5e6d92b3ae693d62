package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tableready/internal/dto"
)

// ── Mock Sweeper ──

type mockSweeper struct {
	mu     sync.Mutex
	calls  []time.Time
	result *dto.SweepResponse
	err    error
}

func (m *mockSweeper) SweepExpired(_ context.Context, now time.Time) (*dto.SweepResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	return m.result, m.err
}

func (m *mockSweeper) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ── Mock ChangeSource / Publisher ──

type mockSource struct {
	payloads []string
}

func (m *mockSource) Run(ctx context.Context, handle func(ctx context.Context, payload string)) error {
	for _, p := range m.payloads {
		handle(ctx, p)
	}
	return nil
}

type published struct {
	channel string
	payload string
}

type mockPublisher struct {
	sent []published
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, published{channel: channel, payload: string(payload)})
	return nil
}

// ═══════════════════════════════════════════════════════════
// ExpirySweeper
// ═══════════════════════════════════════════════════════════

func TestExpirySweeper_RunOnce_PassesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	mock := &mockSweeper{result: &dto.SweepResponse{Scanned: 3, Expired: 2, Skipped: 1}}
	s := NewExpirySweeper(mock, time.Minute, zap.NewNop())
	s.now = func() time.Time { return fixed }

	result := s.RunOnce(context.Background())
	if result == nil || result.Expired != 2 {
		t.Fatalf("RunOnce 应返回扫描结果: %+v", result)
	}
	if len(mock.calls) != 1 || !mock.calls[0].Equal(fixed) {
		t.Errorf("应以注入的时钟调用 SweepExpired: %v", mock.calls)
	}
}

func TestExpirySweeper_RunOnce_ErrorSwallowed(t *testing.T) {
	mock := &mockSweeper{err: errors.New("db down")}
	s := NewExpirySweeper(mock, time.Minute, zap.NewNop())

	if result := s.RunOnce(context.Background()); result != nil {
		t.Errorf("扫描失败时应返回 nil，实际 %+v", result)
	}
}

func TestExpirySweeper_Run_StopsOnCancel(t *testing.T) {
	mock := &mockSweeper{result: &dto.SweepResponse{}}
	s := NewExpirySweeper(mock, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for mock.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run 应返回 context.Canceled，实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run 未在取消后退出")
	}
	if mock.count() < 2 {
		t.Errorf("启动即扫描一次且按周期继续，实际调用 %d 次", mock.count())
	}
}

func TestNewExpirySweeper_DefaultInterval(t *testing.T) {
	s := NewExpirySweeper(&mockSweeper{}, 0, zap.NewNop())
	if s.interval != 30*time.Second {
		t.Errorf("默认周期应为 30s，实际 %v", s.interval)
	}
}

// ═══════════════════════════════════════════════════════════
// ChangeRelay
// ═══════════════════════════════════════════════════════════

func TestChangeRelay_PublishesPerVenue(t *testing.T) {
	payload := `{"op":"UPDATE","entry_id":"e-1","venue_id":"v-1","status":"ready","version":3}`
	source := &mockSource{payloads: []string{payload}}
	pub := &mockPublisher{}
	relay := NewChangeRelay(source, pub, "tableready", zap.NewNop())

	if err := relay.Run(context.Background()); err != nil {
		t.Fatalf("Run 应成功: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("应转发 1 条，实际 %d", len(pub.sent))
	}
	if pub.sent[0].channel != "tableready:v-1" || pub.sent[0].payload != payload {
		t.Errorf("转发内容不正确: %+v", pub.sent[0])
	}
}

func TestChangeRelay_SkipsMalformed(t *testing.T) {
	source := &mockSource{payloads: []string{"not json", `{"entry_id":"e-1"}`}}
	pub := &mockPublisher{}
	relay := NewChangeRelay(source, pub, "", zap.NewNop())

	if err := relay.Run(context.Background()); err != nil {
		t.Fatalf("Run 应成功: %v", err)
	}
	if len(pub.sent) != 0 {
		t.Errorf("无法解析或缺少 venue_id 的通知不应转发: %+v", pub.sent)
	}
	if relay.Channel("v-2") != "venue:v-2" {
		t.Errorf("默认前缀应为 venue，实际 %s", relay.Channel("v-2"))
	}
}

func TestChangeRelay_PublishErrorIgnored(t *testing.T) {
	source := &mockSource{payloads: []string{
		`{"venue_id":"v-1","entry_id":"e-1"}`,
		`{"venue_id":"v-2","entry_id":"e-2"}`,
	}}
	pub := &mockPublisher{err: errors.New("redis down")}
	relay := NewChangeRelay(source, pub, "venue", zap.NewNop())

	if err := relay.Run(context.Background()); err != nil {
		t.Errorf("转发失败不应中断订阅: %v", err)
	}
}

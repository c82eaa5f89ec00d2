package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func waitPush(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push")
		return ""
	}
}

func assertNoPush(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected push: %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestManager(analysis string, autoTrading bool) (*Manager, chan string) {
	pushes := make(chan string, 16)
	analyze := func(ctx context.Context, symbol string) string { return analysis }
	decide := func(ctx context.Context, symbol, technical string) string {
		return "建议持有 " + symbol
	}
	notify := func(msg string) { pushes <- msg }
	m := NewManager(analyze, decide, notify, func() bool { return autoTrading }, zerolog.Nop())
	return m, pushes
}

func TestStartRunsImmediateAnalysis(t *testing.T) {
	m, pushes := newTestManager("上涨趋势", false)
	defer m.StopAll()

	res := m.Start("BTCUSDT", 30)
	if !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	if res.Message != "已开始监控 BTCUSDT，间隔 30 分钟" {
		t.Errorf("message = %q", res.Message)
	}

	msg := waitPush(t, pushes)
	if !strings.HasPrefix(msg, "📊 **BTC 定时分析**\n\n") || !strings.Contains(msg, "上涨趋势") {
		t.Errorf("push = %q", msg)
	}
	assertNoPush(t, pushes) // auto trading off: no trader follow-up
}

func TestStartDuplicateRejected(t *testing.T) {
	m, pushes := newTestManager("ok", false)
	defer m.StopAll()

	m.Start("BTCUSDT", 30)
	waitPush(t, pushes)

	res := m.Start("BTCUSDT", 15)
	if res.Success {
		t.Fatal("duplicate Start succeeded")
	}
	if res.Message != "BTCUSDT 已在监控中" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestStopUnknownSymbol(t *testing.T) {
	m, _ := newTestManager("ok", false)

	res := m.Stop("ETHUSDT")
	if res.Success {
		t.Fatal("Stop on unknown symbol succeeded")
	}
	if res.Message != "ETHUSDT 未在监控中" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestStopEndsWorkerAndAllowsRestart(t *testing.T) {
	m, pushes := newTestManager("ok", false)
	defer m.StopAll()

	m.Start("BTCUSDT", 30)
	waitPush(t, pushes)

	res := m.Stop("BTCUSDT")
	if !res.Success || res.Message != "已停止监控 BTCUSDT" {
		t.Fatalf("Stop = %+v", res)
	}
	if st := m.Status(); st.ActiveCount != 0 {
		t.Errorf("active count after stop = %d", st.ActiveCount)
	}

	// Same symbol can be monitored again once stopped.
	if res := m.Start("BTCUSDT", 15); !res.Success {
		t.Fatalf("restart failed: %+v", res)
	}
	waitPush(t, pushes)
}

func TestStatusListsActiveMonitors(t *testing.T) {
	m, pushes := newTestManager("ok", false)
	defer m.StopAll()

	m.Start("BTCUSDT", 30)
	m.Start("ETHUSDT", 15)
	waitPush(t, pushes)
	waitPush(t, pushes)

	st := m.Status()
	if st.ActiveCount != 2 || len(st.Monitors) != 2 {
		t.Fatalf("status = %+v", st)
	}
	intervals := make(map[string]int)
	for _, e := range st.Monitors {
		intervals[e.Symbol] = e.IntervalMinutes
	}
	if intervals["BTCUSDT"] != 30 || intervals["ETHUSDT"] != 15 {
		t.Errorf("intervals = %v", intervals)
	}
}

func TestAutoTradingChainsTraderDecision(t *testing.T) {
	m, pushes := newTestManager("上涨趋势", true)
	defer m.StopAll()

	m.Start("BTCUSDT", 30)

	first := waitPush(t, pushes)
	if !strings.HasPrefix(first, "📊 **BTC 定时分析**") {
		t.Errorf("first push = %q", first)
	}
	second := waitPush(t, pushes)
	if !strings.HasPrefix(second, "💼 **BTC 交易员决策**\n\n") || !strings.Contains(second, "建议持有 BTCUSDT") {
		t.Errorf("second push = %q", second)
	}
}

func TestEmptyAnalysisNotPushed(t *testing.T) {
	m, pushes := newTestManager("", true)
	defer m.StopAll()

	m.Start("BTCUSDT", 30)
	assertNoPush(t, pushes)
}

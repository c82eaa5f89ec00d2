package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/analysts"
	"github.com/BlackBearCC/crypto-agent/internal/capability"
	"github.com/BlackBearCC/crypto-agent/internal/config"
	"github.com/BlackBearCC/crypto-agent/internal/llm"
	"github.com/BlackBearCC/crypto-agent/internal/market"
	"github.com/BlackBearCC/crypto-agent/internal/models"
	"github.com/BlackBearCC/crypto-agent/internal/store"
)

// fakeAnalyzer records every context it sees and answers deterministically
// so tests can trace which inputs reached which role.
type fakeAnalyzer struct {
	name string
	fail bool

	mu       sync.Mutex
	calls    int
	contexts []*analysts.Context
}

func (f *fakeAnalyzer) Analyze(_ context.Context, ac *analysts.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.contexts = append(f.contexts, ac)
	if f.fail {
		return "❌ " + f.name + "失败"
	}
	if ac.TargetSymbol == "" {
		return f.name + "报告"
	}
	return f.name + "报告:" + ac.TargetSymbol
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnalyzer) contextFor(symbol string) *analysts.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ac := range f.contexts {
		if ac.TargetSymbol == symbol {
			return ac
		}
	}
	return nil
}

type fakeTrader struct {
	mu            sync.Mutex
	decisions     int
	conducts      int
	lastSymbol    string
	lastTechnical string
	lastResults   *analysts.ResearchResults
	lastQuestion  string
}

func (f *fakeTrader) AnalyzeTradingDecision(_ context.Context, symbol, technicalAnalysis string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions++
	f.lastSymbol = symbol
	f.lastTechnical = technicalAnalysis
	return "决策:" + symbol
}

func (f *fakeTrader) ConductTradingAnalysis(_ context.Context, results *analysts.ResearchResults, question string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conducts++
	f.lastResults = results
	f.lastQuestion = question
	return "交易决策"
}

// fakeCollector serves synthetic candles and empty-but-present market
// blocks; klineErr switches every kline fetch to failure.
type fakeCollector struct {
	mu       sync.Mutex
	klineErr error
	fetches  []string
}

func testCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		price := 100 + float64(i)
		out[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    1000,
		}
	}
	return out
}

func (f *fakeCollector) CollectKlineData(_ context.Context, symbol string) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, symbol)
	if f.klineErr != nil {
		return nil, f.klineErr
	}
	return testCandles(60), nil
}

func (f *fakeCollector) CollectGlobalMarketData(context.Context) (*market.GlobalMarketData, error) {
	return &market.GlobalMarketData{}, nil
}

func (f *fakeCollector) GetFearGreedIndex(context.Context) (*market.FearGreedIndex, error) {
	return &market.FearGreedIndex{}, nil
}

func (f *fakeCollector) CollectTrendingData(context.Context) ([]market.TrendingCoin, error) {
	return []market.TrendingCoin{}, nil
}

func (f *fakeCollector) CollectMajorCoinsPerformance(context.Context) ([]market.CoinPerformance, error) {
	return []market.CoinPerformance{}, nil
}

func (f *fakeCollector) Period() string { return "15m" }

func (f *fakeCollector) fetched(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.fetches {
		if s == symbol {
			return true
		}
	}
	return false
}

type fakeFutures struct {
	configured bool
}

func (f *fakeFutures) GetAccountBalance(context.Context) map[string]interface{} {
	return map[string]interface{}{"success": true, "total_wallet_balance": 1000.0}
}

func (f *fakeFutures) GetCurrentPositions(context.Context) map[string]interface{} {
	return map[string]interface{}{"success": true, "positions": []map[string]interface{}{}}
}

func (f *fakeFutures) IsConfigured() bool { return f.configured }

// fakeLLM powers the master brain in dispatch tests: scripted replies, one
// per call, defaulting to a plain acknowledgement.
type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (f *fakeLLM) Call(_ context.Context, _, _, _ string, _ ...llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply := "好的"
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	return reply, nil
}

type fixture struct {
	ctrl        *Controller
	store       *store.MemoryStore
	technical   *fakeAnalyzer
	sentiment   *fakeAnalyzer
	fundamental *fakeAnalyzer
	macro       *fakeAnalyzer
	chief       *fakeAnalyzer
	trader      *fakeTrader
	collector   *fakeCollector
	futures     *fakeFutures
	brainLLM    *fakeLLM
}

func testConfig() *config.Config {
	return &config.Config{
		System: config.SystemConfig{Name: "crypto-agent", Version: "test", Mode: "standby"},
		Monitor: config.MonitorConfig{
			PrimarySymbols:         []string{"BTCUSDT", "ETHUSDT"},
			DefaultIntervalMinutes: 30,
		},
		Triggers: config.TriggersConfig{NormalInterval: 300},
		Trading:  config.TradingConfig{AutoTrading: false},
	}
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	f := &fixture{
		store:       store.NewMemory(),
		technical:   &fakeAnalyzer{name: "技术分析"},
		sentiment:   &fakeAnalyzer{name: "市场情绪"},
		fundamental: &fakeAnalyzer{name: "基本面"},
		macro:       &fakeAnalyzer{name: "宏观"},
		chief:       &fakeAnalyzer{name: "首席"},
		trader:      &fakeTrader{},
		collector:   &fakeCollector{},
		futures:     &fakeFutures{configured: true},
		brainLLM:    &fakeLLM{},
	}

	ctrl, err := New(Deps{
		Config:      cfg,
		Store:       f.store,
		Collector:   f.collector,
		Futures:     f.futures,
		Technical:   f.technical,
		Sentiment:   f.sentiment,
		Fundamental: f.fundamental,
		Macro:       f.macro,
		Chief:       f.chief,
		Trader:      f.trader,
		Brain:       f.brainLLM,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ctrl = ctrl
	return f
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, testConfig())
}

func (f *fixture) invoke(t *testing.T, name string, args map[string]interface{}) string {
	t.Helper()
	result, found := f.ctrl.registry.Invoke(context.Background(), name, args)
	if !found {
		t.Fatalf("capability %q not registered", name)
	}
	return result
}

func (f *fixture) recordCount(t *testing.T, dataType string) int {
	t.Helper()
	recs, err := f.store.GetAnalysisRecords(context.Background(), dataType, "", 100)
	if err != nil {
		t.Fatalf("GetAnalysisRecords(%s): %v", dataType, err)
	}
	return len(recs)
}

func TestCapabilitySetIsClosedAndOrdered(t *testing.T) {
	f := newFixture(t)

	want := []string{
		"technical_analysis",
		"market_sentiment_analysis",
		"fundamental_analysis",
		"macro_analysis",
		"comprehensive_analysis",
		"get_account_status",
		"get_current_positions",
		"trading_analysis",
		"get_market_data",
		"manual_trigger_analysis",
		"send_telegram_notification",
		"get_system_status",
		"set_monitoring_symbols",
		"get_monitoring_symbols",
		"set_heartbeat_interval",
		"get_heartbeat_settings",
		"start_symbol_monitor",
		"stop_symbol_monitor",
		"get_symbol_monitors_status",
	}
	got := f.ctrl.registry.Names()
	if len(got) != len(want) {
		t.Fatalf("Expected %d capabilities, got %d: %v", len(want), len(got), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("Capability %d: expected %q, got %q", i, name, got[i])
		}
	}

	// The set is frozen: nothing can be added after construction.
	err := f.ctrl.registry.Register(capability.Descriptor{
		Name:        "late_capability",
		Description: "should be rejected",
		Handler:     func(context.Context, map[string]interface{}) string { return "" },
	})
	if err == nil {
		t.Error("Expected frozen registry to reject registration")
	}
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)

	if got := f.ctrl.State(); got != StateInitialized {
		t.Fatalf("Expected state %q after New, got %q", StateInitialized, got)
	}

	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.ctrl.State(); got != StateRunning {
		t.Errorf("Expected state %q after Start, got %q", StateRunning, got)
	}
	if err := f.ctrl.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}

	f.ctrl.Stop()
	if got := f.ctrl.State(); got != StateStopped {
		t.Errorf("Expected state %q after Stop, got %q", StateStopped, got)
	}
	// Stop after Stop is a no-op.
	f.ctrl.Stop()
}

func TestRunBaseAnalysisPersistsAllRecordTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.RunBaseAnalysis(ctx)

	if n := f.recordCount(t, models.DataTypeMacro); n != 1 {
		t.Errorf("Expected 1 macro record, got %d", n)
	}
	if n := f.recordCount(t, models.DataTypeMarketSentiment); n != 1 {
		t.Errorf("Expected 1 sentiment record, got %d", n)
	}
	recs, err := f.store.GetAnalysisRecords(ctx, models.DataTypeFundamental, "", 100)
	if err != nil {
		t.Fatalf("GetAnalysisRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 fundamental records (one per primary symbol), got %d", len(recs))
	}
	symbols := map[string]bool{}
	for _, rec := range recs {
		symbols[rec.Symbol] = true
		if rec.AgentName != analysts.NameFundamental {
			t.Errorf("Expected agent %q, got %q", analysts.NameFundamental, rec.AgentName)
		}
	}
	if !symbols["BTCUSDT"] || !symbols["ETHUSDT"] {
		t.Errorf("Expected fundamental records for both primary symbols, got %v", symbols)
	}

	// The scheduled batch always runs macro fresh; a capability call right
	// after it is served from the day cache.
	if f.macro.callCount() != 1 {
		t.Fatalf("Expected 1 macro run, got %d", f.macro.callCount())
	}
	cached := f.ctrl.MacroAnalysis(ctx)
	if f.macro.callCount() != 1 {
		t.Errorf("Expected cached macro reply, got a fresh run (%d calls)", f.macro.callCount())
	}
	if cached != "宏观报告" {
		t.Errorf("Expected cached macro text, got %q", cached)
	}

	// A second scheduled batch forces another macro run.
	f.ctrl.RunBaseAnalysis(ctx)
	if f.macro.callCount() != 2 {
		t.Errorf("Expected scheduled batch to force a fresh macro run, got %d calls", f.macro.callCount())
	}
}

func TestMacroAnalysisOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.ctrl.MacroAnalysis(ctx)
	second := f.ctrl.MacroAnalysis(ctx)
	if f.macro.callCount() != 1 {
		t.Fatalf("Expected exactly 1 macro run for same-day calls, got %d", f.macro.callCount())
	}
	if first != second {
		t.Errorf("Expected identical cached reply, got %q then %q", first, second)
	}
	if n := f.recordCount(t, models.DataTypeMacro); n != 1 {
		t.Errorf("Expected 1 persisted macro record, got %d", n)
	}

	// The next calendar day gets a fresh run.
	f.ctrl.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	f.ctrl.MacroAnalysis(ctx)
	if f.macro.callCount() != 2 {
		t.Errorf("Expected a fresh macro run on a new day, got %d calls", f.macro.callCount())
	}
}

func TestMacroQuotaSurvivesRestartViaStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ctrl.MacroAnalysis(ctx)
	if f.macro.callCount() != 1 {
		t.Fatalf("Expected 1 macro run, got %d", f.macro.callCount())
	}

	// A second controller over the same store starts with a cold cache but
	// still honors today's quota through the stored record.
	freshMacro := &fakeAnalyzer{name: "宏观"}
	ctrl, err := New(Deps{
		Config:      testConfig(),
		Store:       f.store,
		Collector:   &fakeCollector{},
		Futures:     &fakeFutures{},
		Technical:   &fakeAnalyzer{name: "技术分析"},
		Sentiment:   &fakeAnalyzer{name: "市场情绪"},
		Fundamental: &fakeAnalyzer{name: "基本面"},
		Macro:       freshMacro,
		Chief:       &fakeAnalyzer{name: "首席"},
		Trader:      &fakeTrader{},
		Brain:       &fakeLLM{},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply := ctrl.MacroAnalysis(ctx)
	if freshMacro.callCount() != 0 {
		t.Errorf("Expected stored record to satisfy the quota, got %d fresh runs", freshMacro.callCount())
	}
	if reply != "宏观报告" {
		t.Errorf("Expected stored macro content, got %q", reply)
	}
}

func TestAnalyzeSymbolNormalizesAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report := f.ctrl.AnalyzeSymbol(ctx, "btc")
	if report != "技术分析报告:BTCUSDT" {
		t.Fatalf("Unexpected report: %q", report)
	}
	if !f.collector.fetched("BTCUSDT") {
		t.Error("Expected kline fetch for BTCUSDT")
	}

	recs, err := f.store.GetAnalysisRecords(ctx, models.DataTypeTechnical, "", 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Expected 1 technical record, got %d (err %v)", len(recs), err)
	}
	if recs[0].Symbol != "BTCUSDT" || recs[0].AgentName != analysts.NameTechnical {
		t.Errorf("Unexpected record: %+v", recs[0])
	}
}

func TestErrorRepliesAreNotPersisted(t *testing.T) {
	f := newFixture(t)
	f.technical.fail = true

	report := f.ctrl.AnalyzeSymbol(context.Background(), "BTC")
	if !strings.HasPrefix(report, "❌") {
		t.Fatalf("Expected error reply, got %q", report)
	}
	if n := f.recordCount(t, models.DataTypeTechnical); n != 0 {
		t.Errorf("Expected error reply to stay out of the store, got %d records", n)
	}
}

func TestKlineFailureStillRunsAnalyst(t *testing.T) {
	f := newFixture(t)
	f.collector.klineErr = errors.New("exchange down")

	f.ctrl.AnalyzeSymbol(context.Background(), "BTC")
	ac := f.technical.contextFor("BTCUSDT")
	if ac == nil {
		t.Fatal("Expected analyst to run despite kline failure")
	}
	if ac.HasKlineData() {
		t.Error("Expected empty kline context on fetch failure")
	}
}

func TestSetHeartbeatIntervalBounds(t *testing.T) {
	f := newFixture(t)

	if reply := f.invoke(t, "set_heartbeat_interval", map[string]interface{}{"interval_seconds": "30"}); reply != "❌ 心跳间隔不能少于60秒" {
		t.Errorf("Unexpected reply for 30s: %q", reply)
	}
	if reply := f.invoke(t, "set_heartbeat_interval", map[string]interface{}{"interval_seconds": "4000"}); reply != "❌ 心跳间隔不能超过3600秒" {
		t.Errorf("Unexpected reply for 4000s: %q", reply)
	}
	if f.ctrl.HeartbeatInterval() != 300 {
		t.Fatalf("Expected interval unchanged at 300, got %d", f.ctrl.HeartbeatInterval())
	}

	reply := f.invoke(t, "set_heartbeat_interval", map[string]interface{}{"interval_seconds": "600"})
	if reply != "✅ 心跳间隔已设置为 600 秒" {
		t.Errorf("Unexpected success reply: %q", reply)
	}
	if f.ctrl.HeartbeatInterval() != 600 {
		t.Errorf("Expected interval 600, got %d", f.ctrl.HeartbeatInterval())
	}

	var settings map[string]interface{}
	if err := json.Unmarshal([]byte(f.invoke(t, "get_heartbeat_settings", nil)), &settings); err != nil {
		t.Fatalf("Settings reply is not JSON: %v", err)
	}
	if settings["interval_seconds"].(float64) != 600 {
		t.Errorf("Expected settings to report 600, got %v", settings["interval_seconds"])
	}

	if reply := f.invoke(t, "set_heartbeat_interval", map[string]interface{}{"interval_seconds": "abc"}); reply != "❌ 缺少必需参数: interval_seconds" {
		t.Errorf("Unexpected reply for unparsable interval: %q", reply)
	}
}

func TestSetMonitoringSymbolsPersistsDynamicConfig(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "test_token")
	t.Setenv(config.EnvTelegramChat, "123456")
	t.Setenv(config.EnvDoubaoKey, "test_key")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  default_provider: doubao\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := newFixtureWithConfig(t, cfg)

	reply := f.invoke(t, "set_monitoring_symbols", map[string]interface{}{
		"primary_symbols":   []string{"btc", "sol"},
		"secondary_symbols": "doge",
	})
	if !strings.HasPrefix(reply, "✅") || !strings.Contains(reply, "BTCUSDT, SOLUSDT") || !strings.Contains(reply, "DOGEUSDT") {
		t.Errorf("Unexpected reply: %q", reply)
	}

	primary, secondary := f.ctrl.MonitoringSymbols()
	if len(primary) != 2 || primary[0] != "BTCUSDT" || primary[1] != "SOLUSDT" {
		t.Errorf("Unexpected primary list: %v", primary)
	}
	if len(secondary) != 1 || secondary[0] != "DOGEUSDT" {
		t.Errorf("Unexpected secondary list: %v", secondary)
	}

	// The change survives a config reload via the dynamic overrides file.
	reloaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Monitor.PrimarySymbols) != 2 || reloaded.Monitor.PrimarySymbols[1] != "SOLUSDT" {
		t.Errorf("Expected persisted primary symbols, got %v", reloaded.Monitor.PrimarySymbols)
	}

	// Empty primary list is rejected and state stays put.
	reply = f.invoke(t, "set_monitoring_symbols", map[string]interface{}{"primary_symbols": []string{}})
	if reply != "❌ 缺少必需参数: primary_symbols" {
		t.Errorf("Unexpected reply for empty primary: %q", reply)
	}

	var lists map[string][]string
	if err := json.Unmarshal([]byte(f.invoke(t, "get_monitoring_symbols", nil)), &lists); err != nil {
		t.Fatalf("Symbols reply is not JSON: %v", err)
	}
	if len(lists["primary_symbols"]) != 2 {
		t.Errorf("Expected 2 primary symbols in reply, got %v", lists["primary_symbols"])
	}
}

func TestSystemStatus(t *testing.T) {
	f := newFixture(t)

	var status map[string]interface{}
	if err := json.Unmarshal([]byte(f.invoke(t, "get_system_status", nil)), &status); err != nil {
		t.Fatalf("Status reply is not JSON: %v", err)
	}
	if status["state"] != StateInitialized {
		t.Errorf("Expected state %q, got %v", StateInitialized, status["state"])
	}
	if status["mode"] != "standby" {
		t.Errorf("Expected mode standby, got %v", status["mode"])
	}
	if status["futures_configured"] != true {
		t.Errorf("Expected futures_configured true, got %v", status["futures_configured"])
	}
	if status["heartbeat_interval_seconds"].(float64) != 300 {
		t.Errorf("Expected heartbeat 300, got %v", status["heartbeat_interval_seconds"])
	}
}

func TestSendNotification(t *testing.T) {
	f := newFixture(t)

	if reply := f.invoke(t, "send_telegram_notification", map[string]interface{}{"message": "你好"}); reply != "❌ 通知通道未初始化" {
		t.Errorf("Expected unwired notifier error, got %q", reply)
	}

	var sent []string
	f.ctrl.SetNotifier(func(message string) error {
		sent = append(sent, message)
		return nil
	})
	if reply := f.invoke(t, "send_telegram_notification", map[string]interface{}{"message": "你好"}); reply != "✅ 通知已发送" {
		t.Errorf("Unexpected reply: %q", reply)
	}
	if len(sent) != 1 || sent[0] != "你好" {
		t.Errorf("Expected one delivered message, got %v", sent)
	}

	f.ctrl.SetNotifier(func(string) error { return errors.New("telegram down") })
	if reply := f.invoke(t, "send_telegram_notification", map[string]interface{}{"message": "再试"}); !strings.HasPrefix(reply, "❌ 通知发送失败") {
		t.Errorf("Expected delivery failure reply, got %q", reply)
	}
}

func TestSymbolMonitorCapabilities(t *testing.T) {
	f := newFixture(t)
	f.ctrl.SetNotifier(func(string) error { return nil })

	reply := f.invoke(t, "start_symbol_monitor", map[string]interface{}{"symbol": "eth"})
	if reply != "✅ 已开始监控 ETHUSDT，间隔 30 分钟" {
		t.Fatalf("Unexpected start reply: %q", reply)
	}
	if reply := f.invoke(t, "start_symbol_monitor", map[string]interface{}{"symbol": "ETHUSDT"}); reply != "❌ ETHUSDT 已在监控中" {
		t.Errorf("Expected duplicate rejection, got %q", reply)
	}

	var status map[string]interface{}
	if err := json.Unmarshal([]byte(f.invoke(t, "get_symbol_monitors_status", nil)), &status); err != nil {
		t.Fatalf("Monitor status reply is not JSON: %v", err)
	}
	if status["active_count"].(float64) != 1 {
		t.Errorf("Expected 1 active monitor, got %v", status["active_count"])
	}

	if reply := f.invoke(t, "stop_symbol_monitor", map[string]interface{}{"symbol": "eth"}); reply != "✅ 已停止监控 ETHUSDT" {
		t.Errorf("Unexpected stop reply: %q", reply)
	}
	if reply := f.invoke(t, "stop_symbol_monitor", map[string]interface{}{"symbol": "eth"}); reply != "❌ ETHUSDT 未在监控中" {
		t.Errorf("Expected not-monitoring rejection, got %q", reply)
	}
}

func TestProcessUserMessageDispatchesDirectives(t *testing.T) {
	f := newFixture(t)
	f.brainLLM.replies = []string{"我来看看大饼。\nFUNCTION_CALL: technical_analysis(symbol=\"BTC\")\n分析完成。"}

	reply := f.ctrl.ProcessUserMessage(context.Background(), "分析一下比特币", "chat-1")

	if !strings.Contains(reply, "技术分析报告:BTCUSDT") {
		t.Fatalf("Expected directive replaced by capability result, got %q", reply)
	}
	if strings.Contains(reply, "FUNCTION_CALL") {
		t.Errorf("Expected directive line removed, got %q", reply)
	}
	if f.technical.callCount() != 1 {
		t.Errorf("Expected 1 technical run, got %d", f.technical.callCount())
	}

	// Both sides of the exchange are persisted for the session.
	history, err := f.store.GetChatHistory(context.Background(), "chat-1", 10)
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 persisted messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("Unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestUnknownDirectiveReportedInReply(t *testing.T) {
	f := newFixture(t)
	f.brainLLM.replies = []string{"FUNCTION_CALL: execute_trade(symbol=\"BTC\")"}

	reply := f.ctrl.ProcessUserMessage(context.Background(), "帮我下单", "chat-1")
	if !strings.Contains(reply, "❌ 未知的函数调用") {
		t.Errorf("Expected unknown-capability reply, got %q", reply)
	}
}

func TestManualTriggerAnalysis(t *testing.T) {
	f := newFixture(t)

	reply := f.invoke(t, "manual_trigger_analysis", map[string]interface{}{"symbol": "sol"})
	if reply != "技术分析报告:SOLUSDT" {
		t.Errorf("Unexpected reply: %q", reply)
	}
	if n := f.recordCount(t, models.DataTypeTechnical); n != 1 {
		t.Errorf("Expected 1 technical record, got %d", n)
	}
}

func TestAccountCapabilities(t *testing.T) {
	f := newFixture(t)

	var balance map[string]interface{}
	if err := json.Unmarshal([]byte(f.invoke(t, "get_account_status", nil)), &balance); err != nil {
		t.Fatalf("Balance reply is not JSON: %v", err)
	}
	if balance["success"] != true {
		t.Errorf("Expected success balance, got %v", balance)
	}

	var positions map[string]interface{}
	if err := json.Unmarshal([]byte(f.invoke(t, "get_current_positions", nil)), &positions); err != nil {
		t.Fatalf("Positions reply is not JSON: %v", err)
	}
	if positions["success"] != true {
		t.Errorf("Expected success positions, got %v", positions)
	}
}

func TestGetMarketData(t *testing.T) {
	f := newFixture(t)

	var summary map[string]interface{}
	if err := json.Unmarshal([]byte(f.invoke(t, "get_market_data", map[string]interface{}{"symbol": "btc"})), &summary); err != nil {
		t.Fatalf("Market data reply is not JSON: %v", err)
	}
	quotes := summary["symbols"].(map[string]interface{})
	quote := quotes["BTCUSDT"].(map[string]interface{})
	if quote["latest_price"].(float64) != 159.5 {
		t.Errorf("Expected latest close 159.5, got %v", quote["latest_price"])
	}
	if summary["period"] != "15m" {
		t.Errorf("Expected period 15m, got %v", summary["period"])
	}

	if reply := f.invoke(t, "get_market_data", nil); reply != "❌ 缺少必需参数: symbol" {
		t.Errorf("Expected missing-arg reply, got %q", reply)
	}

	f.collector.klineErr = errors.New("binance 503")
	var failed map[string]interface{}
	if err := json.Unmarshal([]byte(f.invoke(t, "get_market_data", map[string]interface{}{"symbols": []string{"BTC"}})), &failed); err != nil {
		t.Fatalf("Market data reply is not JSON: %v", err)
	}
	failedQuote := failed["symbols"].(map[string]interface{})["BTCUSDT"].(map[string]interface{})
	if _, ok := failedQuote["error"]; !ok {
		t.Errorf("Expected per-symbol error entry, got %v", failedQuote)
	}
}

func TestMissingRequiredArguments(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"technical_analysis":         "symbol",
		"fundamental_analysis":       "symbol",
		"manual_trigger_analysis":    "symbol",
		"start_symbol_monitor":       "symbol",
		"stop_symbol_monitor":        "symbol",
		"send_telegram_notification": "message",
		"comprehensive_analysis":     "question",
		"trading_analysis":           "analysis_results",
	}
	for name, arg := range cases {
		want := fmt.Sprintf("❌ 缺少必需参数: %s", arg)
		if reply := f.invoke(t, name, nil); reply != want {
			t.Errorf("%s: expected %q, got %q", name, want, reply)
		}
	}
}

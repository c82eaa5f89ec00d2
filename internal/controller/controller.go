// Package controller is the application core. It owns the capability
// registry, the session manager, the symbol monitors, the wall-clock
// scheduler and the master brain, and exposes the operations the chat
// transport calls. Everything user-facing flows through here; the
// transport layer stays a thin shell.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BlackBearCC/crypto-agent/internal/analysts"
	"github.com/BlackBearCC/crypto-agent/internal/brain"
	"github.com/BlackBearCC/crypto-agent/internal/capability"
	"github.com/BlackBearCC/crypto-agent/internal/config"
	"github.com/BlackBearCC/crypto-agent/internal/llm"
	"github.com/BlackBearCC/crypto-agent/internal/market"
	"github.com/BlackBearCC/crypto-agent/internal/models"
	"github.com/BlackBearCC/crypto-agent/internal/monitor"
	"github.com/BlackBearCC/crypto-agent/internal/scheduler"
	"github.com/BlackBearCC/crypto-agent/internal/session"
	"github.com/BlackBearCC/crypto-agent/internal/store"
)

// Lifecycle states, reported by get_system_status.
const (
	StateInitialized = "initialized"
	StateRunning     = "running"
	StateStopped     = "stopped"
)

// Analyzer is one analyst role: context in, report text out. Failures come
// back as ❌ strings, never as errors.
type Analyzer interface {
	Analyze(ctx context.Context, ac *analysts.Context) string
}

// TraderAnalyst turns research output into trading decisions.
type TraderAnalyst interface {
	AnalyzeTradingDecision(ctx context.Context, symbol, technicalAnalysis string) string
	ConductTradingAnalysis(ctx context.Context, results *analysts.ResearchResults, question string) string
}

// MarketData is the collector surface the controller reads.
type MarketData interface {
	CollectKlineData(ctx context.Context, symbol string) ([]models.Candle, error)
	CollectGlobalMarketData(ctx context.Context) (*market.GlobalMarketData, error)
	GetFearGreedIndex(ctx context.Context) (*market.FearGreedIndex, error)
	CollectTrendingData(ctx context.Context) ([]market.TrendingCoin, error)
	CollectMajorCoinsPerformance(ctx context.Context) ([]market.CoinPerformance, error)
	Period() string
}

// Futures is the brokerage slice used by account capabilities and status.
type Futures interface {
	GetAccountBalance(ctx context.Context) map[string]interface{}
	GetCurrentPositions(ctx context.Context) map[string]interface{}
	IsConfigured() bool
}

// Deps bundles everything the controller is built from. Brain is the LLM
// client behind the master brain persona; Summarizer compresses session
// history and falls back to Brain when nil.
type Deps struct {
	Config *config.Config
	Store  store.Store

	Collector MarketData
	Futures   Futures

	Technical   Analyzer
	Sentiment   Analyzer
	Fundamental Analyzer
	Macro       Analyzer
	Chief       Analyzer
	Trader      TraderAnalyst

	Brain      llm.Client
	Summarizer llm.Client
}

// Controller coordinates the whole service. All mutable state sits behind
// mu; the macro day-cache has its own lock because capability calls touch
// it from pipeline goroutines.
type Controller struct {
	cfg    *config.Config
	store  store.Store
	logger zerolog.Logger

	collector MarketData
	futures   Futures

	technical   Analyzer
	sentiment   Analyzer
	fundamental Analyzer
	macroRole   Analyzer
	chief       Analyzer
	trader      TraderAnalyst

	registry *capability.Registry
	sessions *session.Manager
	monitors *monitor.Manager
	schedule *scheduler.Scheduler
	brain    *brain.Brain

	now func() time.Time

	mu          sync.RWMutex
	state       string
	startedAt   time.Time
	primary     []string
	secondary   []string
	heartbeat   int
	autoTrading bool
	notify      func(message string) error

	macroMu   sync.Mutex
	macroDate string
	macroText string
}

// New builds the controller and freezes its capability registry. The
// monitored symbol lists and heartbeat interval seed from config and only
// change through capabilities afterwards.
func New(deps Deps, logger zerolog.Logger) (*Controller, error) {
	cfg := deps.Config
	c := &Controller{
		cfg:         cfg,
		store:       deps.Store,
		collector:   deps.Collector,
		futures:     deps.Futures,
		technical:   deps.Technical,
		sentiment:   deps.Sentiment,
		fundamental: deps.Fundamental,
		macroRole:   deps.Macro,
		chief:       deps.Chief,
		trader:      deps.Trader,
		now:         time.Now,
		state:       StateInitialized,
		primary:     normalizeSymbols(cfg.Monitor.PrimarySymbols),
		secondary:   normalizeSymbols(cfg.Monitor.SecondarySymbols),
		heartbeat:   cfg.Triggers.NormalInterval,
		autoTrading: cfg.Trading.AutoTrading,
		logger:      logger.With().Str("component", "controller").Logger(),
	}

	c.registry = capability.NewRegistry(logger)
	if err := c.registerCapabilities(); err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}
	c.registry.Freeze()

	summarizer := deps.Summarizer
	if summarizer == nil {
		summarizer = deps.Brain
	}
	c.sessions = session.NewManager(summarizer, deps.Store, logger)
	c.brain = brain.New(deps.Brain, c.registry, c.sessions, c.PrimarySymbols, cfg.System.Mode, logger)
	c.monitors = monitor.NewManager(c.AnalyzeSymbol, c.decideTrade, c.pushMessage, c.AutoTradingEnabled, logger)
	c.schedule = scheduler.New(c.RunBaseAnalysis, logger)
	return c, nil
}

// SetNotifier wires the chat transport's push function. Kept out of New
// because the transport needs the controller to exist first; must be set
// before Start so monitor pushes have somewhere to go.
func (c *Controller) SetNotifier(fn func(message string) error) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// Start moves the controller to running and kicks the wall-clock
// scheduler, which fires the startup base-analysis batch immediately.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return errors.New("controller already running")
	}
	c.state = StateRunning
	c.startedAt = c.now()
	c.mu.Unlock()

	c.schedule.Start()
	c.logger.Info().Msg("controller started")
	return nil
}

// Stop halts the scheduler and every symbol monitor and waits for
// background session compressions to settle. The chat transport is owned
// by the caller and stays up.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.schedule.Stop()
	c.monitors.StopAll()
	c.sessions.Wait()
	c.logger.Info().Msg("controller stopped")
}

// State reports the current lifecycle state.
func (c *Controller) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// AutoTradingEnabled reports whether monitor loops chain trader decisions.
func (c *Controller) AutoTradingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoTrading
}

// ProcessUserMessage routes free-form chat text through the master brain.
func (c *Controller) ProcessUserMessage(ctx context.Context, text, chatID string) string {
	return c.brain.ProcessRequest(ctx, text, chatID, nil)
}

// AnalyzeSymbol runs the technical analyst over fresh candles for one
// symbol. The report is persisted unless it is an error reply.
func (c *Controller) AnalyzeSymbol(ctx context.Context, symbol string) string {
	symbol = models.NormalizeSymbol(symbol)
	ac := &analysts.Context{TargetSymbol: symbol}
	klines, err := c.collector.CollectKlineData(ctx, symbol)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
	} else {
		ac.Klines = klines
	}
	report := c.technical.Analyze(ctx, ac)
	c.saveRecord(ctx, analysts.NameTechnical, symbol, models.DataTypeTechnical, report)
	return report
}

// MarketSentimentAnalysis runs the market analyst over the whole-market
// context block.
func (c *Controller) MarketSentimentAnalysis(ctx context.Context) string {
	ac := c.collectMarketContext(ctx, &analysts.Context{})
	report := c.sentiment.Analyze(ctx, ac)
	c.saveRecord(ctx, analysts.NameMarket, "", models.DataTypeMarketSentiment, report)
	return report
}

// FundamentalAnalysis runs the fundamental analyst for one symbol.
func (c *Controller) FundamentalAnalysis(ctx context.Context, symbol string) string {
	symbol = models.NormalizeSymbol(symbol)
	report := c.fundamental.Analyze(ctx, &analysts.Context{TargetSymbol: symbol})
	c.saveRecord(ctx, analysts.NameFundamental, symbol, models.DataTypeFundamental, report)
	return report
}

// MacroAnalysis serves the capability path under the daily quota: at most
// one fresh macro run per calendar day, later same-day calls return the
// cached text.
func (c *Controller) MacroAnalysis(ctx context.Context) string {
	today := c.now().Format("2006-01-02")

	c.macroMu.Lock()
	if c.macroDate == today && c.macroText != "" {
		text := c.macroText
		c.macroMu.Unlock()
		c.logger.Info().Msg("macro analysis served from daily cache")
		return text
	}
	c.macroMu.Unlock()

	// A restart loses the in-memory cache; the latest stored macro record
	// from today still counts against the quota.
	if c.store != nil {
		if recs, err := c.store.GetAnalysisRecords(ctx, models.DataTypeMacro, "", 1); err == nil && len(recs) > 0 {
			if recs[0].CreatedAt.In(time.Local).Format("2006-01-02") == today {
				c.macroMu.Lock()
				c.macroDate, c.macroText = today, recs[0].Content
				c.macroMu.Unlock()
				c.logger.Info().Msg("macro analysis served from stored record")
				return recs[0].Content
			}
		}
	}
	return c.refreshMacro(ctx)
}

// refreshMacro always runs the macro analyst and refreshes the day cache.
// The scheduled batch comes through here directly so the nightly run is
// never served stale.
func (c *Controller) refreshMacro(ctx context.Context) string {
	ac := c.collectMarketContext(ctx, &analysts.Context{})
	report := c.macroRole.Analyze(ctx, ac)
	if report != "" && !strings.HasPrefix(report, "❌") {
		c.macroMu.Lock()
		c.macroDate = c.now().Format("2006-01-02")
		c.macroText = report
		c.macroMu.Unlock()
	}
	c.saveRecord(ctx, analysts.NameMacro, "", models.DataTypeMacro, report)
	return report
}

// ManualTriggerAnalysis records a manual trigger event and runs the
// technical analyst immediately.
func (c *Controller) ManualTriggerAnalysis(ctx context.Context, symbol string) string {
	symbol = models.NormalizeSymbol(symbol)
	c.saveTrigger(ctx, "manual_analysis", symbol, "triggered via capability")
	return c.AnalyzeSymbol(ctx, symbol)
}

// RunBaseAnalysis is the scheduled research batch: macro, market sentiment
// and fundamentals for every primary symbol, in three parallel sub-jobs.
// Each sub-job persists its own records; a failure stays local to its job.
func (c *Controller) RunBaseAnalysis(ctx context.Context) {
	primary := c.PrimarySymbols()
	c.logger.Info().Strs("primary", primary).Msg("base analysis batch started")
	c.saveTrigger(ctx, "scheduled_base_analysis", "", fmt.Sprintf("primary_symbols=%d", len(primary)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.refreshMacro(gctx)
		return nil
	})
	g.Go(func() error {
		c.MarketSentimentAnalysis(gctx)
		return nil
	})
	g.Go(func() error {
		for _, symbol := range primary {
			c.FundamentalAnalysis(gctx, symbol)
		}
		return nil
	})
	_ = g.Wait()
	c.logger.Info().Msg("base analysis batch finished")
}

// AccountBalance proxies the futures account query; the error-inside-map
// convention passes through untouched.
func (c *Controller) AccountBalance(ctx context.Context) map[string]interface{} {
	if c.futures == nil {
		return map[string]interface{}{"error": "合约客户端未初始化"}
	}
	return c.futures.GetAccountBalance(ctx)
}

// CurrentPositions proxies the futures position query.
func (c *Controller) CurrentPositions(ctx context.Context) map[string]interface{} {
	if c.futures == nil {
		return map[string]interface{}{"error": "合约客户端未初始化"}
	}
	return c.futures.GetCurrentPositions(ctx)
}

// StartSymbolMonitor normalizes the symbol and applies the configured
// default interval before delegating to the monitor manager.
func (c *Controller) StartSymbolMonitor(symbol string, intervalMinutes int) monitor.Result {
	if intervalMinutes <= 0 {
		intervalMinutes = c.cfg.Monitor.DefaultIntervalMinutes
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 30
	}
	return c.monitors.Start(models.NormalizeSymbol(symbol), intervalMinutes)
}

// StopSymbolMonitor stops the symbol's monitor loop if one is running.
func (c *Controller) StopSymbolMonitor(symbol string) monitor.Result {
	return c.monitors.Stop(models.NormalizeSymbol(symbol))
}

// MonitorStatus reports the active symbol monitors.
func (c *Controller) MonitorStatus() monitor.Status {
	return c.monitors.Status()
}

// PrimarySymbols returns a copy of the primary watch list; it also feeds
// the master brain's context block.
func (c *Controller) PrimarySymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.primary...)
}

// MonitoringSymbols returns copies of both watch lists.
func (c *Controller) MonitoringSymbols() (primary, secondary []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.primary...), append([]string(nil), c.secondary...)
}

// SetMonitoringSymbols replaces the watch lists. Primary must stay
// non-empty; both lists are normalized to the USDT pair form and persisted
// as dynamic config.
func (c *Controller) SetMonitoringSymbols(primary, secondary []string) error {
	normPrimary := normalizeSymbols(primary)
	if len(normPrimary) == 0 {
		return errors.New("主要监控币种不能为空")
	}
	normSecondary := normalizeSymbols(secondary)

	c.mu.Lock()
	c.primary = normPrimary
	c.secondary = normSecondary
	c.mu.Unlock()

	c.persistDynamic()
	c.logger.Info().Strs("primary", normPrimary).Strs("secondary", normSecondary).Msg("monitoring symbols updated")
	return nil
}

// HeartbeatInterval reports the heartbeat trigger interval in seconds.
func (c *Controller) HeartbeatInterval() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heartbeat
}

// SetHeartbeatInterval updates the heartbeat interval, bounded to
// [60, 3600] seconds, and persists it as dynamic config.
func (c *Controller) SetHeartbeatInterval(seconds int) error {
	if seconds < 60 {
		return errors.New("心跳间隔不能少于60秒")
	}
	if seconds > 3600 {
		return errors.New("心跳间隔不能超过3600秒")
	}
	c.mu.Lock()
	c.heartbeat = seconds
	c.mu.Unlock()

	c.persistDynamic()
	c.logger.Info().Int("interval_seconds", seconds).Msg("heartbeat interval updated")
	return nil
}

// HeartbeatSettings reports the interval and its allowed bounds.
func (c *Controller) HeartbeatSettings() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"interval_seconds": c.heartbeat,
		"min_seconds":      60,
		"max_seconds":      3600,
		"mode":             c.cfg.System.Mode,
	}
}

// SendNotification pushes one message through the chat transport and
// reports the outcome as a capability-style status string.
func (c *Controller) SendNotification(message string) string {
	c.mu.RLock()
	notify := c.notify
	c.mu.RUnlock()

	if notify == nil {
		return "❌ 通知通道未初始化"
	}
	if err := notify(message); err != nil {
		return fmt.Sprintf("❌ 通知发送失败: %v", err)
	}
	return "✅ 通知已发送"
}

// SystemStatus assembles the status snapshot behind get_system_status.
func (c *Controller) SystemStatus() map[string]interface{} {
	c.mu.RLock()
	state := c.state
	startedAt := c.startedAt
	heartbeat := c.heartbeat
	auto := c.autoTrading
	primary := append([]string(nil), c.primary...)
	secondary := append([]string(nil), c.secondary...)
	c.mu.RUnlock()

	uptime := "未启动"
	if !startedAt.IsZero() {
		uptime = c.now().Sub(startedAt).Round(time.Second).String()
	}
	return map[string]interface{}{
		"system_name":                c.cfg.System.Name,
		"version":                    c.cfg.System.Version,
		"mode":                       c.cfg.System.Mode,
		"state":                      state,
		"uptime":                     uptime,
		"primary_symbols":            primary,
		"secondary_symbols":          secondary,
		"heartbeat_interval_seconds": heartbeat,
		"auto_trading":               auto,
		"futures_configured":         c.futures != nil && c.futures.IsConfigured(),
		"symbol_monitors":            c.monitors.Status(),
		"scheduler":                  c.schedule.Status(),
	}
}

// MarketDataSummary returns a compact snapshot of the latest candle per
// requested symbol, loosely typed for JSON rendering.
func (c *Controller) MarketDataSummary(ctx context.Context, symbols []string) map[string]interface{} {
	quotes := make(map[string]interface{}, len(symbols))
	for _, raw := range symbols {
		symbol := models.NormalizeSymbol(raw)
		klines, err := c.collector.CollectKlineData(ctx, symbol)
		if err != nil || len(klines) == 0 {
			reason := "无K线数据"
			if err != nil {
				reason = fmt.Sprintf("获取行情失败: %v", err)
			}
			quotes[symbol] = map[string]interface{}{"error": reason}
			continue
		}

		latest := klines[len(klines)-1]
		first := klines[0]
		changePct := 0.0
		if first.Close != 0 {
			changePct = (latest.Close - first.Close) / first.Close * 100
		}
		quotes[symbol] = map[string]interface{}{
			"latest_price":      latest.Close,
			"latest_volume":     latest.Volume,
			"candle_count":      len(klines),
			"window_change_pct": changePct,
			"updated_at":        latest.Timestamp.Format("2006-01-02 15:04:05"),
		}
	}
	return map[string]interface{}{
		"period":  c.collector.Period(),
		"time":    c.now().Format("2006-01-02 15:04:05"),
		"symbols": quotes,
	}
}

// collectMarketContext fills the shared market fields in parallel. Source
// failures leave their field nil; the analysts render missing blocks as
// unavailable rather than failing the run.
func (c *Controller) collectMarketContext(ctx context.Context, ac *analysts.Context) *analysts.Context {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := c.collector.CollectGlobalMarketData(gctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("global market data unavailable")
			return nil
		}
		ac.GlobalMarket = data
		return nil
	})
	g.Go(func() error {
		fg, err := c.collector.GetFearGreedIndex(gctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("fear & greed index unavailable")
			return nil
		}
		ac.FearGreed = fg
		return nil
	})
	g.Go(func() error {
		trending, err := c.collector.CollectTrendingData(gctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("trending data unavailable")
			return nil
		}
		ac.Trending = trending
		return nil
	})
	g.Go(func() error {
		majors, err := c.collector.CollectMajorCoinsPerformance(gctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("major coin performance unavailable")
			return nil
		}
		ac.MajorCoins = majors
		return nil
	})
	_ = g.Wait()
	return ac
}

// decideTrade adapts the trader to the monitor's DecideFunc.
func (c *Controller) decideTrade(ctx context.Context, symbol, technicalAnalysis string) string {
	if c.trader == nil {
		return ""
	}
	return c.trader.AnalyzeTradingDecision(ctx, symbol, technicalAnalysis)
}

// pushMessage delivers monitor output to the chat transport. Before the
// notifier is wired (or when delivery fails) the message is only logged.
func (c *Controller) pushMessage(message string) {
	c.mu.RLock()
	notify := c.notify
	c.mu.RUnlock()

	if notify == nil {
		c.logger.Warn().Msg("notifier not wired, dropping push message")
		return
	}
	if err := notify(message); err != nil {
		c.logger.Error().Err(err).Msg("push message failed")
	}
}

// saveRecord persists a successful analyst output. Error replies stay out
// of the record stream so the trader's recent-history feed only carries
// real conclusions.
func (c *Controller) saveRecord(ctx context.Context, agent, symbol, dataType, content string) {
	if c.store == nil || content == "" || strings.HasPrefix(content, "❌") {
		return
	}
	rec := &models.AnalysisRecord{AgentName: agent, Symbol: symbol, Content: content, DataType: dataType}
	if err := c.store.SaveAnalysisRecord(ctx, rec); err != nil {
		c.logger.Error().Err(err).Str("data_type", dataType).Msg("save analysis record failed")
	}
}

func (c *Controller) saveTrigger(ctx context.Context, triggerType, symbol, detail string) {
	if c.store == nil {
		return
	}
	ev := &models.TriggerEvent{TriggerType: triggerType, Symbol: symbol, Detail: detail}
	if err := c.store.SaveTriggerEvent(ctx, ev); err != nil {
		c.logger.Error().Err(err).Str("trigger_type", triggerType).Msg("save trigger event failed")
	}
}

// persistDynamic writes the runtime-changed settings next to the config
// file so they survive restarts. A config that was never loaded from disk
// has no path; skip quietly.
func (c *Controller) persistDynamic() {
	path := c.cfg.Path()
	if path == "" {
		return
	}
	c.mu.RLock()
	primary := append([]string(nil), c.primary...)
	secondary := append([]string(nil), c.secondary...)
	heartbeat := c.heartbeat
	c.mu.RUnlock()

	if err := config.SaveDynamic(path, primary, secondary, heartbeat); err != nil {
		c.logger.Error().Err(err).Msg("persist dynamic config failed")
	}
}

// normalizeSymbols maps raw user symbols to the USDT pair form, dropping
// blanks and duplicates while keeping order.
func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if strings.TrimSpace(s) == "" {
			continue
		}
		n := models.NormalizeSymbol(s)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

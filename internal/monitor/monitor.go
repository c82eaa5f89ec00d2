// Package monitor runs per-symbol watch loops: each started symbol gets a
// goroutine that produces a technical analysis on a fixed interval and
// pushes it to the user, optionally chaining a trader decision when auto
// trading is on.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/models"
)

// AnalyzeFunc produces the technical analysis text for one symbol.
type AnalyzeFunc func(ctx context.Context, symbol string) string

// DecideFunc produces a trader decision from a finished technical analysis.
type DecideFunc func(ctx context.Context, symbol, technicalAnalysis string) string

// NotifyFunc pushes one message to the user channel.
type NotifyFunc func(message string)

// Result reports the outcome of a start or stop request.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Entry describes one active monitor.
type Entry struct {
	Symbol          string `json:"symbol"`
	IntervalMinutes int    `json:"interval_minutes"`
}

// Status is the aggregate view over all active monitors.
type Status struct {
	ActiveCount int     `json:"active_count"`
	Monitors    []Entry `json:"monitors"`
}

type worker struct {
	symbol          string
	intervalMinutes int
	cancel          context.CancelFunc
	done            chan struct{}
}

// Manager owns the monitor goroutines. Start and Stop are safe for
// concurrent use; a symbol has at most one live worker.
type Manager struct {
	analyze     AnalyzeFunc
	decide      DecideFunc
	notify      NotifyFunc
	autoTrading func() bool
	logger      zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

func NewManager(analyze AnalyzeFunc, decide DecideFunc, notify NotifyFunc, autoTrading func() bool, logger zerolog.Logger) *Manager {
	return &Manager{
		analyze:     analyze,
		decide:      decide,
		notify:      notify,
		autoTrading: autoTrading,
		logger:      logger.With().Str("component", "symbol_monitor").Logger(),
		workers:     make(map[string]*worker),
	}
}

// Start launches a monitor loop for the symbol. The first analysis runs
// immediately, then every intervalMinutes.
func (m *Manager) Start(symbol string, intervalMinutes int) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[symbol]; exists {
		return Result{Success: false, Message: fmt.Sprintf("%s 已在监控中", symbol)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		symbol:          symbol,
		intervalMinutes: intervalMinutes,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	m.workers[symbol] = w
	go m.run(ctx, w)

	m.logger.Info().Str("symbol", symbol).Int("interval_minutes", intervalMinutes).Msg("symbol monitor started")
	return Result{Success: true, Message: fmt.Sprintf("已开始监控 %s，间隔 %d 分钟", symbol, intervalMinutes)}
}

// Stop cancels the symbol's monitor loop and waits for it to exit.
func (m *Manager) Stop(symbol string) Result {
	m.mu.Lock()
	w, exists := m.workers[symbol]
	if exists {
		delete(m.workers, symbol)
	}
	m.mu.Unlock()

	if !exists {
		return Result{Success: false, Message: fmt.Sprintf("%s 未在监控中", symbol)}
	}

	w.cancel()
	<-w.done
	m.logger.Info().Str("symbol", symbol).Msg("symbol monitor stopped")
	return Result{Success: true, Message: fmt.Sprintf("已停止监控 %s", symbol)}
}

// StopAll tears down every worker; called on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.cancel()
		<-w.done
	}
}

// Status lists the active monitors in start order-independent form.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	monitors := make([]Entry, 0, len(m.workers))
	for _, w := range m.workers {
		monitors = append(monitors, Entry{Symbol: w.symbol, IntervalMinutes: w.intervalMinutes})
	}
	return Status{ActiveCount: len(monitors), Monitors: monitors}
}

func (m *Manager) run(ctx context.Context, w *worker) {
	defer close(w.done)

	ticker := time.NewTicker(time.Duration(w.intervalMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		m.runOnce(ctx, w.symbol)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce executes one analysis cycle. Empty results are logged and not
// pushed; the trader chain only fires on a non-empty analysis with auto
// trading enabled.
func (m *Manager) runOnce(ctx context.Context, symbol string) {
	if ctx.Err() != nil {
		return
	}
	base := models.BaseSymbol(symbol)

	m.logger.Info().Str("symbol", symbol).Msg("running scheduled technical analysis")
	analysis := m.analyze(ctx, symbol)
	if analysis == "" {
		m.logger.Warn().Str("symbol", symbol).Msg("scheduled analysis returned empty result")
		return
	}
	m.notify(fmt.Sprintf("📊 **%s 定时分析**\n\n%s", base, analysis))

	if m.autoTrading == nil || !m.autoTrading() || m.decide == nil {
		return
	}
	decision := m.decide(ctx, symbol, analysis)
	if decision == "" {
		return
	}
	m.notify(fmt.Sprintf("💼 **%s 交易员决策**\n\n%s", base, decision))
}

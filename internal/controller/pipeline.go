package controller

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BlackBearCC/crypto-agent/internal/analysts"
	"github.com/BlackBearCC/crypto-agent/internal/models"
)

// reportSeparator divides the research summary from the trader decision in
// the combined pipeline reply.
var reportSeparator = strings.Repeat("-", 80)

// noSymbolsReply is returned when a comprehensive analysis arrives without
// any symbols; no analyst runs in that case.
const noSymbolsReply = "❓ 请指定要分析的币种，例如：全面分析 BTC、ETH"

// ComprehensiveAnalysis runs the full research pipeline: per-symbol
// technical and fundamental analysis fan out alongside one shared market
// sentiment run and one macro run, a chief verdict per symbol folds the
// four together, and the trader turns the aggregate into a decision.
// Partial failures flow through as ❌ sections inside the reports; the
// pipeline itself never fails.
func (c *Controller) ComprehensiveAnalysis(ctx context.Context, question string, symbols []string) string {
	normalized := normalizeSymbols(symbols)
	if len(normalized) == 0 {
		return noSymbolsReply
	}

	c.logger.Info().Strs("symbols", normalized).Msg("comprehensive analysis started")

	var (
		sentiment    string
		macroReport  string
		technicals   = make([]string, len(normalized))
		fundamentals = make([]string, len(normalized))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sentiment = c.MarketSentimentAnalysis(gctx)
		return nil
	})
	g.Go(func() error {
		macroReport = c.MacroAnalysis(gctx)
		return nil
	})
	for i, symbol := range normalized {
		g.Go(func() error {
			technicals[i] = c.AnalyzeSymbol(gctx, symbol)
			return nil
		})
		g.Go(func() error {
			fundamentals[i] = c.FundamentalAnalysis(gctx, symbol)
			return nil
		})
	}
	_ = g.Wait()

	// Chief verdicts need all four inputs, so they run as a second wave.
	chiefs := make([]string, len(normalized))
	cg, cgctx := errgroup.WithContext(ctx)
	for i, symbol := range normalized {
		cg.Go(func() error {
			ac := &analysts.Context{
				TargetSymbol:        symbol,
				TechnicalAnalysis:   technicals[i],
				SentimentAnalysis:   sentiment,
				FundamentalAnalysis: fundamentals[i],
				MacroAnalysis:       macroReport,
			}
			chiefs[i] = c.chief.Analyze(cgctx, ac)
			return nil
		})
	}
	_ = cg.Wait()

	results := &analysts.ResearchResults{
		SymbolAnalyses:    make(map[string]analysts.SymbolAnalysis, len(normalized)),
		SentimentAnalysis: sentiment,
		MacroAnalysis:     macroReport,
	}
	var summary strings.Builder
	for i, symbol := range normalized {
		if i > 0 {
			summary.WriteString("\n\n")
		}
		summary.WriteString(fmt.Sprintf("## %s 综合研究报告\n\n%s", models.BaseSymbol(symbol), chiefs[i]))
		results.SymbolAnalyses[symbol] = analysts.SymbolAnalysis{
			Technical:   technicals[i],
			Fundamental: fundamentals[i],
			Chief:       chiefs[i],
		}
	}
	results.ResearchSummary = summary.String()

	joined := strings.Join(normalized, ",")
	c.saveRecord(ctx, analysts.NameChief, joined, models.DataTypeComprehensive, results.ResearchSummary)

	decision := c.trader.ConductTradingAnalysis(ctx, results, question)
	c.saveRecord(ctx, analysts.NameTrader, joined, models.DataTypeTrading, decision)

	c.logger.Info().Strs("symbols", normalized).Msg("comprehensive analysis finished")
	return results.ResearchSummary + "\n\n" + reportSeparator + "\n\n" + decision
}

// TradingAnalysis runs the trader role against caller-provided research
// text, for when the model routes an explicit trading question instead of
// a full pipeline run.
func (c *Controller) TradingAnalysis(ctx context.Context, analysisResults, question string) string {
	results := &analysts.ResearchResults{ResearchSummary: analysisResults}
	decision := c.trader.ConductTradingAnalysis(ctx, results, question)
	c.saveRecord(ctx, analysts.NameTrader, "", models.DataTypeTrading, decision)
	return decision
}

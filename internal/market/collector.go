// Package market fetches the raw inputs the analysts work from: USDT-perp
// klines from Binance futures, global market stats and trending searches
// from CoinGecko, and the Fear & Greed index from alternative.me. Every
// fetch is best-effort for the callers; a failed source degrades the
// analysis text, it never aborts a pipeline.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/BlackBearCC/crypto-agent/internal/models"
	"github.com/BlackBearCC/crypto-agent/internal/store"
)

const (
	binanceFuturesURL = "https://fapi.binance.com"
	coinGeckoURL      = "https://api.coingecko.com/api/v3"
	alternativeMeURL  = "https://api.alternative.me"
)

// majorCoinIDs are the CoinGecko ids reported in the "主流币种表现" block.
var majorCoinIDs = []string{"bitcoin", "ethereum", "binancecoin", "solana", "ripple"}

// GlobalMarketData is the slice of CoinGecko /global the market analyst
// consumes.
type GlobalMarketData struct {
	TotalMarketCapUSD      float64            `json:"total_market_cap_usd"`
	TotalVolume24hUSD      float64            `json:"total_volume_24h_usd"`
	MarketCapChangePct24h  float64            `json:"market_cap_change_percentage_24h_usd"`
	ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
	MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
}

// FearGreedIndex is one reading of the alternative.me index.
type FearGreedIndex struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Source         string    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
}

// TrendingCoin is one entry of CoinGecko's trending searches.
type TrendingCoin struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank int    `json:"market_cap_rank"`
}

// CoinPerformance is a 24h snapshot of one major coin.
type CoinPerformance struct {
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	PriceChange24h float64 `json:"price_change_24h"`
	TotalVolume    float64 `json:"total_volume"`
}

// Collector owns the HTTP clients for the three upstream data sources and
// snapshots whatever it fetched into the store.
type Collector struct {
	futures *resty.Client
	gecko   *resty.Client
	fng     *resty.Client

	period string
	limit  int

	store  store.Store
	logger zerolog.Logger
}

// Config tunes the collector; zero values fall back to 15m x 100.
type Config struct {
	FuturesBaseURL string
	KlinePeriod    string
	KlineLimit     int
}

func newClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
}

// NewCollector builds a collector. st may be nil when snapshot persistence
// is not wanted.
func NewCollector(cfg Config, st store.Store, logger zerolog.Logger) *Collector {
	futuresURL := cfg.FuturesBaseURL
	if futuresURL == "" {
		futuresURL = binanceFuturesURL
	}
	period := cfg.KlinePeriod
	if period == "" {
		period = "15m"
	}
	limit := cfg.KlineLimit
	if limit <= 0 {
		limit = 100
	}
	return &Collector{
		futures: newClient(futuresURL),
		gecko:   newClient(coinGeckoURL),
		fng:     newClient(alternativeMeURL),
		period:  period,
		limit:   limit,
		store:   st,
		logger:  logger.With().Str("component", "market").Logger(),
	}
}

// Period returns the kline period the collector fetches ("15m" unless
// configured otherwise).
func (c *Collector) Period() string { return c.period }

// CollectKlineData fetches the most recent candles for symbol in
// chronological order. The symbol is normalized before the request, so
// "btc" and "BTCUSDT" hit the same endpoint.
func (c *Collector) CollectKlineData(ctx context.Context, symbol string) ([]models.Candle, error) {
	symbol = models.NormalizeSymbol(symbol)

	resp, err := c.futures.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": c.period,
			"limit":    strconv.Itoa(c.limit),
		}).
		Get("/fapi/v1/klines")
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("klines API error %d: %s", resp.StatusCode(), resp.String())
	}

	var raw [][]interface{}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("parse klines response: %w", err)
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: time.UnixMilli(int64(openTime)),
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    toFloat(row[5]),
		})
	}

	c.snapshot(ctx, symbol, "kline_"+c.period, candles)
	return candles, nil
}

// CollectGlobalMarketData fetches CoinGecko's global market stats.
func (c *Collector) CollectGlobalMarketData(ctx context.Context) (*GlobalMarketData, error) {
	resp, err := c.gecko.R().SetContext(ctx).Get("/global")
	if err != nil {
		return nil, fmt.Errorf("fetch global market data: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("global market API error %d: %s", resp.StatusCode(), resp.String())
	}

	var body struct {
		Data struct {
			ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
			TotalMarketCap         map[string]float64 `json:"total_market_cap"`
			TotalVolume            map[string]float64 `json:"total_volume"`
			MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
			MarketCapChangePct24h  float64            `json:"market_cap_change_percentage_24h_usd"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("parse global market response: %w", err)
	}

	data := &GlobalMarketData{
		TotalMarketCapUSD:      body.Data.TotalMarketCap["usd"],
		TotalVolume24hUSD:      body.Data.TotalVolume["usd"],
		MarketCapChangePct24h:  body.Data.MarketCapChangePct24h,
		ActiveCryptocurrencies: body.Data.ActiveCryptocurrencies,
		MarketCapPercentage:    body.Data.MarketCapPercentage,
	}
	c.snapshot(ctx, "", "global_market", data)
	return data, nil
}

// GetFearGreedIndex fetches the latest Fear & Greed reading.
func (c *Collector) GetFearGreedIndex(ctx context.Context) (*FearGreedIndex, error) {
	resp, err := c.fng.R().SetContext(ctx).Get("/fng/")
	if err != nil {
		return nil, fmt.Errorf("fetch fear greed index: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fear greed API error %d: %s", resp.StatusCode(), resp.String())
	}

	var body struct {
		Data []struct {
			Value          string `json:"value"`
			Classification string `json:"value_classification"`
			Timestamp      string `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("parse fear greed response: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("fear greed response carried no data")
	}

	value, _ := strconv.Atoi(body.Data[0].Value)
	ts := time.Now()
	if unix, err := strconv.ParseInt(body.Data[0].Timestamp, 10, 64); err == nil {
		ts = time.Unix(unix, 0)
	}
	idx := &FearGreedIndex{
		Value:          value,
		Classification: body.Data[0].Classification,
		Source:         "alternative.me",
		Timestamp:      ts,
	}
	c.snapshot(ctx, "", "fear_greed", idx)
	return idx, nil
}

// CollectTrendingData fetches CoinGecko's trending searches.
func (c *Collector) CollectTrendingData(ctx context.Context) ([]TrendingCoin, error) {
	resp, err := c.gecko.R().SetContext(ctx).Get("/search/trending")
	if err != nil {
		return nil, fmt.Errorf("fetch trending data: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("trending API error %d: %s", resp.StatusCode(), resp.String())
	}

	var body struct {
		Coins []struct {
			Item struct {
				Name          string `json:"name"`
				Symbol        string `json:"symbol"`
				MarketCapRank int    `json:"market_cap_rank"`
			} `json:"item"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("parse trending response: %w", err)
	}

	coins := make([]TrendingCoin, 0, len(body.Coins))
	for _, entry := range body.Coins {
		coins = append(coins, TrendingCoin{
			Name:          entry.Item.Name,
			Symbol:        strings.ToUpper(entry.Item.Symbol),
			MarketCapRank: entry.Item.MarketCapRank,
		})
	}
	c.snapshot(ctx, "", "trending", coins)
	return coins, nil
}

// CollectMajorCoinsPerformance fetches 24h stats for the major coins.
func (c *Collector) CollectMajorCoinsPerformance(ctx context.Context) ([]CoinPerformance, error) {
	resp, err := c.gecko.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency": "usd",
			"ids":         strings.Join(majorCoinIDs, ","),
		}).
		Get("/coins/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch major coins: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("major coins API error %d: %s", resp.StatusCode(), resp.String())
	}

	var body []struct {
		Name           string  `json:"name"`
		Symbol         string  `json:"symbol"`
		CurrentPrice   float64 `json:"current_price"`
		PriceChange24h float64 `json:"price_change_percentage_24h"`
		TotalVolume    float64 `json:"total_volume"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("parse major coins response: %w", err)
	}

	coins := make([]CoinPerformance, 0, len(body))
	for _, entry := range body {
		coins = append(coins, CoinPerformance{
			Name:           entry.Name,
			Symbol:         strings.ToUpper(entry.Symbol),
			CurrentPrice:   entry.CurrentPrice,
			PriceChange24h: entry.PriceChange24h,
			TotalVolume:    entry.TotalVolume,
		})
	}
	c.snapshot(ctx, "", "major_coins", coins)
	return coins, nil
}

// snapshot persists a raw fetch result. Failures are logged and swallowed;
// snapshots are an audit trail, not a dependency of the analysis path.
func (c *Collector) snapshot(ctx context.Context, symbol, dataType string, payload interface{}) {
	if c.store == nil {
		return
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	rec := &models.MarketDataRecord{
		Symbol:      symbol,
		DataType:    dataType,
		Payload:     string(encoded),
		CollectedAt: time.Now(),
	}
	if err := c.store.SaveMarketData(ctx, rec); err != nil {
		c.logger.Warn().Err(err).Str("data_type", dataType).Msg("market data snapshot failed")
	}
}

// toFloat handles Binance's mixed kline rows, where prices arrive as
// strings and times as numbers.
func toFloat(v interface{}) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case string:
		f, _ := strconv.ParseFloat(value, 64)
		return f
	default:
		return 0
	}
}

// Package trading talks to the Binance USDT-M futures REST API with
// HMAC-SHA256 signed requests. Account and position reads return loosely
// typed maps because their main consumers are capability handlers that
// re-encode them as JSON for the model and for Telegram.
package trading

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://fapi.binance.com"

// Order sides and types accepted by PlaceOrder.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Config carries the non-secret client settings; keys come through
// NewFuturesClient so the caller decides where they are read from.
type Config struct {
	BaseURL    string
	RecvWindow int
	Timeout    time.Duration
}

// FuturesClient is a minimal signed REST client for the endpoints this
// service needs: account state, position risk and order placement.
// A client built without keys stays usable; every call answers with the
// not-configured error payload instead of panicking.
type FuturesClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow int
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewFuturesClient builds a futures client. Keys are trimmed because
// trailing whitespace breaks the request signature in ways Binance
// reports as a generic auth failure.
func NewFuturesClient(apiKey, secretKey string, cfg Config, logger zerolog.Logger) *FuturesClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &FuturesClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "trading").Logger(),
	}
}

// IsConfigured reports whether API keys were provided.
func (c *FuturesClient) IsConfigured() bool {
	return c.apiKey != "" && c.secretKey != ""
}

// futuresAccount mirrors /fapi/v2/account. Binance encodes every numeric
// field as a string.
type futuresAccount struct {
	TotalWalletBalance    string `json:"totalWalletBalance"`
	AvailableBalance      string `json:"availableBalance"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	TotalMarginBalance    string `json:"totalMarginBalance"`
	Assets                []struct {
		Asset            string `json:"asset"`
		WalletBalance    string `json:"walletBalance"`
		AvailableBalance string `json:"availableBalance"`
	} `json:"assets"`
}

// futuresPosition mirrors one /fapi/v2/positionRisk row.
type futuresPosition struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	PositionSide     string `json:"positionSide"`
}

// GetAccountBalance returns the account snapshot in the shape downstream
// formatters expect. Errors come back inside the map under "error"; the
// call itself never fails.
func (c *FuturesClient) GetAccountBalance(ctx context.Context) map[string]interface{} {
	if !c.IsConfigured() {
		return map[string]interface{}{"error": "合约客户端未初始化"}
	}

	body, err := c.signedGet(ctx, "/fapi/v2/account", nil)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("获取余额失败: %v", err)}
	}

	var account futuresAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("获取余额失败: %v", err)}
	}

	var usdtBalance map[string]interface{}
	for _, asset := range account.Assets {
		if asset.Asset == "USDT" {
			usdtBalance = map[string]interface{}{
				"balance":           parseFloat(asset.WalletBalance),
				"available_balance": parseFloat(asset.AvailableBalance),
			}
			break
		}
	}

	return map[string]interface{}{
		"success":                 true,
		"account_type":            "USDT永续合约",
		"total_wallet_balance":    parseFloat(account.TotalWalletBalance),
		"available_balance":       parseFloat(account.AvailableBalance),
		"total_unrealized_profit": parseFloat(account.TotalUnrealizedProfit),
		"total_margin_balance":    parseFloat(account.TotalMarginBalance),
		"usdt_balance":            usdtBalance,
	}
}

// GetCurrentPositions returns open positions (positionAmt != 0) in the
// shape downstream formatters expect. Same error convention as
// GetAccountBalance.
func (c *FuturesClient) GetCurrentPositions(ctx context.Context) map[string]interface{} {
	if !c.IsConfigured() {
		return map[string]interface{}{"error": "合约客户端未初始化"}
	}

	body, err := c.signedGet(ctx, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("获取持仓失败: %v", err)}
	}

	var positions []futuresPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("获取持仓失败: %v", err)}
	}

	active := make([]map[string]interface{}, 0, len(positions))
	for _, pos := range positions {
		amt := parseFloat(pos.PositionAmt)
		if amt == 0 {
			continue
		}
		leverage, _ := strconv.Atoi(pos.Leverage)
		if leverage == 0 {
			leverage = 1
		}
		active = append(active, map[string]interface{}{
			"symbol":            pos.Symbol,
			"position_side":     pos.PositionSide,
			"position_amt":      amt,
			"entry_price":       parseFloat(pos.EntryPrice),
			"mark_price":        parseFloat(pos.MarkPrice),
			"unrealized_profit": parseFloat(pos.UnrealizedProfit),
			"leverage":          leverage,
			"liquidation_price": parseFloat(pos.LiquidationPrice),
		})
	}

	return map[string]interface{}{
		"success":        true,
		"positions":      active,
		"position_count": len(active),
	}
}

// OrderParams describes a futures order. Quantity and Price use decimals
// so the query string carries exactly what the caller intended instead of
// a float64 round-trip artifact.
type OrderParams struct {
	Symbol       string
	Side         string
	Type         string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	ReduceOnly   bool
	PositionSide string
}

// PlaceOrder submits an order to /fapi/v1/order and returns the raw
// Binance response fields.
func (c *FuturesClient) PlaceOrder(ctx context.Context, params OrderParams) (map[string]interface{}, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("futures client not configured")
	}
	if params.Symbol == "" || params.Side == "" {
		return nil, fmt.Errorf("order requires symbol and side")
	}

	orderType := params.Type
	if orderType == "" {
		orderType = OrderTypeMarket
	}

	reqParams := map[string]string{
		"symbol":   params.Symbol,
		"side":     params.Side,
		"type":     orderType,
		"quantity": params.Quantity.String(),
	}
	if orderType == OrderTypeLimit {
		reqParams["price"] = params.Price.String()
		reqParams["timeInForce"] = "GTC"
	}
	if params.ReduceOnly {
		reqParams["reduceOnly"] = "true"
	}
	if params.PositionSide != "" {
		reqParams["positionSide"] = params.PositionSide
	}

	body, err := c.signedPost(ctx, "/fapi/v1/order", reqParams)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	c.logger.Info().
		Str("symbol", params.Symbol).
		Str("side", params.Side).
		Str("quantity", params.Quantity.String()).
		Msg("futures order placed")
	return result, nil
}

// TestConnectivity pings the futures API.
func (c *FuturesClient) TestConnectivity(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/ping", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// buildQuery renders params as a query string with deterministic key
// order. The signature is computed over this exact string, so it must
// match what goes on the wire byte for byte.
func buildQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

func (c *FuturesClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signParams stamps timestamp and recvWindow, then appends the signature.
func (c *FuturesClient) signParams(params map[string]string) string {
	if params == nil {
		params = make(map[string]string)
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	params["recvWindow"] = strconv.Itoa(c.recvWindow)
	query := buildQuery(params)
	return query + "&signature=" + c.sign(query)
}

func (c *FuturesClient) signedGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, c.signParams(params))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *FuturesClient) signedPost(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = c.signParams(params)
	return c.do(req)
}

func (c *FuturesClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

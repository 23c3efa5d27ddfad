package binance

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
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shaonianu-ab/binance-short-bot/internal/model"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	exchangeInfoTTL = 10 * time.Minute
)

// APIError is a venue rejection with Binance's error code.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Msg)
}

// Client is a USDT-margined futures REST client. Exchange metadata
// (symbol status, lot and price filters) is cached with its own TTL;
// it changes far less often than prices.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int
	httpClient *http.Client
	logger     *zap.Logger

	infoMu      sync.Mutex
	info        *exchangeInfo
	infoFetched time.Time
	now         func() time.Time
}

// Config carries venue credentials and environment selection.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int
}

// NewClient builds a futures client for mainnet or testnet.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	base := mainnetBaseURL
	if cfg.Testnet {
		base = testnetBaseURL
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"`
	Filters []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	TickSize   string `json:"tickSize"`
}

func (c *Client) exchangeInfoCached(ctx context.Context) (*exchangeInfo, error) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	if c.info != nil && c.now().Sub(c.infoFetched) < exchangeInfoTTL {
		return c.info, nil
	}

	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	c.info = &info
	c.infoFetched = c.now()
	return c.info, nil
}

func (c *Client) symbolInfo(ctx context.Context, symbol string) (*symbolInfo, error) {
	info, err := c.exchangeInfoCached(ctx)
	if err != nil {
		return nil, err
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return &info.Symbols[i], nil
		}
	}
	return nil, nil
}

// SymbolExists reports whether the futures market is listed and trading.
// Errors degrade to false: no metadata means no trade.
func (c *Client) SymbolExists(ctx context.Context, symbol string) bool {
	s, err := c.symbolInfo(ctx, symbol)
	if err != nil {
		c.logger.Warn("symbol lookup failed", zap.String("symbol", symbol), zap.Error(err))
		return false
	}
	return s != nil && s.Status == "TRADING"
}

// LotFilters returns the LOT_SIZE step and minimum quantity.
func (c *Client) LotFilters(ctx context.Context, symbol string) (step, minQty decimal.Decimal, ok bool) {
	s, err := c.symbolInfo(ctx, symbol)
	if err != nil || s == nil {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	for _, f := range s.Filters {
		if f.FilterType != "LOT_SIZE" {
			continue
		}
		stepV, err1 := decimal.NewFromString(f.StepSize)
		minV, err2 := decimal.NewFromString(f.MinQty)
		if err1 != nil || err2 != nil {
			return decimal.Decimal{}, decimal.Decimal{}, false
		}
		return stepV, minV, true
	}
	return decimal.Decimal{}, decimal.Decimal{}, false
}

// TickSize returns the PRICE_FILTER tick size.
func (c *Client) TickSize(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	s, err := c.symbolInfo(ctx, symbol)
	if err != nil || s == nil {
		return decimal.Decimal{}, false
	}
	for _, f := range s.Filters {
		if f.FilterType != "PRICE_FILTER" {
			continue
		}
		tick, err := decimal.NewFromString(f.TickSize)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return tick, true
	}
	return decimal.Decimal{}, false
}

// MarkPrice returns the venue's mark price for the symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	body, err := c.doPublic(ctx, "/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}})
	if err != nil {
		c.logger.Warn("mark price fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Decimal{}, false
	}
	var resp struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("mark price decode failed", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Decimal{}, false
	}
	price, err := decimal.NewFromString(resp.MarkPrice)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return price, true
}

// SetLeverage changes position leverage. Best-effort for callers.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{
		"symbol":   {symbol},
		"leverage": {strconv.Itoa(leverage)},
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// SetMarginType switches between ISOLATED and CROSSED. Binance answers
// -4046 when the margin type is already set; callers treat that as ok.
func (c *Client) SetMarginType(ctx context.Context, symbol, marginType string) error {
	params := url.Values{
		"symbol":     {symbol},
		"marginType": {marginType},
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	return err
}

// PlaceMarketOrder submits a futures market order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side, qty, positionSide string) (model.OrderResult, error) {
	params := url.Values{
		"symbol":       {symbol},
		"side":         {side},
		"type":         {"MARKET"},
		"quantity":     {qty},
		"positionSide": {positionSide},
	}
	return c.placeOrder(ctx, params)
}

// PlaceConditionalOrder submits a trigger order (TAKE_PROFIT_MARKET or
// STOP_MARKET) that closes the position at the mark-price trigger.
func (c *Client) PlaceConditionalOrder(ctx context.Context, symbol, side, orderType, stopPrice, positionSide string) (model.OrderResult, error) {
	params := url.Values{
		"symbol":        {symbol},
		"side":          {side},
		"type":          {orderType},
		"stopPrice":     {stopPrice},
		"positionSide":  {positionSide},
		"closePosition": {"true"},
		"workingType":   {"MARK_PRICE"},
	}
	return c.placeOrder(ctx, params)
}

func (c *Client) placeOrder(ctx context.Context, params url.Values) (model.OrderResult, error) {
	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return model.OrderResult{}, err
	}
	var result model.OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return model.OrderResult{}, fmt.Errorf("decode order result: %w", err)
	}
	return result, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.send(req)
}

// doSigned appends timestamp/recvWindow, signs the query string with
// HMAC-SHA256, and sends the request with the API key header.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))

	query := params.Encode()
	query += "&signature=" + Sign(c.apiSecret, query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

// Sign computes the hex HMAC-SHA256 of the query string.
func Sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

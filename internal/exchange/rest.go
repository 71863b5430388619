package exchange

import (
	"bytes"
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
	"time"

	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/model"
)

// defaultTimeout bounds every REST call (spec §5 suspension points: all
// exchange calls are bounded).
const defaultTimeout = 5 * time.Second

// RESTClient is a reference HMAC-signed REST client for a Binance-style
// spot exchange. It implements Client in full.
type RESTClient struct {
	baseURL string
	apiKey  string
	secret  string
	http    *http.Client
}

// NewRESTClient constructs a client against baseURL, signing requests
// with apiKey/secret (spec §6 EXCHANGE_KEY/EXCHANGE_SECRET).
func NewRESTClient(baseURL, apiKey, secret string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *RESTClient) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(clock.Now().UnixMilli(), 10))
		params.Set("signature", c.sign(params))
	}

	var req *http.Request
	var err error
	fullURL := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		fullURL += "?" + params.Encode()
		req, err = http.NewRequestWithContext(ctx, method, fullURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, bytes.NewBufferString(params.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if err != nil {
		return NewError(ErrPermanent, "build request", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return NewError(ErrTransient, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(ErrTransient, "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(ErrRateLimit, "rate limited", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 500:
		return NewError(ErrTransient, "server error", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 400:
		return NewError(ErrPermanent, "rejected", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(ErrPermanent, "decode response", err)
	}
	return nil
}

// AccountBalances implements AccountBalances.
func (c *RESTClient) AccountBalances(ctx context.Context) ([]Balance, error) {
	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &raw); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		out = append(out, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// SymbolInfo implements ExchangeInfo.
func (c *RESTClient) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	var raw struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				TickSize    string `json:"tickSize"`
				StepSize    string `json:"stepSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &raw); err != nil {
		return SymbolInfo{}, err
	}
	if len(raw.Symbols) == 0 {
		return SymbolInfo{}, NewError(ErrPermanent, "unknown symbol", nil)
	}
	info := SymbolInfo{Symbol: symbol}
	for _, f := range raw.Symbols[0].Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			info.TickSize, _ = decimal.NewFromString(f.TickSize)
		case "LOT_SIZE":
			info.StepSize, _ = decimal.NewFromString(f.StepSize)
		case "MIN_NOTIONAL", "NOTIONAL":
			info.MinNotional, _ = decimal.NewFromString(f.MinNotional)
		}
	}
	return info, nil
}

// Symbols implements ExchangeInfo.
func (c *RESTClient) Symbols(ctx context.Context) ([]string, error) {
	var raw struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
		} `json:"symbols"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", nil, false, &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		out = append(out, s.Symbol)
	}
	return out, nil
}

// DailyVolumeUSD implements ExchangeInfo.
func (c *RESTClient) DailyVolumeUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var raw struct {
		QuoteVolume string `json:"quoteVolume"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/24hr", params, false, &raw); err != nil {
		return decimal.Zero, err
	}
	vol, _ := decimal.NewFromString(raw.QuoteVolume)
	return vol, nil
}

// SubmitOrder implements OrderSubmitter.
func (c *RESTClient) SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	params := url.Values{
		"symbol":           {req.Symbol},
		"side":             {string(req.Side)},
		"quantity":         {req.Quantity.String()},
		"newClientOrderId": {req.ClientOrderID},
	}
	if req.LimitPrice.IsZero() {
		params.Set("type", "MARKET")
	} else {
		params.Set("type", "LIMIT")
		params.Set("price", req.LimitPrice.String())
		params.Set("timeInForce", orDefault(req.TimeInForce, "GTC"))
	}

	var raw struct {
		OrderID       int64  `json:"orderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		CumulativeQuoteQty string `json:"cummulativeQuoteQty"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &raw); err != nil {
		if exErr, ok := err.(*Error); ok && exErr.Kind == ErrPermanent {
			return OrderAck{Status: model.OrderRejected, RejectReason: exErr.Msg}, nil
		}
		return OrderAck{}, err
	}

	filled, _ := decimal.NewFromString(raw.ExecutedQty)
	quote, _ := decimal.NewFromString(raw.CumulativeQuoteQty)
	avgPrice := decimal.Zero
	if filled.IsPositive() {
		avgPrice = quote.Div(filled)
	}

	return OrderAck{
		ExchangeOrderID: strconv.FormatInt(raw.OrderID, 10),
		Status:          mapStatus(raw.Status),
		FilledQuantity:  filled,
		AvgFillPrice:    avgPrice,
	}, nil
}

// SubmitOCO implements OrderSubmitter. The reference exchange lacks a
// native OCO endpoint on spot, so the two legs are submitted as
// independent limit orders (spec §4.7). No component cancels the
// sibling leg when one leg fills.
func (c *RESTClient) SubmitOCO(ctx context.Context, req OCORequest) (tpAck, slAck OrderAck, err error) {
	tpAck, err = c.SubmitOrder(ctx, OrderRequest{
		ClientOrderID: req.TPClientOrderID,
		Symbol:        req.Symbol,
		Side:          model.SideSell,
		Kind:          model.OrderKindTP,
		Quantity:      req.Quantity,
		LimitPrice:    req.TPPrice,
		TimeInForce:   "GTC",
	})
	if err != nil {
		return OrderAck{}, OrderAck{}, err
	}
	slAck, err = c.SubmitOrder(ctx, OrderRequest{
		ClientOrderID: req.SLClientOrderID,
		Symbol:        req.Symbol,
		Side:          model.SideSell,
		Kind:          model.OrderKindSL,
		Quantity:      req.Quantity,
		LimitPrice:    req.SLPrice,
		TimeInForce:   "GTC",
	})
	return tpAck, slAck, err
}

// CancelOrder implements OrderSubmitter.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	params := url.Values{"symbol": {symbol}, "origClientOrderId": {clientOrderID}}
	return c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, nil)
}

// OpenOrders implements OrderQuery.
func (c *RESTClient) OpenOrders(ctx context.Context, symbol string) ([]OrderAck, error) {
	var raw []struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/openOrders", params, true, &raw); err != nil {
		return nil, err
	}
	out := make([]OrderAck, 0, len(raw))
	for _, o := range raw {
		qty, _ := decimal.NewFromString(o.ExecutedQty)
		out = append(out, OrderAck{ExchangeOrderID: strconv.FormatInt(o.OrderID, 10), Status: mapStatus(o.Status), FilledQuantity: qty})
	}
	return out, nil
}

// AccountTrades implements OrderQuery.
func (c *RESTClient) AccountTrades(ctx context.Context, symbol string, since time.Time) ([]OrderAck, error) {
	var raw []struct {
		OrderID int64  `json:"orderId"`
		Qty     string `json:"qty"`
		Price   string `json:"price"`
	}
	params := url.Values{"symbol": {symbol}, "startTime": {strconv.FormatInt(since.UnixMilli(), 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/myTrades", params, true, &raw); err != nil {
		return nil, err
	}
	out := make([]OrderAck, 0, len(raw))
	for _, t := range raw {
		qty, _ := decimal.NewFromString(t.Qty)
		price, _ := decimal.NewFromString(t.Price)
		out = append(out, OrderAck{ExchangeOrderID: strconv.FormatInt(t.OrderID, 10), Status: model.OrderFilled, FilledQuantity: qty, AvgFillPrice: price})
	}
	return out, nil
}

// ServerTime returns the exchange's clock, used at startup to check
// clock skew (spec §4.12: "verify clock skew <= 1s").
func (c *RESTClient) ServerTime(ctx context.Context) (time.Time, error) {
	var raw struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/time", nil, false, &raw); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(raw.ServerTime).UTC(), nil
}

func mapStatus(exchangeStatus string) model.OrderStatus {
	switch exchangeStatus {
	case "FILLED":
		return model.OrderFilled
	case "PARTIALLY_FILLED", "NEW":
		return model.OrderSubmitted
	case "CANCELED", "EXPIRED":
		return model.OrderCanceled
	case "REJECTED":
		return model.OrderRejected
	default:
		return model.OrderPending
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var _ Client = (*RESTClient)(nil)

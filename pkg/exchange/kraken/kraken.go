// Package kraken implements the execution gateway against Kraken's REST API.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"signal-core/pkg/exchange/common"
)

const defaultBaseURL = "https://api.kraken.com"

// Config holds Kraken API credentials and transport settings.
type Config struct {
	APIKey    string
	APISecret string // base64-encoded, as issued by Kraken
	BaseURL   string // override for tests
	Timeout   time.Duration
}

// Client is a Kraken REST client implementing common.Gateway.
//
// Private calls are signed per Kraken's scheme: API-Sign is the base64
// HMAC-SHA512 of (URI path + SHA256(nonce + POST body)) keyed with the
// base64-decoded secret. Nonces are strictly increasing per client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client

	nonceMu   sync.Mutex
	lastNonce int64
}

func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "kraken" }

// pairName maps pipeline symbols ("BTC/USD") to Kraken altnames ("XBTUSD").
func pairName(symbol string) string {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok {
		return strings.ToUpper(symbol)
	}
	switch strings.ToUpper(base) {
	case "BTC":
		base = "XBT"
	case "DOGE":
		base = "XDG"
	}
	return strings.ToUpper(base) + strings.ToUpper(quote)
}

// SubmitOrder places an entry order via AddOrder.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return c.addOrder(ctx, req)
}

// SubmitStop places a protective stop via AddOrder with ordertype stop-loss.
func (c *Client) SubmitStop(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	req.Type = common.OrderTypeStopLoss
	return c.addOrder(ctx, req)
}

func (c *Client) addOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("pair", pairName(req.Symbol))
	params.Set("type", strings.ToLower(string(req.Side)))
	params.Set("volume", formatFloat(req.Qty))

	switch req.Type {
	case common.OrderTypeLimit:
		params.Set("ordertype", "limit")
		params.Set("price", formatFloat(req.Price))
	case common.OrderTypeStopLoss:
		params.Set("ordertype", "stop-loss")
		// Kraken uses "price" as the trigger for stop-loss orders.
		params.Set("price", formatFloat(req.StopPrice))
		params.Set("reduce_only", "true")
	default:
		params.Set("ordertype", "market")
	}
	if req.ClientID != "" {
		params.Set("cl_ord_id", req.ClientID)
	}

	var resp struct {
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
		TxID []string `json:"txid"`
	}
	if err := c.doPrivate(ctx, "/0/private/AddOrder", params, &resp); err != nil {
		return common.OrderResult{}, err
	}
	if len(resp.TxID) == 0 {
		return common.OrderResult{}, fmt.Errorf("kraken AddOrder: no txid in response (%s)", resp.Descr.Order)
	}

	// AddOrder acknowledges placement only; fills are reconciled separately.
	status := common.OrderStatusOpen
	if req.Type == common.OrderTypeMarket {
		status = common.OrderStatusFilled
	}
	return common.OrderResult{
		ExchangeOrderID: resp.TxID[0],
		ClientID:        req.ClientID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          status,
		Qty:             req.Qty,
		FilledQty:       0,
		AvgPrice:        req.Price,
		SubmittedAt:     time.Now().UTC(),
	}, nil
}

// CancelOrder cancels a resting order by txid. The symbol is unused on
// Kraken but part of the gateway contract.
func (c *Client) CancelOrder(ctx context.Context, _ string, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("txid", exchangeOrderID)

	var resp struct {
		Count int `json:"count"`
	}
	if err := c.doPrivate(ctx, "/0/private/CancelOrder", params, &resp); err != nil {
		return err
	}
	if resp.Count == 0 {
		return fmt.Errorf("kraken CancelOrder: order %s not cancelled", exchangeOrderID)
	}
	return nil
}

// GetQuote returns top of book from the public Ticker endpoint.
func (c *Client) GetQuote(ctx context.Context, symbol string) (common.Quote, error) {
	params := url.Values{}
	params.Set("pair", pairName(symbol))

	// Ticker results are keyed by Kraken's internal pair name, which may
	// differ from the requested altname, so take the single entry.
	var resp map[string]struct {
		Ask    []string `json:"a"`
		Bid    []string `json:"b"`
		Last   []string `json:"c"`
		Volume []string `json:"v"`
	}
	err := c.retryRead(ctx, func() error {
		return c.doPublic(ctx, "/0/public/Ticker", params, &resp)
	})
	if err != nil {
		return common.Quote{}, err
	}
	for _, t := range resp {
		q := common.Quote{Symbol: symbol, Time: time.Now().UTC()}
		if len(t.Ask) > 0 {
			q.Ask, _ = strconv.ParseFloat(t.Ask[0], 64)
		}
		if len(t.Bid) > 0 {
			q.Bid, _ = strconv.ParseFloat(t.Bid[0], 64)
		}
		if len(t.Last) > 0 {
			q.Last, _ = strconv.ParseFloat(t.Last[0], 64)
		}
		if len(t.Volume) > 1 {
			q.Volume, _ = strconv.ParseFloat(t.Volume[1], 64)
		}
		return q, nil
	}
	return common.Quote{}, fmt.Errorf("kraken Ticker: no data for %s", symbol)
}

// OpenOrders lists resting orders from the private OpenOrders endpoint.
func (c *Client) OpenOrders(ctx context.Context) ([]common.OpenOrder, error) {
	var resp struct {
		Open map[string]struct {
			Status  string  `json:"status"`
			OpenTm  float64 `json:"opentm"`
			Vol     string  `json:"vol"`
			VolExec string  `json:"vol_exec"`
			Descr   struct {
				Pair      string `json:"pair"`
				Type      string `json:"type"`
				OrderType string `json:"ordertype"`
				Price     string `json:"price"`
			} `json:"descr"`
		} `json:"open"`
	}
	err := c.retryRead(ctx, func() error {
		return c.doPrivate(ctx, "/0/private/OpenOrders", url.Values{}, &resp)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]common.OpenOrder, 0, len(resp.Open))
	for txid, o := range resp.Open {
		qty, _ := strconv.ParseFloat(o.Vol, 64)
		filled, _ := strconv.ParseFloat(o.VolExec, 64)
		price, _ := strconv.ParseFloat(o.Descr.Price, 64)
		sec, frac := int64(o.OpenTm), o.OpenTm-float64(int64(o.OpenTm))
		orders = append(orders, common.OpenOrder{
			ExchangeOrderID: txid,
			Symbol:          o.Descr.Pair,
			Side:            common.Side(strings.ToUpper(o.Descr.Type)),
			Type:            mapOrderType(o.Descr.OrderType),
			Status:          mapStatus(o.Status),
			Qty:             qty,
			FilledQty:       filled,
			Price:           price,
			OpenedAt:        time.Unix(sec, int64(frac*1e9)).UTC(),
		})
	}
	return orders, nil
}

// GetBalance returns per-currency balances from the private Balance endpoint.
func (c *Client) GetBalance(ctx context.Context) ([]common.Balance, error) {
	var resp map[string]string
	err := c.retryRead(ctx, func() error {
		return c.doPrivate(ctx, "/0/private/Balance", url.Values{}, &resp)
	})
	if err != nil {
		return nil, err
	}

	balances := make([]common.Balance, 0, len(resp))
	for currency, amount := range resp {
		total, _ := strconv.ParseFloat(amount, 64)
		balances = append(balances, common.Balance{
			Currency:  normalizeCurrency(currency),
			Total:     total,
			Available: total,
		})
	}
	return balances, nil
}

// OHLC fetches recent candles from the public OHLC endpoint. interval is
// in minutes. Used for indicator warm-up, not part of the Gateway contract.
func (c *Client) OHLC(ctx context.Context, symbol string, interval int) ([]Candle, error) {
	params := url.Values{}
	params.Set("pair", pairName(symbol))
	params.Set("interval", strconv.Itoa(interval))

	var resp map[string]json.RawMessage
	err := c.retryRead(ctx, func() error {
		return c.doPublic(ctx, "/0/public/OHLC", params, &resp)
	})
	if err != nil {
		return nil, err
	}
	for key, raw := range resp {
		if key == "last" {
			continue
		}
		var rows [][]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("kraken OHLC: decode %s: %w", key, err)
		}
		candles := make([]Candle, 0, len(rows))
		for _, row := range rows {
			// [time, open, high, low, close, vwap, volume, count]
			if len(row) < 7 {
				continue
			}
			candles = append(candles, Candle{
				Time:   time.Unix(int64(asFloat(row[0])), 0).UTC(),
				Open:   asFloat(row[1]),
				High:   asFloat(row[2]),
				Low:    asFloat(row[3]),
				Close:  asFloat(row[4]),
				Volume: asFloat(row[6]),
			})
		}
		return candles, nil
	}
	return nil, fmt.Errorf("kraken OHLC: no data for %s", symbol)
}

// Candle is one OHLC bar from the public OHLC endpoint.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// doPublic performs an unauthenticated GET against a public endpoint.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

// doPrivate performs a signed POST against a private endpoint.
func (c *Client) doPrivate(ctx context.Context, path string, params url.Values, out any) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return fmt.Errorf("kraken %s: %w: missing credentials", path, common.ErrAuth)
	}

	nonce := c.nextNonce()
	params.Set("nonce", strconv.FormatInt(nonce, 10))
	body := params.Encode()

	sign, err := c.sign(path, strconv.FormatInt(nonce, 10), body)
	if err != nil {
		return fmt.Errorf("kraken %s: sign: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("API-Key", c.cfg.APIKey)
	req.Header.Set("API-Sign", sign)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req, out)
}

// transientErr marks transport failures and 5xx responses, the only
// failures retryRead will attempt again.
type transientErr struct{ err error }

func (e *transientErr) Error() string { return e.err.Error() }
func (e *transientErr) Unwrap() error { return e.err }

// retryRead runs fn up to three times with doubling backoff on transient
// failures. Mutating endpoints never come through here: after an ambiguous
// AddOrder failure the order may be live, and a retry could double-submit.
// Private calls re-sign with a fresh nonce on each attempt.
func (c *Client) retryRead(ctx context.Context, fn func() error) error {
	var err error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = fn()
		var te *transientErr
		if err == nil || !errors.As(err, &te) {
			return err
		}
	}
	return err
}

// send executes the request and decodes Kraken's response envelope.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientErr{fmt.Errorf("kraken %s: %w", req.URL.Path, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientErr{fmt.Errorf("kraken %s: read body: %w", req.URL.Path, err)}
	}
	if resp.StatusCode >= 500 {
		return &transientErr{fmt.Errorf("kraken %s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("kraken %s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("kraken %s: decode: %w", req.URL.Path, err)
	}
	if len(envelope.Error) > 0 {
		return mapAPIError(req.URL.Path, envelope.Error)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("kraken %s: decode result: %w", req.URL.Path, err)
		}
	}
	return nil
}

// sign computes API-Sign: base64(HMAC-SHA512(path + SHA256(nonce+body), secret)).
func (c *Client) sign(path, nonce, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.cfg.APISecret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// nextNonce returns a strictly increasing nonce.
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	nonce := time.Now().UnixNano() / int64(time.Millisecond)
	if nonce <= c.lastNonce {
		nonce = c.lastNonce + 1
	}
	c.lastNonce = nonce
	return nonce
}

// mapAPIError maps Kraken error strings onto gateway sentinels.
func mapAPIError(path string, errs []string) error {
	joined := strings.Join(errs, "; ")
	for _, e := range errs {
		switch {
		case strings.Contains(e, "Rate limit"):
			return fmt.Errorf("kraken %s: %w: %s", path, common.ErrRateLimited, joined)
		case strings.Contains(e, "Invalid key"),
			strings.Contains(e, "Invalid signature"),
			strings.Contains(e, "Invalid nonce"),
			strings.Contains(e, "Permission denied"):
			return fmt.Errorf("kraken %s: %w: %s", path, common.ErrAuth, joined)
		case strings.Contains(e, "Insufficient funds"):
			return fmt.Errorf("kraken %s: %w: %s", path, common.ErrInsufficientFunds, joined)
		}
	}
	return fmt.Errorf("kraken %s: api error: %s", path, joined)
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "pending", "open":
		return common.OrderStatusOpen
	case "closed":
		return common.OrderStatusFilled
	case "canceled":
		return common.OrderStatusCanceled
	case "expired":
		return common.OrderStatusExpired
	default:
		return common.OrderStatusNew
	}
}

func mapOrderType(s string) common.OrderType {
	switch s {
	case "limit":
		return common.OrderTypeLimit
	case "stop-loss":
		return common.OrderTypeStopLoss
	default:
		return common.OrderTypeMarket
	}
}

// asFloat coerces Kraken's mixed numeric encodings (JSON numbers and
// decimal strings) to float64.
func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}

// normalizeCurrency strips Kraken's legacy X/Z asset prefixes.
func normalizeCurrency(code string) string {
	if len(code) == 4 && (code[0] == 'X' || code[0] == 'Z') {
		trimmed := code[1:]
		if trimmed == "XBT" {
			return "BTC"
		}
		if trimmed == "XDG" {
			return "DOGE"
		}
		return trimmed
	}
	if code == "XBT" {
		return "BTC"
	}
	return code
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

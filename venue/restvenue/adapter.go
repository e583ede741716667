package restvenue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// Config wires one venue instance: its base URLs, credentials and naming.
// Grounded on exec/client.go's flat constructor-arg shape generalized from
// hardcoded Polymarket constants to per-venue values.
type Config struct {
	VenueName    string
	RESTBaseURL  string
	WSURL        string
	APIKey       string
	APISecret    string
	HTTPTimeout  time.Duration
	AccountIndex *int
}

// Adapter implements venue.Port against a generic REST+WS perp exchange.
type Adapter struct {
	cfg    Config
	signer *Signer
	http   *http.Client
	limits *venue.RateLimiter

	mu    sync.RWMutex
	books map[types.Symbol]types.OrderbookL1

	wsConn   *websocket.Conn
	wsCancel context.CancelFunc
}

// New constructs an Adapter. It does not dial the network until Initialize.
func New(cfg Config) *Adapter {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		signer: NewSigner(cfg.APIKey, cfg.APISecret),
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		limits: venue.NewRateLimiter(),
		books:  make(map[types.Symbol]types.OrderbookL1),
	}
}

func (a *Adapter) Name() string { return a.cfg.VenueName }

// Initialize opens the WebSocket L1 stream in the background (spec section
// 4.A: subscription callbacks for L1 are optional but, when present, are
// singletons per (venue, channel) — spec section 5).
func (a *Adapter) Initialize(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	a.wsCancel = cancel
	go a.runWSLoop(streamCtx)
	return nil
}

// Close cancels the WS subscription and closes the HTTP pool's idle
// connections (spec section 4.A: close() MUST cancel outstanding WS
// subscriptions and close HTTP pools).
func (a *Adapter) Close(ctx context.Context) error {
	if a.wsCancel != nil {
		a.wsCancel()
	}
	a.mu.Lock()
	conn := a.wsConn
	a.wsConn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	a.http.CloseIdleConnections()
	return nil
}

// runWSLoop reconnects with backoff, mirroring feeds/binance.go's poll-loop
// resilience idiom but for a push subscription instead of polling.
func (a *Adapter) runWSLoop(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.WSURL, nil)
		if err != nil {
			log.Warn().Err(err).Str("venue", a.cfg.VenueName).Dur("backoff", backoff).Msg("ws dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		a.mu.Lock()
		a.wsConn = conn
		a.mu.Unlock()
		backoff = time.Second

		a.readLoop(ctx, conn)
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var msg l1Update
		if err := conn.ReadJSON(&msg); err != nil {
			log.Debug().Err(err).Str("venue", a.cfg.VenueName).Msg("ws read ended")
			return
		}
		a.mu.Lock()
		a.books[types.Symbol(msg.Symbol)] = types.OrderbookL1{
			Symbol: types.Symbol(msg.Symbol), Venue: a.cfg.VenueName,
			BidPx: msg.BidPx, BidQty: msg.BidQty, AskPx: msg.AskPx, AskQty: msg.AskQty,
			UpdatedAt: time.Now(),
		}
		a.mu.Unlock()
	}
}

type l1Update struct {
	Symbol string          `json:"symbol"`
	BidPx  decimal.Decimal `json:"bid_px"`
	BidQty decimal.Decimal `json:"bid_qty"`
	AskPx  decimal.Decimal `json:"ask_px"`
	AskQty decimal.Decimal `json:"ask_qty"`
}

// GetOrderbookL1 serves the last WS-pushed snapshot if fresh, otherwise
// falls back to a REST poll — mirroring the "lazy sequence, push-or-pull"
// design note (spec section 9).
func (a *Adapter) GetOrderbookL1(ctx context.Context, symbol types.Symbol) (types.OrderbookL1, error) {
	a.mu.RLock()
	ob, ok := a.books[symbol]
	a.mu.RUnlock()
	if ok && time.Since(ob.UpdatedAt) < 2*time.Second {
		return ob, nil
	}

	var resp l1Update
	if err := a.get(ctx, fmt.Sprintf("/v1/book/%s", symbol), &resp); err != nil {
		return types.OrderbookL1{}, err
	}
	out := types.OrderbookL1{
		Symbol: symbol, Venue: a.cfg.VenueName,
		BidPx: resp.BidPx, BidQty: resp.BidQty, AskPx: resp.AskPx, AskQty: resp.AskQty,
		UpdatedAt: time.Now(),
	}
	a.mu.Lock()
	a.books[symbol] = out
	a.mu.Unlock()
	return out, nil
}

func (a *Adapter) GetOrderbookDepth(ctx context.Context, symbol types.Symbol, levels int) (types.OrderbookDepth, error) {
	var resp struct {
		l1Update
		Bids []types.DepthLevel `json:"bids"`
		Asks []types.DepthLevel `json:"asks"`
	}
	if err := a.get(ctx, fmt.Sprintf("/v1/depth/%s?levels=%d", symbol, levels), &resp); err != nil {
		return types.OrderbookDepth{}, err
	}
	return types.OrderbookDepth{
		OrderbookL1: types.OrderbookL1{
			Symbol: symbol, Venue: a.cfg.VenueName,
			BidPx: resp.BidPx, BidQty: resp.BidQty, AskPx: resp.AskPx, AskQty: resp.AskQty,
			UpdatedAt: time.Now(),
		},
		Bids: resp.Bids,
		Asks: resp.Asks,
	}, nil
}

// GetFundingRate normalizes the venue's raw rate to hourly (spec section 3):
// the source exposes raw_rate + interval_hours, and this adapter divides,
// never assuming the venue already reports hourly.
func (a *Adapter) GetFundingRate(ctx context.Context, symbol types.Symbol) (types.FundingRate, error) {
	var resp struct {
		RawRate       decimal.Decimal `json:"rate"`
		IntervalHours decimal.Decimal `json:"interval_hours"`
		NextFundingAt int64           `json:"next_funding_at_ms"`
	}
	if err := a.get(ctx, fmt.Sprintf("/v1/funding/%s", symbol), &resp); err != nil {
		return types.FundingRate{}, err
	}
	if resp.IntervalHours.IsZero() {
		resp.IntervalHours = decimal.NewFromInt(1)
	}
	return types.FundingRate{
		Symbol:        symbol,
		Venue:         a.cfg.VenueName,
		RateHourly:    resp.RawRate.Div(resp.IntervalHours),
		NextFundingAt: time.UnixMilli(resp.NextFundingAt),
		ObservedAt:    time.Now(),
	}, nil
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[types.Symbol]types.MarketInfo, error) {
	var resp []types.MarketInfo
	if err := a.get(ctx, "/v1/markets", &resp); err != nil {
		return nil, err
	}
	out := make(map[types.Symbol]types.MarketInfo, len(resp))
	for _, mi := range resp {
		mi.Venue = a.cfg.VenueName
		out[mi.Symbol] = mi
	}
	return out, nil
}

func (a *Adapter) ListPositions(ctx context.Context) ([]types.Position, error) {
	var resp []types.Position
	if err := a.signedGet(ctx, "/v1/positions", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *Adapter) GetPosition(ctx context.Context, symbol types.Symbol) (*types.Position, error) {
	positions, err := a.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return &p, nil
		}
	}
	return nil, nil
}

func (a *Adapter) GetAvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Available decimal.Decimal `json:"available"`
	}
	if err := a.signedGet(ctx, "/v1/balance", &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Available, nil
}

func (a *Adapter) GetRealizedFunding(ctx context.Context, symbol types.Symbol, since time.Time) (decimal.Decimal, error) {
	var resp struct {
		Realized decimal.Decimal `json:"realized_funding"`
	}
	path := fmt.Sprintf("/v1/funding/realized/%s?since_ms=%d", symbol, since.UnixMilli())
	if err := a.signedGet(ctx, path, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Realized, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := a.limits.Orders.Wait(ctx); err != nil {
		return types.Order{}, types.NewVenueError(a.cfg.VenueName, "place_order", types.KindTimeout, err)
	}
	var resp types.Order
	if err := a.signedPost(ctx, "/v1/orders", req, &resp); err != nil {
		return types.Order{}, err
	}
	resp.OrderRequest = req
	return resp, nil
}

func (a *Adapter) GetOrder(ctx context.Context, symbol types.Symbol, orderID string) (types.Order, error) {
	var resp types.Order
	if err := a.signedGet(ctx, fmt.Sprintf("/v1/orders/%s/%s", symbol, orderID), &resp); err != nil {
		return types.Order{}, err
	}
	return resp, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) (bool, error) {
	if err := a.limits.Orders.Wait(ctx); err != nil {
		return false, types.NewVenueError(a.cfg.VenueName, "cancel_order", types.KindTimeout, err)
	}
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := a.signedDelete(ctx, fmt.Sprintf("/v1/orders/%s/%s", symbol, orderID), &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

func (a *Adapter) CancelAll(ctx context.Context, symbol *types.Symbol) (int, error) {
	path := "/v1/orders"
	if symbol != nil {
		path = fmt.Sprintf("/v1/orders?symbol=%s", *symbol)
	}
	var resp struct {
		Cancelled int `json:"cancelled"`
	}
	if err := a.signedDelete(ctx, path, &resp); err != nil {
		return 0, err
	}
	return resp.Cancelled, nil
}

// --- HTTP plumbing, grounded on exec/client.go's get/post/doRequest split ---

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	if err := a.limits.MarketData.Wait(ctx); err != nil {
		return types.NewVenueError(a.cfg.VenueName, path, types.KindTimeout, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.RESTBaseURL+path, nil)
	if err != nil {
		return types.NewVenueError(a.cfg.VenueName, path, types.KindValidation, err)
	}
	return a.doRequest(req, out)
}

func (a *Adapter) signedGet(ctx context.Context, path string, out any) error {
	return a.signedRequest(ctx, http.MethodGet, path, nil, out)
}

func (a *Adapter) signedDelete(ctx context.Context, path string, out any) error {
	return a.signedRequest(ctx, http.MethodDelete, path, nil, out)
}

func (a *Adapter) signedPost(ctx context.Context, path string, body any, out any) error {
	return a.signedRequest(ctx, http.MethodPost, path, body, out)
}

func (a *Adapter) signedRequest(ctx context.Context, method, path string, body any, out any) error {
	var bodyStr string
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return types.NewVenueError(a.cfg.VenueName, path, types.KindValidation, err)
		}
		bodyStr = string(b)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.RESTBaseURL+path, reader)
	if err != nil {
		return types.NewVenueError(a.cfg.VenueName, path, types.KindValidation, err)
	}

	ts, sig := a.signer.Sign(method, path, bodyStr)
	req.Header.Set("X-API-KEY", a.signer.APIKey())
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", sig)
	req.Header.Set("Content-Type", "application/json")

	return a.doRequest(req, out)
}

func (a *Adapter) doRequest(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return types.NewVenueError(a.cfg.VenueName, req.URL.Path, types.KindTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewVenueError(a.cfg.VenueName, req.URL.Path, types.KindTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewVenueError(a.cfg.VenueName, req.URL.Path, types.KindRateLimited, fmt.Errorf("429: %s", data))
	case resp.StatusCode == http.StatusConflict:
		var dup struct {
			OrderID string `json:"order_id"`
		}
		_ = json.Unmarshal(data, &dup) // best-effort; empty OrderID if the venue didn't echo one
		return types.NewDuplicateClientIDError(a.cfg.VenueName, req.URL.Path, dup.OrderID, fmt.Errorf("409: %s", data))
	case resp.StatusCode >= 500:
		return types.NewVenueError(a.cfg.VenueName, req.URL.Path, types.KindTransient, fmt.Errorf("%d: %s", resp.StatusCode, data))
	case resp.StatusCode >= 400:
		return types.NewVenueError(a.cfg.VenueName, req.URL.Path, types.KindOrderReject, fmt.Errorf("%d: %s", resp.StatusCode, data))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return types.NewVenueError(a.cfg.VenueName, req.URL.Path, types.KindTransient, err)
	}
	return nil
}

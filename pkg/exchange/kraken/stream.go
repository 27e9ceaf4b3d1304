package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultStreamURL = "wss://ws.kraken.com/v2"

// TickerUpdate is one best bid/ask/last observation from the public
// ticker channel.
type TickerUpdate struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Volume float64
	Time   time.Time
}

// StreamClient consumes Kraken's public v2 websocket. Symbols use the
// "BTC/USD" form the v2 API expects, matching the pipeline's own symbol
// notation.
type StreamClient struct {
	URL    string // override for tests
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewStreamClient builds a websocket client for the public v2 endpoint.
func NewStreamClient(logger zerolog.Logger) *StreamClient {
	return &StreamClient{
		URL:    defaultStreamURL,
		dialer: websocket.DefaultDialer,
		log:    logger.With().Str("component", "kraken_ws").Logger(),
	}
}

// SubscribeTicker subscribes to the ticker channel for the given symbols
// and returns the update channel and a stop function. The channel closes
// when the connection drops; the caller owns reconnecting.
func (c *StreamClient) SubscribeTicker(ctx context.Context, symbols []string) (<-chan TickerUpdate, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial kraken ws: %w", err)
	}

	sub := map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"channel": "ticker",
			"symbol":  symbols,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("subscribe kraken ticker: %w", err)
	}

	out := make(chan TickerUpdate, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Connection may already be gone; best effort.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			close(out)
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.log.Warn().Err(err).Msg("ticker stream read failed")
				return
			}

			updates, err := parseTickerFrame(msg)
			if err != nil {
				c.log.Warn().Err(err).Msg("ticker stream frame rejected")
				if isSubscribeRejection(msg) {
					return
				}
				continue
			}
			for _, u := range updates {
				out <- u
			}
		}
	}()

	return out, stop, nil
}

// parseTickerFrame decodes one websocket frame. Heartbeats, status frames
// and successful method acks yield no updates and no error.
func parseTickerFrame(msg []byte) ([]TickerUpdate, error) {
	var env struct {
		Channel string `json:"channel"`
		Method  string `json:"method"`
		Success *bool  `json:"success"`
		Error   string `json:"error"`
		Data    []struct {
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
			Last   float64 `json:"last"`
			Volume float64 `json:"volume"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, err
	}

	if env.Method != "" && env.Success != nil && !*env.Success {
		return nil, fmt.Errorf("kraken ws %s rejected: %s", env.Method, env.Error)
	}
	if env.Channel != "ticker" {
		return nil, nil
	}

	now := time.Now().UTC()
	updates := make([]TickerUpdate, 0, len(env.Data))
	for _, d := range env.Data {
		updates = append(updates, TickerUpdate{
			Symbol: d.Symbol,
			Bid:    d.Bid,
			Ask:    d.Ask,
			Last:   d.Last,
			Volume: d.Volume,
			Time:   now,
		})
	}
	return updates, nil
}

func isSubscribeRejection(msg []byte) bool {
	var env struct {
		Method  string `json:"method"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return false
	}
	return env.Method == "subscribe" && env.Success != nil && !*env.Success
}

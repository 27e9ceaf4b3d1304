package kraken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newStreamServer(t *testing.T, handler func(conn *websocket.Conn)) *StreamClient {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	c := NewStreamClient(zerolog.Nop())
	c.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return c
}

func recvUpdate(t *testing.T, ch <-chan TickerUpdate) TickerUpdate {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatal("stream closed before the expected update")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a ticker update")
	}
	return TickerUpdate{}
}

func TestSubscribeTickerStreamsUpdates(t *testing.T) {
	subscribed := make(chan map[string]any, 1)
	c := newStreamServer(t, func(conn *websocket.Conn) {
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		subscribed <- sub

		writes := []map[string]any{
			{"method": "subscribe", "success": true, "result": map[string]any{"channel": "ticker"}},
			{"channel": "heartbeat"},
			{"channel": "status", "type": "update", "data": []map[string]any{{"system": "online"}}},
			{"channel": "ticker", "type": "snapshot", "data": []map[string]any{
				{"symbol": "BTC/USD", "bid": 64000.1, "ask": 64010.2, "last": 64005.0, "volume": 1234.5},
			}},
			{"channel": "ticker", "type": "update", "data": []map[string]any{
				{"symbol": "BTC/USD", "bid": 64001.0, "ask": 64011.0, "last": 64006.5, "volume": 1235.0},
			}},
		}
		for _, w := range writes {
			if err := conn.WriteJSON(w); err != nil {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	})

	ch, stop, err := c.SubscribeTicker(context.Background(), []string{"BTC/USD", "ETH/USD"})
	if err != nil {
		t.Fatalf("SubscribeTicker: %v", err)
	}
	defer stop()

	sub := <-subscribed
	if sub["method"] != "subscribe" {
		t.Errorf("subscribe method = %v", sub["method"])
	}
	params, _ := sub["params"].(map[string]any)
	if params["channel"] != "ticker" {
		t.Errorf("subscribe channel = %v", params["channel"])
	}
	symbols, _ := params["symbol"].([]any)
	if len(symbols) != 2 || symbols[0] != "BTC/USD" {
		t.Errorf("subscribe symbols = %v", symbols)
	}

	first := recvUpdate(t, ch)
	if first.Symbol != "BTC/USD" || first.Bid != 64000.1 || first.Ask != 64010.2 || first.Last != 64005.0 {
		t.Errorf("snapshot update = %+v", first)
	}
	if first.Time.IsZero() {
		t.Error("update timestamp not stamped")
	}

	second := recvUpdate(t, ch)
	if second.Last != 64006.5 {
		t.Errorf("second update last = %v", second.Last)
	}

	// Server side hangs up; the channel must close.
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after server hangup")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after server hangup")
	}
}

func TestSubscribeTickerRejection(t *testing.T) {
	c := newStreamServer(t, func(conn *websocket.Conn) {
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"method": "subscribe", "success": false, "error": "Currency pair not supported",
		})
		time.Sleep(100 * time.Millisecond)
	})

	ch, stop, err := c.SubscribeTicker(context.Background(), []string{"NOPE/USD"})
	if err != nil {
		t.Fatalf("SubscribeTicker: %v", err)
	}
	defer stop()

	select {
	case u, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel after rejection, got %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after subscribe rejection")
	}
}

func TestSubscribeTickerDialFailure(t *testing.T) {
	c := NewStreamClient(zerolog.Nop())
	c.URL = "ws://127.0.0.1:1/v2"
	if _, _, err := c.SubscribeTicker(context.Background(), []string{"BTC/USD"}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestParseTickerFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    int
		wantErr bool
	}{
		{"heartbeat", `{"channel":"heartbeat"}`, 0, false},
		{"status", `{"channel":"status","type":"update","data":[{"system":"online"}]}`, 0, false},
		{"ack", `{"method":"subscribe","success":true,"result":{"channel":"ticker"}}`, 0, false},
		{"rejection", `{"method":"subscribe","success":false,"error":"bad pair"}`, 0, true},
		{"update", `{"channel":"ticker","type":"update","data":[{"symbol":"BTC/USD","bid":1,"ask":2,"last":1.5,"volume":9}]}`, 1, false},
		{"garbage", `{"channel":`, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			updates, err := parseTickerFrame([]byte(tc.frame))
			if tc.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
			if len(updates) != tc.want {
				t.Fatalf("updates = %d, want %d", len(updates), tc.want)
			}
		})
	}
}

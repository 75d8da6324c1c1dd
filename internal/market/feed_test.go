package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kraken-hop-bot/internal/kraken/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestParseBookSnapshot(t *testing.T) {
	raw := `[336,{"as":[["0.054500","1.2","1700000000.1"],["0.054600","3.0","1700000000.2"]],"bs":[["0.054300","0.5","1700000000.3"]]},"book-10","ETH/XBT"]`
	msg, ok, err := parseBookMessage([]byte(raw))
	if err != nil || !ok {
		t.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if !msg.Snapshot || msg.Pair != "ETH/XBT" || msg.Channel != "book-10" {
		t.Fatalf("unexpected header %#v", msg)
	}
	if len(msg.Asks) != 2 || len(msg.Bids) != 1 {
		t.Fatalf("unexpected levels asks=%d bids=%d", len(msg.Asks), len(msg.Bids))
	}
}

func TestParseBookUpdateWithBothSides(t *testing.T) {
	raw := `[336,{"a":[["0.054400","2.0","1700000001.1"]]},{"b":[["0.054300","0.00000000","1700000001.2","r"]],"c":"12345"},"book-10","ETH/XBT"]`
	msg, ok, err := parseBookMessage([]byte(raw))
	if err != nil || !ok {
		t.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if msg.Snapshot {
		t.Fatalf("expected update frame")
	}
	if len(msg.Asks) != 1 || len(msg.Bids) != 1 || !msg.Bids[0].Volume.IsZero() {
		t.Fatalf("unexpected levels %#v", msg)
	}
}

func TestParseIgnoresOtherChannels(t *testing.T) {
	_, ok, err := parseBookMessage([]byte(`[1,[["0.05","1","1700000000","b","l",""]],"trade","ETH/XBT"]`))
	if err != nil || ok {
		t.Fatalf("expected trade frame to be skipped, ok=%v err=%v", ok, err)
	}
	if _, _, err := parseBookMessage([]byte(`[1,"book-10"]`)); err == nil {
		t.Fatalf("expected error for short frame")
	}
}

func TestFeedAppliesUpdatesAndTruncates(t *testing.T) {
	feed := NewBookFeed(nil, []string{"ETH/XBT"}, 2, zap.NewNop())
	now := time.Now()
	feed.apply(bookMessage{Pair: "ETH/XBT", Asks: []bookLevel{lvl("0.0544", "1")}}, now)
	if len(feed.Books()) != 0 {
		t.Fatalf("expected update before snapshot to be ignored")
	}
	feed.apply(bookMessage{
		Pair:     "ETH/XBT",
		Snapshot: true,
		Asks:     []bookLevel{lvl("0.0546", "1"), lvl("0.0545", "1")},
		Bids:     []bookLevel{lvl("0.0543", "1"), lvl("0.0542", "1")},
	}, now)
	feed.apply(bookMessage{
		Pair: "ETH/XBT",
		Asks: []bookLevel{lvl("0.0544", "2")},
		Bids: []bookLevel{lvl("0.0543", "0")},
	}, now)

	book := feed.Books()["ETH/XBT"]
	if len(book.Asks) != 2 {
		t.Fatalf("expected asks truncated to depth 2, got %v", book.Asks)
	}
	for _, ask := range book.Asks {
		if ask.Equal(dec("0.0546")) {
			t.Fatalf("expected worst ask to be dropped, got %v", book.Asks)
		}
	}
	if len(book.Bids) != 1 || !book.Bids[0].Equal(dec("0.0542")) {
		t.Fatalf("expected zero-volume bid removed, got %v", book.Bids)
	}
	mid, err := book.Mid()
	if err != nil {
		t.Fatalf("mid: %v", err)
	}
	if !mid.Equal(dec("0.0543")) {
		t.Fatalf("expected mid 0.0543, got %s", mid)
	}
	if !feed.LastUpdate().Equal(now) {
		t.Fatalf("expected last update to be recorded")
	}
}

func TestFeedOverWebsocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	subCh := make(chan map[string]any, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var sub map[string]any
		_ = json.Unmarshal(data, &sub)
		subCh <- sub
		frames := []string{
			`{"event":"systemStatus","status":"online"}`,
			`{"event":"subscriptionStatus","status":"subscribed","pair":"ETH/XBT","subscription":{"name":"book","depth":10}}`,
			`[336,{"as":[["0.0545","1","1"]],"bs":[["0.0543","1","1"]]},"book-10","ETH/XBT"]`,
		}
		for _, frame := range frames {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		<-release
		_ = conn.Close(websocket.StatusGoingAway, "maintenance")
	}))
	defer server.Close()

	client := ws.New("ws"+strings.TrimPrefix(server.URL, "http"), 0, zap.NewNop())
	feed := NewBookFeed(client, []string{"ETH/XBT"}, 10, zap.NewNop())
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	sub := <-subCh
	if sub["event"] != "subscribe" {
		t.Fatalf("unexpected subscribe message %v", sub)
	}
	opts, _ := sub["subscription"].(map[string]any)
	if opts["name"] != "book" || opts["depth"] != float64(10) {
		t.Fatalf("unexpected subscription %v", opts)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(feed.Books()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if feed.Closed() {
		t.Fatalf("expected feed open while session is live")
	}
	close(release)
	deadline = time.Now().Add(2 * time.Second)
	for !feed.Closed() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for feed to close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	feed.Close()
}

func lvl(price, volume string) bookLevel {
	return bookLevel{Price: dec(price), Volume: dec(volume)}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

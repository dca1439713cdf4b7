package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/bean-exchange/internal/feed"
)

func TestHub_BroadcastsToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := feed.NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(feed.Event{Type: feed.TypeTrade, CommodityID: "arabica", Kind: "pool_buy", Quantity: 3, Price: "2.5"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got feed.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != feed.TypeTrade || got.CommodityID != "arabica" || got.Quantity != 3 {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestPublish_NilPublisher(t *testing.T) {
	feed.Publish(nil, feed.Event{Type: feed.TypePriceTick})
}

func httpHandler(h *feed.Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}

func TestHub_StoppedHubClosesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := feed.NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	returned := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r)
		returned <- struct{}{}
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	// Connected before shutdown: its read pump must exit once Run is gone.
	early, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer early.Close()
	<-returned

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial after shutdown: %v", err)
	}
	defer late.Close()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWS blocked after the hub stopped")
	}

	for name, conn := range map[string]*websocket.Conn{"early": early, "late": late} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		var netErr interface{ Timeout() bool }
		if err == nil || (errors.As(err, &netErr) && netErr.Timeout()) {
			t.Errorf("%s connection was not closed by the server: %v", name, err)
		}
	}
}

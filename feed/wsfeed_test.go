package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"optionscalp/domain"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T, messages [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, m); err != nil {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWSFeed_DecodesTicksAndChains(t *testing.T) {
	srv := echoServer(t, [][]byte{[]byte("tick:100.5"), []byte("chain:NIFTY")})
	defer srv.Close()

	decode := func(msg []byte) (*domain.Tick, *domain.ChainUpdate, error) {
		s := string(msg)
		switch {
		case strings.HasPrefix(s, "tick:"):
			price, _ := decimal.NewFromString(strings.TrimPrefix(s, "tick:"))
			return &domain.Tick{LTP: price, Wall: time.Now()}, nil, nil
		case strings.HasPrefix(s, "chain:"):
			return nil, &domain.ChainUpdate{Chain: domain.Chain{Underlying: strings.TrimPrefix(s, "chain:")}}, nil
		default:
			return nil, nil, nil
		}
	}

	f := NewWSFeed(wsURL(srv), decode)
	f.Start()
	defer f.Close()

	select {
	case tick := <-f.Ticks():
		require.True(t, tick.LTP.Equal(decimal.NewFromFloat(100.5)))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	select {
	case cu := <-f.Chains():
		require.Equal(t, "NIFTY", cu.Chain.Underlying)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chain update")
	}
}

func TestWSFeed_FiresUpAndDownCallbacks(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	f := NewWSFeed(wsURL(srv), func(msg []byte) (*domain.Tick, *domain.ChainUpdate, error) { return nil, nil, nil })
	upCh := make(chan struct{}, 1)
	downCh := make(chan struct{}, 1)
	f.OnFeedUp(func() { upCh <- struct{}{} })
	f.OnFeedDown(func() { downCh <- struct{}{} })

	f.Start()
	defer f.Close()

	select {
	case <-upCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed-up callback")
	}
	select {
	case <-downCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed-down callback after server closes connection")
	}
}

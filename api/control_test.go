package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"optionscalp/adaptive"
	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"
	"optionscalp/orchestrator"
	"optionscalp/risk"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// closedFeed satisfies feed.Feed with already-closed channels, so any Loop
// built on it returns from Run immediately: enough for exercising the
// subscribe/unsubscribe lifecycle without a real market-data connection.
type closedFeed struct {
	ticks  chan domain.Tick
	chains chan domain.ChainUpdate
}

func newClosedFeed() *closedFeed {
	f := &closedFeed{ticks: make(chan domain.Tick), chains: make(chan domain.ChainUpdate)}
	close(f.ticks)
	close(f.chains)
	return f
}

func (f *closedFeed) Ticks() <-chan domain.Tick         { return f.ticks }
func (f *closedFeed) Chains() <-chan domain.ChainUpdate { return f.chains }
func (f *closedFeed) OnFeedDown(func())                 {}
func (f *closedFeed) OnFeedUp(func())                   {}
func (f *closedFeed) Close() error                      { return nil }

func newTestServer(t *testing.T) (*Server, *risk.Manager, *adaptive.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clk := clock.NewFixedClock(time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC))
	rm := risk.NewManager(config.DefaultRiskConfig(), clk, decimal.NewFromInt(100000), nil)
	ac := adaptive.NewController(config.DefaultAdaptiveConfig(), clk)

	factory := func(underlying string, expiry time.Time) (*orchestrator.Loop, error) {
		loop := orchestrator.NewLoop(orchestrator.Deps{
			Underlying: underlying,
			Cfg:        config.Default(),
			Clock:      clk,
			Feed:       newClosedFeed(),
			Risk:       rm,
			Adaptive:   ac,
		})
		go func() { _ = loop.Run(context.Background()) }()
		return loop, nil
	}

	return NewServer(rm, ac, clk, factory), rm, ac
}

func newTestRouter(s *Server) *gin.Engine {
	r := gin.New()
	s.Routes(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleStatus_ReportsRiskAndAdaptiveState(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := newTestRouter(s)

	w := doJSON(t, r, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "risk")
	require.Contains(t, body, "adaptive")
}

func TestHandleKillSwitch_SetThenClear(t *testing.T) {
	s, rm, _ := newTestServer(t)
	r := newTestRouter(s)

	w := doJSON(t, r, http.MethodPost, "/kill-switch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, rm.GetStats().KillSwitchEngaged)

	w = doJSON(t, r, http.MethodDelete, "/kill-switch", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, rm.GetStats().KillSwitchEngaged)
}

func TestHandleAdaptiveEmergencyReset(t *testing.T) {
	s, _, ac := newTestServer(t)
	r := newTestRouter(s)

	ac.RecordTrade(domain.FeatureBucket{}, 100, time.Now())
	require.Equal(t, 1, ac.Status().BucketsTracked)

	w := doJSON(t, r, http.MethodPost, "/adaptive/emergency-reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, ac.Status().BucketsTracked)
}

func TestHandleSubscribeAndUnsubscribe_Lifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := newTestRouter(s)

	w := doJSON(t, r, http.MethodPost, "/subscribe", subscribeRequest{Underlying: "NIFTY", Expiry: time.Now().Add(24 * time.Hour)})
	require.Equal(t, http.StatusOK, w.Code)

	// Re-subscribing the same underlying is a no-op, not an error.
	w = doJSON(t, r, http.MethodPost, "/subscribe", subscribeRequest{Underlying: "NIFTY", Expiry: time.Now().Add(24 * time.Hour)})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/unsubscribe", unsubscribeRequest{Underlying: "NIFTY"})
	require.Equal(t, http.StatusOK, w.Code)

	// Unsubscribing again reports not-found.
	w = doJSON(t, r, http.MethodPost, "/unsubscribe", unsubscribeRequest{Underlying: "NIFTY"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

// Package api exposes the control surface of §6.5: process health, the
// risk kill switch, adaptive-controller emergency reset, and runtime
// subscribe/unsubscribe of underlyings, grounded in the teacher's
// tactics.go gin-handler shape (JSON bind, consistent error envelope,
// handlers as methods on a *Server).
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"optionscalp/adaptive"
	"optionscalp/clock"
	"optionscalp/orchestrator"
	"optionscalp/risk"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// LoopFactory constructs and starts a Loop for one underlying/expiry,
// returning a handle the Server can later Stop. cmd/optionscalp supplies
// the concrete factory (it alone has the feed/broker/Greeks/bias wiring).
type LoopFactory func(underlying string, expiry time.Time) (*orchestrator.Loop, error)

// Server is the control-surface HTTP handler. It owns no trading state of
// its own; every handler reads or commands the risk/adaptive actors and
// the running per-underlying loops.
type Server struct {
	risk     *risk.Manager
	adaptive *adaptive.Controller
	newLoop  LoopFactory
	clk      clock.Clock
	startAt  time.Time

	mu    sync.Mutex
	loops map[string]*orchestrator.Loop
}

// NewServer wires a Server over the risk/adaptive actors and a loop
// factory for subscribe/unsubscribe.
func NewServer(rm *risk.Manager, ac *adaptive.Controller, clk clock.Clock, newLoop LoopFactory) *Server {
	return &Server{
		risk:     rm,
		adaptive: ac,
		newLoop:  newLoop,
		clk:      clk,
		startAt:  clk.Now(),
		loops:    make(map[string]*orchestrator.Loop),
	}
}

// Routes registers the control surface on a gin engine.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/status", s.handleStatus)
	r.POST("/kill-switch", s.handleKillSwitchSet)
	r.DELETE("/kill-switch", s.handleKillSwitchClear)
	r.POST("/adaptive/emergency-reset", s.handleAdaptiveEmergencyReset)
	r.POST("/subscribe", s.handleSubscribe)
	r.POST("/unsubscribe", s.handleUnsubscribe)
}

// handleStatus reports the health of the risk layer, adaptive controller,
// and every currently subscribed underlying.
func (s *Server) handleStatus(c *gin.Context) {
	stats := s.risk.GetStats()
	adaptiveStatus := s.adaptive.Status()

	s.mu.Lock()
	underlyings := make([]string, 0, len(s.loops))
	for u := range s.loops {
		underlyings = append(underlyings, u)
	}
	s.mu.Unlock()

	dailyPnL, _ := stats.DailyPnL.Float64()
	dailyLossLimit, _ := stats.DailyLossLimit.Float64()

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": s.clk.Now().Sub(s.startAt).Seconds(),
		"uptime_human":   humanize.RelTime(s.startAt, s.clk.Now(), "", ""),
		"subscribed":     underlyings,
		"risk": gin.H{
			"daily_pnl":           dailyPnL,
			"daily_pnl_human":     humanize.CommafWithDigits(dailyPnL, 2),
			"daily_loss_limit":    dailyLossLimit,
			"consecutive_losses":  stats.ConsecutiveLosses,
			"circuit_tripped":     stats.CircuitTripped,
			"kill_switch_engaged": stats.KillSwitchEngaged,
			"open_positions":      stats.OpenPositions,
			"last_flash_crash_at": stats.LastFlashCrashAt,
			"api_failure_paused_until": stats.APIFailurePausedUntil,
		},
		"adaptive": gin.H{
			"regime":          adaptiveStatus.Regime,
			"applied_today":   adaptiveStatus.AppliedToday,
			"buckets_tracked": adaptiveStatus.BucketsTracked,
			"blocked_buckets": adaptiveStatus.BlockedBuckets,
			"last_eod_run":    adaptiveStatus.LastEODRun,
		},
	})
}

// handleKillSwitchSet engages the risk kill switch, halting all new entries
// until explicitly cleared.
func (s *Server) handleKillSwitchSet(c *gin.Context) {
	s.risk.EngageKillSwitch()
	c.JSON(http.StatusOK, gin.H{"message": "kill switch engaged"})
}

// handleKillSwitchClear releases the risk kill switch.
func (s *Server) handleKillSwitchClear(c *gin.Context) {
	s.risk.ReleaseKillSwitch()
	c.JSON(http.StatusOK, gin.H{"message": "kill switch released"})
}

// handleAdaptiveEmergencyReset wipes all learned adaptive state back to the
// neutral prior, per the adaptive controller's documented escape hatch.
func (s *Server) handleAdaptiveEmergencyReset(c *gin.Context) {
	s.adaptive.EmergencyReset()
	c.JSON(http.StatusOK, gin.H{"message": "adaptive state reset to neutral"})
}

type subscribeRequest struct {
	Underlying string    `json:"underlying" binding:"required"`
	Expiry     time.Time `json:"expiry" binding:"required"`
}

// handleSubscribe starts a new per-underlying event loop. Re-subscribing an
// underlying that is already running is a no-op that reports its current
// state rather than an error.
func (s *Server) handleSubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.loops[req.Underlying]; running {
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("%s already subscribed", req.Underlying)})
		return
	}

	loop, err := s.newLoop(req.Underlying, req.Expiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start loop: " + err.Error()})
		return
	}
	s.loops[req.Underlying] = loop
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("subscribed %s", req.Underlying)})
}

type unsubscribeRequest struct {
	Underlying string `json:"underlying" binding:"required"`
}

// handleUnsubscribe stops a running underlying's loop, flattening any open
// position as part of Loop.Stop's shutdown sequence.
func (s *Server) handleUnsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	s.mu.Lock()
	loop, running := s.loops[req.Underlying]
	delete(s.loops, req.Underlying)
	s.mu.Unlock()

	if !running {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s is not subscribed", req.Underlying)})
		return
	}
	loop.Stop()
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("unsubscribed %s", req.Underlying)})
}

// ExitCode is a process exit code for the §6.5 contract. cmd/optionscalp
// maps terminal conditions (config error, broker auth failure, feed
// unavailable at start, kill-switch-triggered shutdown) to these.
type ExitCode int

const (
	ExitClean               ExitCode = 0
	ExitConfigError         ExitCode = 2
	ExitBrokerAuthError     ExitCode = 3
	ExitFeedUnavailable     ExitCode = 4
	ExitKilledBySafetyLayer ExitCode = 5
)
